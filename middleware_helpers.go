package idp

import (
	"context"

	"github.com/goliatone/go-router"

	"github.com/goliatone/go-idp/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so callers need not import it.
type ValidationListener = jwtware.ValidationListener

// ContextEnricher stores validated claims where AccessClaimsFromContext finds
// them. Claims that do not come from this package are left out.
func ContextEnricher(c context.Context, claims jwtware.AccessClaims) context.Context {
	ac, ok := claims.(AccessClaims)
	if !ok {
		return c
	}
	return WithAccessClaims(c, ac)
}

// JWTConfig is the jwtware configuration used by ProtectedRoute.
func JWTConfig(validator TokenValidator, permissions ...string) jwtware.Config {
	return jwtware.Config{
		TokenValidator: jwtware.TokenValidatorFunc(func(raw string) (jwtware.AccessClaims, error) {
			claims, err := validator.Validate(raw)
			if err != nil {
				return nil, err
			}
			return claims, nil
		}),
		RequiredPermissions: permissions,
		ContextEnricher:     ContextEnricher,
	}
}

// ProtectedRoute validates bearer access tokens and requires every listed
// permission.
func ProtectedRoute(validator TokenValidator, permissions ...string) router.MiddlewareFunc {
	return jwtware.New(JWTConfig(validator, permissions...))
}

// RegisterValidationListeners appends listeners to cfg.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}
