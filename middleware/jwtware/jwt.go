package jwtware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup       = "header:" + router.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
	ErrForbidden             = errors.New("insufficient token privileges")
	ErrUnexpectedTokenUse    = errors.New("unexpected token use")
)

// TokenUseAccess is the token_use value carried by access tokens.
const TokenUseAccess = "access"

// TokenValidator validates raw tokens. It mirrors idp.TokenValidator so this
// package does not depend on the provider core.
type TokenValidator interface {
	Validate(tokenString string) (AccessClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AccessClaims, error)

func (f TokenValidatorFunc) Validate(tokenString string) (AccessClaims, error) {
	return f(tokenString)
}

// AccessClaims is the read side of an access token the middleware checks.
type AccessClaims interface {
	Subject() string
	Client() string
	HasScope(scope string) bool
	HasPermission(permission string) bool
	HasRole(role string) bool
	MemberOf(organizationID string) bool
}

// ValidationListener is invoked after a token has been validated but before authorization checks.
type ValidationListener func(ctx router.Context, claims AccessClaims) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	SigningKey     SigningKey
	SigningKeys    map[string]SigningKey
	ContextKey     string
	TokenLookup    string
	AuthScheme     string
	KeyFunc        jwt.Keyfunc
	// JWKSetURLs lets a resource server trust tokens from a remote issuer.
	JWKSetURLs []string
	// TokenValidator takes precedence over the key settings. Without it the
	// middleware parses tokens into Claims using KeyFunc.
	TokenValidator TokenValidator
	// TokenUse is the token_use claim the default validator requires.
	// Defaults to "access" so refresh and identity tokens are refused.
	TokenUse string

	RequiredScopes      []string
	RequiredPermissions []string
	RequiredRole        string

	// ContextEnricher is an optional function to propagate claims to the standard
	// Go context. If provided, it will be called after successful token validation.
	ContextEnricher func(c context.Context, claims AccessClaims) context.Context

	// ValidationListeners are invoked after token validation succeeds.
	ValidationListeners []ValidationListener
}

type SigningKey struct {
	JWTAlg string
	Key    any
}

func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			a, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.TokenValidator.Validate(a)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := cfg.runValidationListeners(ctx, claims); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := performAuthorizationChecks(claims, cfg); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, claims)

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), claims))
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

func performAuthorizationChecks(claims AccessClaims, cfg Config) error {
	for _, scope := range cfg.RequiredScopes {
		if !claims.HasScope(scope) {
			return fmt.Errorf("%w: scope %q required", ErrForbidden, scope)
		}
	}

	for _, permission := range cfg.RequiredPermissions {
		if !claims.HasPermission(permission) {
			return fmt.Errorf("%w: permission %q required", ErrForbidden, permission)
		}
	}

	if cfg.RequiredRole != "" && !claims.HasRole(cfg.RequiredRole) {
		return fmt.Errorf("%w: role %q required", ErrForbidden, cfg.RequiredRole)
	}

	return nil
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.TokenUse == "" {
		cfg.TokenUse = TokenUseAccess
	}

	if cfg.TokenValidator != nil {
		return cfg
	}

	if cfg.SigningKey.Key == nil && len(cfg.SigningKeys) == 0 && len(cfg.JWKSetURLs) == 0 && cfg.KeyFunc == nil {
		panic("IDP: JWT middleware configuration: one of TokenValidator, KeyFunc, JWKSetURLs, SigningKeys or SigningKey is required.")
	}

	if cfg.KeyFunc == nil {
		if len(cfg.SigningKeys) > 0 || len(cfg.JWKSetURLs) > 0 {
			var givenKeys map[string]keyfunc.GivenKey
			if cfg.SigningKeys != nil {
				givenKeys = make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
				for kid, key := range cfg.SigningKeys {
					givenKeys[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
						Algorithm: key.JWTAlg,
					})
				}
			}
			if len(cfg.JWKSetURLs) > 0 {
				var err error
				cfg.KeyFunc, err = multiKeyfunc(givenKeys, cfg.JWKSetURLs)
				if err != nil {
					panic("Failed to create keyfunc from JWK Set URL: " + err.Error())
				}
			} else {
				cfg.KeyFunc = keyfunc.NewGiven(givenKeys).Keyfunc
			}
		} else {
			cfg.KeyFunc = signingKeyFunc(cfg.SigningKey)
		}
	}

	cfg.TokenValidator = TokenUseValidator(cfg.KeyFunc, cfg.TokenUse)

	return cfg
}

// DefaultErrorHandler answers 400 for a missing token, 403 for failed
// authorization checks and 401 otherwise.
func DefaultErrorHandler(c router.Context, err error) error {
	switch {
	case errors.Is(err, ErrJWTMissingOrMalformed):
		return c.Status(router.StatusBadRequest).SendString(ErrJWTMissingOrMalformed.Error())
	case errors.Is(err, ErrForbidden):
		return c.Status(router.StatusForbidden).SendString("Forbidden")
	}
	return c.Status(router.StatusUnauthorized).SendString("Invalid or expired token")
}

// KeyfuncValidator parses access tokens into Claims, resolving keys with kf.
func KeyfuncValidator(kf jwt.Keyfunc) TokenValidator {
	return TokenUseValidator(kf, TokenUseAccess)
}

// TokenUseValidator is KeyfuncValidator for tokens whose token_use claim
// must equal use.
func TokenUseValidator(kf jwt.Keyfunc, use string) TokenValidator {
	return TokenValidatorFunc(func(tokenString string) (AccessClaims, error) {
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, kf)
		if err != nil {
			return nil, err
		}
		if !token.Valid {
			return nil, errors.New("token is not valid")
		}
		if claims.TokenUse != use {
			return nil, fmt.Errorf("%w: %q", ErrUnexpectedTokenUse, claims.TokenUse)
		}
		return claims, nil
	})
}

// Claims is the access token payload as seen by a resource server.
type Claims struct {
	jwt.RegisteredClaims
	TokenUse        string   `json:"token_use"`
	ClientID        string   `json:"client_id,omitempty"`
	Scope           string   `json:"scope,omitempty"`
	OrganizationID  string   `json:"organization_id,omitempty"`
	OrganizationIDs []string `json:"organizations,omitempty"`
	RoleNames       []string `json:"roles,omitempty"`
	PermissionNames []string `json:"permissions,omitempty"`
	OrgPermissions  []string `json:"org_permissions,omitempty"`
}

func (c *Claims) Subject() string       { return c.RegisteredClaims.Subject }
func (c *Claims) Client() string        { return c.ClientID }
func (c *Claims) Scopes() []string      { return strings.Fields(c.Scope) }
func (c *Claims) Roles() []string       { return slices.Clone(c.RoleNames) }
func (c *Claims) Permissions() []string { return slices.Clone(c.PermissionNames) }

func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

func (c *Claims) HasPermission(permission string) bool {
	return slices.Contains(c.PermissionNames, permission)
}

// HasOrganizationPermission matches the "<organization id>:<permission>"
// entries of the org_permissions claim.
func (c *Claims) HasOrganizationPermission(organizationID, permission string) bool {
	if strings.TrimSpace(organizationID) == "" {
		return false
	}
	want := strings.TrimSpace(organizationID) + ":" + permission
	return slices.ContainsFunc(c.OrgPermissions, func(v string) bool {
		return strings.EqualFold(v, want)
	})
}

func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.RoleNames, role)
}

func (c *Claims) Organizations() []string {
	return slices.Clone(c.OrganizationIDs)
}

func (c *Claims) MemberOf(organizationID string) bool {
	return slices.ContainsFunc(c.OrganizationIDs, func(id string) bool {
		return strings.EqualFold(id, organizationID)
	})
}

func (c *Claims) ActiveOrganizationID() string {
	return c.OrganizationID
}

func (c *Claims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (c *Claims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

func multiKeyfunc(givenKeys map[string]keyfunc.GivenKey, jwtSetUrls []string) (jwt.Keyfunc, error) {
	opts := keyfuncOptions(givenKeys)
	m := make(map[string]keyfunc.Options, len(jwtSetUrls))
	for _, url := range jwtSetUrls {
		m[url] = opts
	}
	mopts := keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	}
	multi, err := keyfunc.GetMultiple(m, mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWK sets: %w", err)
	}
	return multi.Keyfunc, nil
}

func keyfuncOptions(givenKeys map[string]keyfunc.GivenKey) keyfunc.Options {
	return keyfunc.Options{
		GivenKeys: givenKeys,
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWK set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims AccessClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:jwt,query:access_token
	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, jwtFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(parts[1]))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(parts[1]))
		}
	}

	return extractors
}

type JWTExtractor func(c router.Context) (string, error)

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	authScheme = strings.TrimSpace(authScheme)
	return func(c router.Context) (string, error) {
		a := c.Header(header)
		l := len(authScheme)
		if l == 0 {
			return "", ErrJWTMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func signingKeyFunc(key SigningKey) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if key.JWTAlg != "" {
			alg, ok := token.Header["alg"].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected JWT signing method: expected %q got: missing json type", key.JWTAlg)
			}
			if alg != key.JWTAlg {
				return nil, fmt.Errorf("unexpected jwt signing method: expected: %q: got: %q", key.JWTAlg, alg)
			}
		}
		return key.Key, nil
	}
}
