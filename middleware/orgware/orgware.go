// Package orgware establishes the organization scope of a request. The scope
// lives on the request context.Context, so it ends with the request.
package orgware

import (
	"context"
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"

	idp "github.com/goliatone/go-idp"
)

// Resolver is the subset of idp.OrganizationResolver the middleware needs.
type Resolver interface {
	Header() string
	Resolve(ctx context.Context, req idp.ResolveRequest) (*idp.OrganizationContext, error)
}

type Config struct {
	Resolver Resolver
	// ClaimsFromContext reads the caller claims. Defaults to
	// idp.AccessClaimsFromContext, which jwtware populates.
	ClaimsFromContext func(context.Context) (idp.AccessClaims, bool)
	// ErrorHandler renders rejections for go-router. The pipeline halts
	// whatever it returns.
	ErrorHandler router.ErrorHandler
	// HTTPErrorHandler renders rejections for net/http.
	HTTPErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// ErrorBody is the JSON payload of a rejection.
type ErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Resolver == nil {
		panic("IDP: organization middleware configuration: Resolver is required.")
	}

	if cfg.ClaimsFromContext == nil {
		cfg.ClaimsFromContext = idp.AccessClaimsFromContext
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			status, body := Render(err)
			return c.JSON(status, body)
		}
	}

	if cfg.HTTPErrorHandler == nil {
		cfg.HTTPErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			status, body := Render(err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
		}
	}

	return cfg
}

// New returns the go-router middleware.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			stdCtx := ctx.Context()
			scoped, err := establish(stdCtx, cfg, ctx.Path(), ctx.Header(cfg.Resolver.Header()))
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}
			if scoped != stdCtx {
				ctx.SetContext(scoped)
			}
			return ctx.Next()
		}
	}
}

// NewHTTP returns the net/http middleware.
func NewHTTP(config ...Config) func(http.Handler) http.Handler {
	cfg := GetDefaultConfig(config...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scoped, err := establish(r.Context(), cfg, r.URL.Path, r.Header.Get(cfg.Resolver.Header()))
			if err != nil {
				cfg.HTTPErrorHandler(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(scoped))
		})
	}
}

func establish(ctx context.Context, cfg Config, path, header string) (context.Context, error) {
	claims, _ := cfg.ClaimsFromContext(ctx)

	oc, err := cfg.Resolver.Resolve(ctx, idp.ResolveRequest{
		Path:   path,
		Header: header,
		Claims: claims,
	})
	if err != nil {
		return ctx, err
	}
	if oc == nil {
		return ctx, nil
	}

	return idp.WithOrganization(ctx, oc)
}

// Render maps err to a status code and body.
func Render(err error) (int, ErrorBody) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError, ErrorBody{
			Error:            "server_error",
			ErrorDescription: "an unexpected error occurred",
		}
	}

	status := richErr.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := ErrorBody{Error: richErr.TextCode, ErrorDescription: richErr.Message}
	if status >= http.StatusInternalServerError {
		body = ErrorBody{Error: "server_error", ErrorDescription: "an unexpected error occurred"}
	}
	if body.Error == "" {
		body.Error = http.StatusText(status)
	}
	return status, body
}
