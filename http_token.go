package idp

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"golang.org/x/time/rate"
)

// OAuthErrorResponse is the token endpoint error payload.
type OAuthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Exchanger runs a token request.
type Exchanger interface {
	Exchange(ctx context.Context, req GrantRequest) (*TokenResponse, error)
}

// TokenController serves the token endpoint over go-router.
type TokenController struct {
	Path     string
	exchange Exchanger
	limiter  *clientLimiter
	logger   Logger
	provider LoggerProvider
}

type TokenControllerOption func(*TokenController)

// WithClientRateLimit throttles token requests per client id. A zero limit
// disables throttling.
func WithClientRateLimit(limit rate.Limit, burst int) TokenControllerOption {
	return func(c *TokenController) {
		if limit > 0 {
			c.limiter = newClientLimiter(limit, burst)
		}
	}
}

func WithTokenPath(path string) TokenControllerOption {
	return func(c *TokenController) {
		if path != "" {
			c.Path = path
		}
	}
}

func WithTokenControllerLogger(logger Logger) TokenControllerOption {
	return func(c *TokenController) {
		c.provider, c.logger = ResolveLogger("idp.http.token", c.provider, logger)
	}
}

func NewTokenController(exchange Exchanger, opts ...TokenControllerOption) *TokenController {
	provider, logger := ResolveLogger("idp.http.token", nil, nil)
	c := &TokenController{
		Path:     "/oauth/token",
		exchange: exchange,
		logger:   logger,
		provider: provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// RegisterTokenRoutes mounts the token endpoint on app.
func RegisterTokenRoutes[T any](app router.Router[T], controller *TokenController) {
	app.Post(controller.Path, controller.Token).
		SetName("oauth.token")
}

// Token handles POST /oauth/token. Client credentials may be sent in the form
// or with HTTP Basic authentication.
func (c *TokenController) Token(ctx router.Context) error {
	req := GrantRequest{}
	if err := ctx.Bind(&req); err != nil {
		return c.renderError(ctx, NewOAuthError(OAuthInvalidRequest, "the request body could not be parsed"), false)
	}

	basic := false
	if id, secret, ok := basicCredentials(ctx.Header("Authorization")); ok {
		if req.ClientID != "" && req.ClientID != id {
			return c.renderError(ctx, NewOAuthError(OAuthInvalidRequest, "client_id does not match the authorization header"), true)
		}
		req.ClientID, req.ClientSecret, basic = id, secret, true
	}

	if c.limiter != nil && !c.limiter.allow(strings.TrimSpace(req.ClientID)) {
		return c.renderError(ctx, errRateLimited(req.ClientID), basic)
	}

	res, err := c.exchange.Exchange(ctx.Context(), req)
	if err != nil {
		return c.renderError(ctx, err, basic)
	}

	noStore(ctx)
	return ctx.JSON(http.StatusOK, res)
}

func (c *TokenController) renderError(ctx router.Context, err error, basic bool) error {
	status, body := OAuthErrorBody(err)

	if status >= http.StatusInternalServerError {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			c.logger.Error("token endpoint error",
				"error", richErr.Message,
				"category", richErr.Category,
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
		} else {
			c.logger.Error("token endpoint error", "error", err)
		}
	}

	if body.Error == OAuthInvalidClient && basic {
		ctx.SetHeader("WWW-Authenticate", `Basic realm="token"`)
	}

	noStore(ctx)
	return ctx.JSON(status, body)
}

// OAuthErrorBody maps err to the token endpoint status and payload. Server
// errors never expose their message.
func OAuthErrorBody(err error) (int, OAuthErrorResponse) {
	code := OAuthErrorCode(err)

	var richErr *goerrors.Error
	if code == OAuthServerError || !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError, OAuthErrorResponse{
			Error:            OAuthServerError,
			ErrorDescription: "an unexpected error occurred",
		}
	}

	status := richErr.Code
	if status == 0 {
		status = http.StatusBadRequest
	}
	return status, OAuthErrorResponse{Error: code, ErrorDescription: richErr.Message}
}

func noStore(ctx router.Context) {
	ctx.SetHeader("Cache-Control", "no-store")
	ctx.SetHeader("Pragma", "no-cache")
}

// basicCredentials decodes an HTTP Basic authorization header.
func basicCredentials(header string) (string, string, bool) {
	if header == "" {
		return "", "", false
	}
	r := &http.Request{Header: http.Header{"Authorization": {header}}}
	return r.BasicAuth()
}

func errRateLimited(clientID string) *goerrors.Error {
	return NewOAuthError(OAuthTemporarilyUnavail, "too many token requests").
		WithMetadata(map[string]any{"client_id": clientID})
}

// clientLimiter keeps one token bucket per client id. Idle buckets are
// dropped so unknown client ids cannot grow the map without bound. The map is
// swept at most once per idle interval.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	buckets   map[string]*clientBucket
}

type clientBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limit:   limit,
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
		buckets: map[string]*clientBucket{},
	}
}

func (l *clientLimiter) allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}

	b, ok := l.buckets[clientID]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[clientID] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

func (l *clientLimiter) sweep(now time.Time) {
	for id, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, id)
		}
	}
	l.lastSweep = now
}
