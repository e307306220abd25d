package idp

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/goliatone/go-idp"

// TokenIssuer signs the tokens for an established principal.
type TokenIssuer interface {
	Issue(ctx context.Context, principal *Principal, clientID string, grant GrantType) (*TokenResponse, error)
}

// TokenEndpoint processes token requests: grant validation, client
// authentication, the grant handler and finally token issuance.
type TokenEndpoint struct {
	validators []GrantValidator
	clients    ClientAuthenticator
	handlers   map[GrantType]GrantHandler
	tokens     TokenIssuer
	activity   ActivitySink
	tracer     trace.Tracer
	logger     Logger
	provider   LoggerProvider
}

// TokenEndpointOption configures a TokenEndpoint.
type TokenEndpointOption func(*TokenEndpoint)

// WithGrantHandler registers the handler for a grant type.
func WithGrantHandler(grantType GrantType, handler GrantHandler) TokenEndpointOption {
	return func(e *TokenEndpoint) {
		if handler != nil {
			e.handlers[grantType] = handler
		}
	}
}

func WithTokenEndpointLogger(logger Logger) TokenEndpointOption {
	return func(e *TokenEndpoint) {
		e.provider, e.logger = ResolveLogger("idp.token_endpoint", e.provider, logger)
	}
}

func WithTokenEndpointLoggerProvider(provider LoggerProvider) TokenEndpointOption {
	return func(e *TokenEndpoint) {
		e.provider, e.logger = ResolveLogger("idp.token_endpoint", provider, e.logger)
	}
}

func WithTokenEndpointActivitySink(sink ActivitySink) TokenEndpointOption {
	return func(e *TokenEndpoint) {
		e.activity = normalizeActivitySink(sink)
	}
}

func WithTokenEndpointTracer(tracer trace.Tracer) TokenEndpointOption {
	return func(e *TokenEndpoint) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func NewTokenEndpoint(validators []GrantValidator, clients ClientAuthenticator, tokens TokenIssuer, opts ...TokenEndpointOption) *TokenEndpoint {
	provider, logger := ResolveLogger("idp.token_endpoint", nil, nil)
	e := &TokenEndpoint{
		validators: append([]GrantValidator(nil), validators...),
		clients:    clients,
		handlers:   make(map[GrantType]GrantHandler),
		tokens:     tokens,
		activity:   normalizeActivitySink(nil),
		tracer:     otel.Tracer(instrumentationName),
		logger:     logger,
		provider:   provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Exchange runs a token request end to end. Every failure is terminal and is
// returned as an OAuth error or a wrapped internal error.
func (e *TokenEndpoint) Exchange(ctx context.Context, req GrantRequest) (res *TokenResponse, err error) {
	ctx, span := e.tracer.Start(ctx, "idp.token.exchange", trace.WithAttributes(
		attribute.String("oauth.grant_type", req.GrantType),
		attribute.String("oauth.client_id", req.ClientID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, OAuthErrorCode(err))
		}
		span.End()
	}()

	gc, err := NewGrantContext(req)
	if err != nil {
		return nil, err
	}

	handler, ok := e.handlers[gc.GrantType()]
	if !ok {
		return nil, e.reject(ctx, gc, NewOAuthError(OAuthUnsupportedGrantType, "the grant type is not supported"))
	}

	for _, v := range e.validators {
		if err := v.ValidateGrant(ctx, gc); err != nil {
			return nil, e.reject(ctx, gc, err)
		}
	}

	client, err := e.clients.AuthenticateClient(ctx, gc)
	if err != nil {
		return nil, e.reject(ctx, gc, err)
	}

	if gc.GrantType() == GrantTypeClientCredentials && !client.Confidential() {
		return nil, e.reject(ctx, gc, NewOAuthError(OAuthUnauthorizedClient, "public clients cannot use the client credentials grant"))
	}

	gc = gc.WithClient(client)

	principal, err := handler.HandleGrant(ctx, gc)
	if err != nil {
		return nil, e.reject(ctx, gc, err)
	}

	res, err = e.tokens.Issue(ctx, principal, client.ID, gc.GrantType())
	if err != nil {
		return nil, e.reject(ctx, gc, err)
	}

	span.SetAttributes(attribute.String("oauth.subject", principal.Subject()))
	recordActivity(ctx, e.activity, e.logger, ActivityEvent{
		EventType: ActivityEventTokenIssued,
		UserID:    principal.Subject(),
		ClientID:  client.ID,
		GrantType: string(gc.GrantType()),
		Outcome:   "issued",
		Metadata:  map[string]any{"scope": res.Scope},
	})

	return res, nil
}

func (e *TokenEndpoint) reject(ctx context.Context, gc GrantContext, err error) error {
	code := OAuthErrorCode(err)
	if code == OAuthServerError {
		e.logger.Error("token request failed", "grant_type", gc.GrantType(), "client_id", gc.ClientID(), "error", err)
	} else {
		e.logger.Debug("token request rejected", "grant_type", gc.GrantType(), "client_id", gc.ClientID(), "error", code)
	}

	recordActivity(ctx, e.activity, e.logger, ActivityEvent{
		EventType: ActivityEventTokenRejected,
		ClientID:  gc.ClientID(),
		GrantType: string(gc.GrantType()),
		Outcome:   code,
	})
	return err
}
