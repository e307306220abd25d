package idp

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// PrincipalRefresher re-runs the augmentation pipeline on a principal that was
// established earlier (an authorization code or a refresh token) so that
// organization, role and permission claims reflect the current state of the
// store instead of the state at issuance.
type PrincipalRefresher struct {
	users    UserStore
	pipeline *AugmentationPipeline
	now      func() time.Time
	logger   Logger
	provider LoggerProvider
}

func NewPrincipalRefresher(users UserStore, pipeline *AugmentationPipeline) *PrincipalRefresher {
	provider, logger := ResolveLogger("idp.grant.refresher", nil, nil)
	return &PrincipalRefresher{
		users:    users,
		pipeline: pipeline,
		now:      time.Now,
		logger:   logger,
		provider: provider,
	}
}

func (r *PrincipalRefresher) WithLogger(logger Logger) *PrincipalRefresher {
	r.provider, r.logger = ResolveLogger("idp.grant.refresher", r.provider, logger)
	return r
}

func (r *PrincipalRefresher) WithClock(now func() time.Time) *PrincipalRefresher {
	if now != nil {
		r.now = now
	}
	return r
}

// Refresh strips augmentor owned claims and rebuilds them for the current
// user. It does nothing when the principal has no subject or the subject is
// not a user id.
func (r *PrincipalRefresher) Refresh(ctx context.Context, principal *Principal) error {
	if principal == nil {
		return nil
	}

	subject := principal.Subject()
	userID, err := uuid.Parse(subject)
	if subject == "" || err != nil {
		r.logger.Debug("principal refresh skipped", "subject", subject)
		return nil
	}

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return NewOAuthError(OAuthInvalidGrant, "the user no longer exists")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reload user for principal refresh")
	}

	if user.IsDeleted() {
		return NewOAuthError(OAuthInvalidGrant, "the user no longer exists")
	}

	if user.IsLockedOut(r.now()) {
		return errAccountLocked()
	}

	principal.RemoveClaims(r.pipeline.OwnedClaimTypes()...)
	return r.pipeline.Run(ctx, user, principal)
}

// AuthorizationCodeGrantHandler redeems a one-time code and refreshes the
// resulting principal.
type AuthorizationCodeGrantHandler struct {
	codes     AuthorizationCodeStore
	users     UserStore
	refresher *PrincipalRefresher
	resources ScopeResources
	now       func() time.Time
}

func NewAuthorizationCodeGrantHandler(codes AuthorizationCodeStore, users UserStore, refresher *PrincipalRefresher, resources ScopeResources) *AuthorizationCodeGrantHandler {
	return &AuthorizationCodeGrantHandler{
		codes:     codes,
		users:     users,
		refresher: refresher,
		resources: resources,
		now:       time.Now,
	}
}

func (h *AuthorizationCodeGrantHandler) WithClock(now func() time.Time) *AuthorizationCodeGrantHandler {
	if now != nil {
		h.now = now
	}
	return h
}

func (h *AuthorizationCodeGrantHandler) HandleGrant(ctx context.Context, gc GrantContext) (*Principal, error) {
	code, err := h.codes.Redeem(ctx, gc.Code(), h.now())
	if err != nil {
		if isNotFound(err) {
			return nil, NewOAuthError(OAuthInvalidGrant, "the authorization code is invalid or expired")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to redeem authorization code")
	}

	if code.ClientID != gc.ClientID() {
		return nil, NewOAuthError(OAuthInvalidGrant, "the authorization code was issued to another client")
	}

	if code.RedirectURI != "" && code.RedirectURI != gc.RedirectURI() {
		return nil, NewOAuthError(OAuthInvalidGrant, "redirect_uri does not match the authorization request")
	}

	if uri := gc.RedirectURI(); uri != "" {
		if client, ok := gc.Client(); ok && !client.AllowsRedirect(uri) {
			return nil, NewOAuthError(OAuthInvalidGrant, "redirect_uri is not registered for the client")
		}
	}

	user, err := h.users.GetByID(ctx, code.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, NewOAuthError(OAuthInvalidGrant, "the user no longer exists")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user for authorization code")
	}

	scopes := ParseScopes(code.Scope)
	principal := newUserPrincipal(user).
		SetScopes(scopes...).
		SetResources(h.resources.Resolve(scopes)...)

	if err := h.refresher.Refresh(ctx, principal); err != nil {
		return nil, err
	}

	return principal, nil
}

// RefreshTokenParser restores the principal snapshot carried by a refresh token.
type RefreshTokenParser interface {
	ParseRefreshToken(raw string) (*RefreshTokenClaims, error)
}

// RefreshTokenGrantHandler exchanges a refresh token for new tokens.
type RefreshTokenGrantHandler struct {
	tokens    RefreshTokenParser
	refresher *PrincipalRefresher
}

func NewRefreshTokenGrantHandler(tokens RefreshTokenParser, refresher *PrincipalRefresher) *RefreshTokenGrantHandler {
	return &RefreshTokenGrantHandler{tokens: tokens, refresher: refresher}
}

func (h *RefreshTokenGrantHandler) HandleGrant(ctx context.Context, gc GrantContext) (*Principal, error) {
	claims, err := h.tokens.ParseRefreshToken(gc.RefreshToken())
	if err != nil {
		return nil, NewOAuthError(OAuthInvalidGrant, "the refresh token is invalid or expired")
	}

	if claims.ClientID != gc.ClientID() {
		return nil, NewOAuthError(OAuthInvalidGrant, "the refresh token was issued to another client")
	}

	principal := claims.Principal()

	if requested := gc.Scopes(); len(requested) > 0 {
		for _, scope := range requested {
			if !principal.HasScope(scope) {
				return nil, NewOAuthError(OAuthInvalidGrant, "the requested scope exceeds the original grant")
			}
		}
		principal.SetScopes(requested...)
	}

	if err := h.refresher.Refresh(ctx, principal); err != nil {
		return nil, err
	}

	return principal, nil
}
