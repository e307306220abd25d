package idp

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// PasswordGrantHandler handles the resource owner password grant.
type PasswordGrantHandler struct {
	users     UserStore
	signIn    *SignInManager
	pipeline  *AugmentationPipeline
	resources ScopeResources
	logger    Logger
	provider  LoggerProvider
}

func NewPasswordGrantHandler(users UserStore, signIn *SignInManager, pipeline *AugmentationPipeline, resources ScopeResources) *PasswordGrantHandler {
	provider, logger := ResolveLogger("idp.grant.password", nil, nil)
	return &PasswordGrantHandler{
		users:     users,
		signIn:    signIn,
		pipeline:  pipeline,
		resources: resources,
		logger:    logger,
		provider:  provider,
	}
}

func (h *PasswordGrantHandler) WithLogger(logger Logger) *PasswordGrantHandler {
	h.provider, h.logger = ResolveLogger("idp.grant.password", h.provider, logger)
	return h
}

func (h *PasswordGrantHandler) WithLoggerProvider(provider LoggerProvider) *PasswordGrantHandler {
	h.provider, h.logger = ResolveLogger("idp.grant.password", provider, h.logger)
	return h
}

// HandleGrant verifies the resource owner and builds the principal. Unknown
// users and wrong passwords produce the same invalid_grant error.
func (h *PasswordGrantHandler) HandleGrant(ctx context.Context, gc GrantContext) (*Principal, error) {
	user, err := h.users.GetByEmailOrUsername(ctx, gc.Username())
	if err != nil {
		if isNotFound(err) {
			h.logger.Debug("password grant for unknown user", "client_id", gc.ClientID())
			return nil, errInvalidCredentials()
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password grant")
	}

	result, err := h.signIn.CheckPasswordSignIn(ctx, user, gc.Password(), true)
	if err != nil {
		return nil, err
	}

	switch result {
	case SignInLockedOut:
		return nil, errAccountLocked()
	case SignInFailed:
		return nil, errInvalidCredentials()
	}

	if !user.EmailConfirmed {
		return nil, errEmailUnconfirmed()
	}

	scopes := gc.Scopes()
	if len(scopes) == 0 {
		scopes = DefaultPasswordScopes
	}

	principal := newUserPrincipal(user).
		SetScopes(scopes...).
		SetResources(h.resources.Resolve(scopes)...)

	if err := h.pipeline.Run(ctx, user, principal); err != nil {
		return nil, err
	}

	return principal, nil
}
