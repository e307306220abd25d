package idp

import (
	"context"
	"sync"
)

// GrantValidator runs before client authentication, credential checks and
// signing. It returns nil or an unauthorized_client error.
type GrantValidator interface {
	ValidateGrant(ctx context.Context, gc GrantContext) error
}

// GrantValidatorFunc adapts a function into a GrantValidator.
type GrantValidatorFunc func(ctx context.Context, gc GrantContext) error

func (f GrantValidatorFunc) ValidateGrant(ctx context.Context, gc GrantContext) error {
	if f == nil {
		return nil
	}
	return f(ctx, gc)
}

// ClientGrantValidator rejects a grant type for clients not flagged to use
// it. Requests for other grant types pass through untouched.
type ClientGrantValidator struct {
	grantType   GrantType
	options     ClientOptions
	allows      func(Client) bool
	description string

	once    sync.Once
	allowed map[string]struct{}
}

// NewPasswordGrantValidator gates the password grant on AllowPasswordGrant.
func NewPasswordGrantValidator(options ClientOptions) *ClientGrantValidator {
	return &ClientGrantValidator{
		grantType:   GrantTypePassword,
		options:     options,
		allows:      func(c Client) bool { return c.AllowPasswordGrant },
		description: "the client is not allowed to use the password grant",
	}
}

// NewClientCredentialsGrantValidator gates the client credentials grant on
// AllowClientCredentials, independently of the password flag.
func NewClientCredentialsGrantValidator(options ClientOptions) *ClientGrantValidator {
	return &ClientGrantValidator{
		grantType:   GrantTypeClientCredentials,
		options:     options,
		allows:      func(c Client) bool { return c.AllowClientCredentials },
		description: "the client is not allowed to use the client credentials grant",
	}
}

// NewAuthorizationCodeGrantValidator gates the authorization code grant.
func NewAuthorizationCodeGrantValidator(options ClientOptions) *ClientGrantValidator {
	return &ClientGrantValidator{
		grantType:   GrantTypeAuthorizationCode,
		options:     options,
		allows:      func(c Client) bool { return c.AllowAuthorizationCode },
		description: "the client is not allowed to use the authorization code grant",
	}
}

// NewRefreshTokenGrantValidator gates the refresh token grant.
func NewRefreshTokenGrantValidator(options ClientOptions) *ClientGrantValidator {
	return &ClientGrantValidator{
		grantType:   GrantTypeRefreshToken,
		options:     options,
		allows:      func(c Client) bool { return c.AllowRefreshToken },
		description: "the client is not allowed to use the refresh token grant",
	}
}

// DefaultGrantValidators returns a validator per supported grant type.
func DefaultGrantValidators(options ClientOptions) []GrantValidator {
	return []GrantValidator{
		NewPasswordGrantValidator(options),
		NewClientCredentialsGrantValidator(options),
		NewAuthorizationCodeGrantValidator(options),
		NewRefreshTokenGrantValidator(options),
	}
}

func (v *ClientGrantValidator) ValidateGrant(ctx context.Context, gc GrantContext) error {
	if gc.GrantType() != v.grantType {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, ok := v.allowedClients()[gc.ClientID()]; !ok {
		return NewOAuthError(OAuthUnauthorizedClient, v.description)
	}

	return nil
}

// allowedClients is computed once from the options snapshot and only read
// afterwards.
func (v *ClientGrantValidator) allowedClients() map[string]struct{} {
	v.once.Do(func() {
		v.allowed = make(map[string]struct{}, len(v.options.Clients))
		for _, c := range v.options.Clients {
			if v.allows(c) {
				v.allowed[c.ID] = struct{}{}
			}
		}
	})
	return v.allowed
}
