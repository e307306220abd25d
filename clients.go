package idp

import (
	"context"
	"errors"
	"fmt"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Client is a registered OAuth client. Clients without a SecretHash are
// public and cannot use the client credentials grant.
type Client struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name,omitempty"`
	SecretHash             string   `json:"secret_hash,omitempty"`
	RedirectURIs           []string `json:"redirect_uris,omitempty"`
	AllowPasswordGrant     bool     `json:"allow_password_grant,omitempty"`
	AllowClientCredentials bool     `json:"allow_client_credentials,omitempty"`
	AllowAuthorizationCode bool     `json:"allow_authorization_code,omitempty"`
	AllowRefreshToken      bool     `json:"allow_refresh_token,omitempty"`
}

// Validate implements validation.Validatable.
func (c Client) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required, validation.Length(1, 128)),
		validation.Field(&c.RedirectURIs, validation.By(func(any) error {
			if c.AllowAuthorizationCode && len(c.RedirectURIs) == 0 {
				return errors.New("required when the authorization code grant is allowed")
			}
			return nil
		})),
	)
}

// Confidential reports whether the client authenticates with a secret.
func (c Client) Confidential() bool {
	return c.SecretHash != ""
}

// AllowsRedirect reports whether uri is registered for the client.
func (c Client) AllowsRedirect(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// ClientOptions is the static client registry snapshot loaded at startup.
type ClientOptions struct {
	Clients []Client `json:"clients"`
}

// Validate checks every client and rejects duplicate ids.
func (o ClientOptions) Validate() error {
	seen := make(map[string]struct{}, len(o.Clients))
	for _, c := range o.Clients {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, ok := seen[c.ID]; ok {
			return validation.Errors{"clients": fmt.Errorf("duplicate client id %q", c.ID)}
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// Find looks up a client by id.
func (o ClientOptions) Find(id string) (Client, bool) {
	for _, c := range o.Clients {
		if c.ID == id {
			return c, true
		}
	}
	return Client{}, false
}

// ClientAuthenticator authenticates the client of a token request.
type ClientAuthenticator interface {
	AuthenticateClient(ctx context.Context, gc GrantContext) (Client, error)
}

// StaticClientAuthenticator authenticates against a ClientOptions snapshot.
type StaticClientAuthenticator struct {
	options ClientOptions
}

func NewStaticClientAuthenticator(options ClientOptions) *StaticClientAuthenticator {
	return &StaticClientAuthenticator{options: options}
}

// AuthenticateClient returns invalid_client for unknown clients, for a
// secret that does not match, and for a secret sent to a public client.
func (a *StaticClientAuthenticator) AuthenticateClient(ctx context.Context, gc GrantContext) (Client, error) {
	if err := ctx.Err(); err != nil {
		return Client{}, err
	}

	client, ok := a.options.Find(gc.ClientID())
	if !ok {
		return Client{}, NewOAuthError(OAuthInvalidClient, "client authentication failed")
	}

	if !client.Confidential() {
		if gc.ClientSecret() != "" {
			return Client{}, NewOAuthError(OAuthInvalidClient, "client authentication failed")
		}
		return client, nil
	}

	if gc.ClientSecret() == "" {
		return Client{}, NewOAuthError(OAuthInvalidClient, "client authentication failed")
	}

	if err := ComparePasswordAndHash(gc.ClientSecret(), client.SecretHash); err != nil {
		return Client{}, NewOAuthError(OAuthInvalidClient, "client authentication failed")
	}

	return client, nil
}
