package idp

import (
	"context"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

// GrantType names an OAuth2 grant.
type GrantType string

const (
	GrantTypePassword          GrantType = "password"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

// GrantRequest is the raw token request as read off the wire.
type GrantRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
	Username     string `form:"username" json:"username"`
	Password     string `form:"password" json:"password"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
	Code         string `form:"code" json:"code"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
	Scope        string `form:"scope" json:"scope"`
}

// Validate checks that the fields required by the grant type are present.
func (r GrantRequest) Validate() error {
	gt := GrantType(r.GrantType)
	return validation.ValidateStruct(&r,
		validation.Field(&r.GrantType, validation.Required),
		validation.Field(&r.ClientID, validation.Required),
		validation.Field(&r.Username, requiredFor(gt, GrantTypePassword)),
		validation.Field(&r.Password, requiredFor(gt, GrantTypePassword)),
		validation.Field(&r.Code, requiredFor(gt, GrantTypeAuthorizationCode)),
		validation.Field(&r.RefreshToken, requiredFor(gt, GrantTypeRefreshToken)),
	)
}

func requiredFor(actual, expected GrantType) validation.Rule {
	return validation.By(func(value any) error {
		if actual != expected {
			return nil
		}
		return validation.Validate(value, validation.Required)
	})
}

// GrantContext is the immutable, request scoped view of a token request.
type GrantContext struct {
	grantType    GrantType
	clientID     string
	clientSecret string
	username     string
	password     string
	refreshToken string
	code         string
	redirectURI  string
	scopes       []string
	client       *Client
}

// NewGrantContext validates req and freezes it. Validation failures are
// returned as invalid_request.
func NewGrantContext(req GrantRequest) (GrantContext, error) {
	req.GrantType = strings.TrimSpace(req.GrantType)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.Username = strings.TrimSpace(req.Username)

	if err := req.Validate(); err != nil {
		return GrantContext{}, NewOAuthError(OAuthInvalidRequest, err.Error())
	}

	return GrantContext{
		grantType:    GrantType(req.GrantType),
		clientID:     req.ClientID,
		clientSecret: req.ClientSecret,
		username:     req.Username,
		password:     req.Password,
		refreshToken: req.RefreshToken,
		code:         req.Code,
		redirectURI:  req.RedirectURI,
		scopes:       ParseScopes(req.Scope),
	}, nil
}

func (g GrantContext) GrantType() GrantType   { return g.grantType }
func (g GrantContext) ClientID() string       { return g.clientID }
func (g GrantContext) ClientSecret() string   { return g.clientSecret }
func (g GrantContext) Username() string       { return g.username }
func (g GrantContext) Password() string       { return g.password }
func (g GrantContext) RefreshToken() string   { return g.refreshToken }
func (g GrantContext) Code() string           { return g.code }
func (g GrantContext) RedirectURI() string    { return g.redirectURI }
func (g GrantContext) Scopes() []string       { return slices.Clone(g.scopes) }
func (g GrantContext) HasScope(s string) bool { return slices.Contains(g.scopes, s) }

// WithClient returns a copy of g bound to the authenticated client.
func (g GrantContext) WithClient(client Client) GrantContext {
	g.client = &client
	return g
}

// Client returns the authenticated client, once the endpoint has bound one.
func (g GrantContext) Client() (Client, bool) {
	if g.client == nil {
		return Client{}, false
	}
	return *g.client, true
}

// GrantHandler turns a validated grant into a principal ready for signing.
type GrantHandler interface {
	HandleGrant(ctx context.Context, gc GrantContext) (*Principal, error)
}

// GrantHandlerFunc adapts a function into a GrantHandler.
type GrantHandlerFunc func(ctx context.Context, gc GrantContext) (*Principal, error)

func (f GrantHandlerFunc) HandleGrant(ctx context.Context, gc GrantContext) (*Principal, error) {
	return f(ctx, gc)
}

// ScopeResources maps a scope to the resource servers (audiences) it grants.
type ScopeResources map[string][]string

// Resolve returns the resources for scopes, in scope order, deduplicated.
func (s ScopeResources) Resolve(scopes []string) []string {
	var out []string
	for _, scope := range scopes {
		out = append(out, s[scope]...)
	}
	return dedupe(out)
}

// newUserPrincipal builds the profile part of a resource owner principal.
func newUserPrincipal(user *User) *Principal {
	p := NewPrincipal(user.ID.String())
	p.AddClaim(ClaimEmail, user.Email)

	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	p.AddClaim(ClaimName, name)

	for _, key := range sortedKeys(user.Metadata) {
		p.AddClaim(ClaimMetadataPrefix+key, user.Metadata[key])
	}
	return p
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
