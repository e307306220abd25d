package idp

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token use markers. Access and refresh tokens share a signing key, so the
// marker keeps one from being accepted as the other.
const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// AccessClaims is the read side of a validated access token, consumed by
// resource middleware and the organization resolver.
type AccessClaims interface {
	Subject() string
	Client() string
	Scopes() []string
	HasScope(scope string) bool
	Permissions() []string
	HasPermission(permission string) bool
	HasOrganizationPermission(organizationID, permission string) bool
	Roles() []string
	HasRole(role string) bool
	Organizations() []string
	MemberOf(organizationID string) bool
	ActiveOrganizationID() string
	Expires() time.Time
	IssuedAt() time.Time
}

// AccessTokenClaims is the access token payload.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	TokenUse        string   `json:"token_use"`
	ClientID        string   `json:"client_id,omitempty"`
	Scope           string   `json:"scope,omitempty"`
	Email           string   `json:"email,omitempty"`
	Name            string   `json:"name,omitempty"`
	TenantID        string   `json:"tenant_id,omitempty"`
	OrganizationID  string   `json:"organization_id,omitempty"`
	OrganizationIDs []string `json:"organizations,omitempty"`
	RoleNames       []string `json:"roles,omitempty"`
	PermissionNames []string `json:"permissions,omitempty"`
	// OrganizationPermissionNames holds "<organization id>:<permission>" pairs.
	OrganizationPermissionNames []string            `json:"org_permissions,omitempty"`
	Metadata                    map[string]string   `json:"metadata,omitempty"`
	Extra                       map[string][]string `json:"ext,omitempty"`
}

var _ AccessClaims = (*AccessTokenClaims)(nil)

// newAccessTokenClaims projects the access token claims of p.
func newAccessTokenClaims(p *Principal) *AccessTokenClaims {
	c := &AccessTokenClaims{
		TokenUse: TokenUseAccess,
		Scope:    JoinScopes(p.Scopes()),
	}

	for _, claim := range p.ClaimsFor(DestinationAccessToken) {
		switch {
		case claim.Type == ClaimSubject:
			c.RegisteredClaims.Subject = claim.Value
		case claim.Type == ClaimClientID:
			c.ClientID = claim.Value
		case claim.Type == ClaimEmail:
			c.Email = claim.Value
		case claim.Type == ClaimName:
			c.Name = claim.Value
		case claim.Type == ClaimTenantID:
			c.TenantID = claim.Value
		case claim.Type == ClaimOrganizationID:
			c.OrganizationID = claim.Value
		case claim.Type == ClaimOrganization:
			c.OrganizationIDs = append(c.OrganizationIDs, claim.Value)
		case claim.Type == ClaimRole:
			c.RoleNames = append(c.RoleNames, claim.Value)
		case claim.Type == ClaimPermission:
			c.PermissionNames = append(c.PermissionNames, claim.Value)
		case claim.Type == ClaimOrganizationPermission:
			c.OrganizationPermissionNames = append(c.OrganizationPermissionNames, claim.Value)
		case strings.HasPrefix(claim.Type, ClaimMetadataPrefix):
			if c.Metadata == nil {
				c.Metadata = map[string]string{}
			}
			c.Metadata[strings.TrimPrefix(claim.Type, ClaimMetadataPrefix)] = claim.Value
		default:
			if c.Extra == nil {
				c.Extra = map[string][]string{}
			}
			c.Extra[claim.Type] = append(c.Extra[claim.Type], claim.Value)
		}
	}

	if len(p.Resources()) > 0 {
		c.RegisteredClaims.Audience = jwt.ClaimStrings(p.Resources())
	}

	return c
}

func (c *AccessTokenClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// Client returns the client the token was issued to.
func (c *AccessTokenClaims) Client() string {
	return c.ClientID
}

func (c *AccessTokenClaims) Scopes() []string {
	return ParseScopes(c.Scope)
}

func (c *AccessTokenClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

func (c *AccessTokenClaims) Permissions() []string {
	return slices.Clone(c.PermissionNames)
}

func (c *AccessTokenClaims) HasPermission(permission string) bool {
	return slices.Contains(c.PermissionNames, permission)
}

// HasOrganizationPermission reports whether permission was granted inside
// organizationID. System permissions are not consulted.
func (c *AccessTokenClaims) HasOrganizationPermission(organizationID, permission string) bool {
	if strings.TrimSpace(organizationID) == "" {
		return false
	}
	want := OrganizationPermission(organizationID, permission)
	return slices.ContainsFunc(c.OrganizationPermissionNames, func(v string) bool {
		return strings.EqualFold(v, want)
	})
}

func (c *AccessTokenClaims) Roles() []string {
	return slices.Clone(c.RoleNames)
}

func (c *AccessTokenClaims) HasRole(role string) bool {
	return slices.Contains(c.RoleNames, role)
}

func (c *AccessTokenClaims) Organizations() []string {
	return slices.Clone(c.OrganizationIDs)
}

// MemberOf reports whether the token lists organizationID among the
// organizations it was issued for. Comparison is case insensitive since ids
// are UUID strings.
func (c *AccessTokenClaims) MemberOf(organizationID string) bool {
	for _, id := range c.OrganizationIDs {
		if strings.EqualFold(id, organizationID) {
			return true
		}
	}
	return false
}

func (c *AccessTokenClaims) ActiveOrganizationID() string {
	return c.OrganizationID
}

func (c *AccessTokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

func (c *AccessTokenClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// IdentityTokenClaims is the OpenID Connect identity token payload. It only
// carries claims routed to the identity token.
type IdentityTokenClaims struct {
	jwt.RegisteredClaims
	Email string              `json:"email,omitempty"`
	Name  string              `json:"name,omitempty"`
	Extra map[string][]string `json:"ext,omitempty"`
}

func newIdentityTokenClaims(p *Principal) *IdentityTokenClaims {
	c := &IdentityTokenClaims{}
	for _, claim := range p.ClaimsFor(DestinationIdentityToken) {
		switch claim.Type {
		case ClaimSubject:
			c.RegisteredClaims.Subject = claim.Value
		case ClaimEmail:
			c.Email = claim.Value
		case ClaimName:
			c.Name = claim.Value
		default:
			if c.Extra == nil {
				c.Extra = map[string][]string{}
			}
			c.Extra[claim.Type] = append(c.Extra[claim.Type], claim.Value)
		}
	}
	return c
}

// SnapshotClaim is a claim persisted inside a refresh token.
type SnapshotClaim struct {
	Type  string `json:"t"`
	Value string `json:"v"`
}

// RefreshTokenClaims carries the principal snapshot needed to re-establish
// the principal on refresh.
type RefreshTokenClaims struct {
	jwt.RegisteredClaims
	TokenUse  string          `json:"token_use"`
	ClientID  string          `json:"client_id"`
	Scope     string          `json:"scope,omitempty"`
	Resources []string        `json:"resources,omitempty"`
	Claims    []SnapshotClaim `json:"claims,omitempty"`
}

func newRefreshTokenClaims(p *Principal, clientID string) *RefreshTokenClaims {
	c := &RefreshTokenClaims{
		TokenUse:  TokenUseRefresh,
		ClientID:  clientID,
		Scope:     JoinScopes(p.Scopes()),
		Resources: p.Resources(),
	}
	c.RegisteredClaims.Subject = p.Subject()
	for _, claim := range p.Claims() {
		c.Claims = append(c.Claims, SnapshotClaim{Type: claim.Type, Value: claim.Value})
	}
	return c
}

// Principal rebuilds the principal stored in the token. Destinations are left
// unset; the augmentation pipeline assigns them again.
func (c *RefreshTokenClaims) Principal() *Principal {
	p := &Principal{}
	for _, claim := range c.Claims {
		p.AddClaim(claim.Type, claim.Value)
	}
	if p.Subject() == "" && c.RegisteredClaims.Subject != "" {
		p.AddClaim(ClaimSubject, c.RegisteredClaims.Subject)
	}
	return p.SetScopes(ParseScopes(c.Scope)...).SetResources(c.Resources...)
}
