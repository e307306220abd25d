package idp

import (
	"slices"
	"strings"
)

// Destination is a bit set naming the tokens a claim is emitted into.
type Destination uint8

const (
	DestinationAccessToken Destination = 1 << iota
	DestinationIdentityToken

	DestinationNone Destination = 0
	DestinationBoth             = DestinationAccessToken | DestinationIdentityToken
)

// Has reports whether every bit of other is present in d.
func (d Destination) Has(other Destination) bool {
	return d&other == other
}

func (d Destination) String() string {
	switch d {
	case DestinationNone:
		return "none"
	case DestinationAccessToken:
		return "access_token"
	case DestinationIdentityToken:
		return "id_token"
	case DestinationBoth:
		return "access_token,id_token"
	}
	return "unknown"
}

// Claim types understood by the core.
const (
	ClaimSubject                = "sub"
	ClaimEmail                  = "email"
	ClaimName                   = "name"
	ClaimClientID               = "client_id"
	ClaimRole                   = "role"
	ClaimPermission             = "permission"
	ClaimOrganizationPermission = "org_permission"
	ClaimOrganization           = "organization"
	ClaimOrganizationID         = "organization_id"
	ClaimTenantID               = "tenant_id"
	ClaimMetadataPrefix         = "metadata:"
)

// OrganizationPermission formats the org_permission claim value granting
// permission inside organizationID.
func OrganizationPermission(organizationID, permission string) string {
	return strings.ToLower(strings.TrimSpace(organizationID)) + ":" + permission
}

// Standard scopes.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

// DefaultPasswordScopes are granted when a password request names none.
var DefaultPasswordScopes = []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopeOfflineAccess}

// Claim is a single (type, value, destinations) triple.
type Claim struct {
	Type         string
	Value        string
	Destinations Destination
}

// Principal is an authenticated subject under construction. It is built per
// grant and dropped once the tokens are signed.
type Principal struct {
	claims    []Claim
	scopes    []string
	resources []string
}

// NewPrincipal creates a principal carrying the given subject.
func NewPrincipal(subject string) *Principal {
	p := &Principal{}
	if subject != "" {
		p.AddClaim(ClaimSubject, subject)
	}
	return p
}

// Subject returns the subject claim value or an empty string.
func (p *Principal) Subject() string {
	v, _ := p.FindFirst(ClaimSubject)
	return v
}

// AddClaim appends a claim. Empty values are ignored.
func (p *Principal) AddClaim(claimType, value string) *Principal {
	if p == nil || claimType == "" || value == "" {
		return p
	}
	p.claims = append(p.claims, Claim{Type: claimType, Value: value})
	return p
}

// AddClaims appends one claim per value, skipping values already present.
func (p *Principal) AddClaims(claimType string, values ...string) *Principal {
	for _, v := range values {
		if !p.HasClaim(claimType, v) {
			p.AddClaim(claimType, v)
		}
	}
	return p
}

// HasClaim reports whether a claim with the given type and value exists.
func (p *Principal) HasClaim(claimType, value string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.claims {
		if c.Type == claimType && c.Value == value {
			return true
		}
	}
	return false
}

func (p *Principal) FindFirst(claimType string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, c := range p.claims {
		if c.Type == claimType {
			return c.Value, true
		}
	}
	return "", false
}

func (p *Principal) FindAll(claimType string) []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, c := range p.claims {
		if c.Type == claimType {
			out = append(out, c.Value)
		}
	}
	return out
}

// RemoveClaims drops every claim whose type is listed.
func (p *Principal) RemoveClaims(claimTypes ...string) *Principal {
	if p == nil || len(claimTypes) == 0 {
		return p
	}
	p.claims = slices.DeleteFunc(p.claims, func(c Claim) bool {
		return slices.Contains(claimTypes, c.Type)
	})
	return p
}

// Claims returns a copy of the claim list.
func (p *Principal) Claims() []Claim {
	if p == nil {
		return nil
	}
	return slices.Clone(p.claims)
}

// ClaimsFor returns the claims routed to the given destination.
func (p *Principal) ClaimsFor(d Destination) []Claim {
	if p == nil {
		return nil
	}
	var out []Claim
	for _, c := range p.claims {
		if c.Destinations.Has(d) {
			out = append(out, c)
		}
	}
	return out
}

// SetDestinations routes every claim according to resolve.
func (p *Principal) SetDestinations(resolve func(claimType string) Destination) {
	if p == nil || resolve == nil {
		return
	}
	for i := range p.claims {
		p.claims[i].Destinations = resolve(p.claims[i].Type)
	}
}

// RestrictDestinations masks every claim so it can only reach allowed.
// Claims left with no destination fall back to allowed.
func (p *Principal) RestrictDestinations(allowed Destination) {
	if p == nil {
		return
	}
	for i := range p.claims {
		d := p.claims[i].Destinations & allowed
		if d == DestinationNone {
			d = allowed
		}
		p.claims[i].Destinations = d
	}
}

func (p *Principal) SetScopes(scopes ...string) *Principal {
	p.scopes = dedupe(scopes)
	return p
}

func (p *Principal) Scopes() []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.scopes)
}

func (p *Principal) HasScope(scope string) bool {
	return p != nil && slices.Contains(p.scopes, scope)
}

func (p *Principal) SetResources(resources ...string) *Principal {
	p.resources = dedupe(resources)
	return p
}

func (p *Principal) Resources() []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.resources)
}

// Clone returns an independent copy.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	return &Principal{
		claims:    slices.Clone(p.claims),
		scopes:    slices.Clone(p.scopes),
		resources: slices.Clone(p.resources),
	}
}

// ParseScopes splits a space delimited scope string.
func ParseScopes(raw string) []string {
	return dedupe(strings.Fields(raw))
}

// JoinScopes renders scopes the way they travel on the wire.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
