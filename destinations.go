package idp

import (
	"fmt"
	"slices"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// DestinationRule routes a claim type, or every type sharing a prefix, to a
// destination set. Authorization marks claims resource servers enforce access
// with; those must always reach the access token.
type DestinationRule struct {
	Type          string
	Prefix        bool
	Destinations  Destination
	Authorization bool
}

// DestinationMap resolves claim destinations from a rule table. Exact rules
// win over prefix rules and the longest prefix wins among prefixes.
type DestinationMap struct {
	exact    map[string]Destination
	prefixes []DestinationRule
	fallback Destination
}

// DefaultDestinationRules is the stock routing table.
func DefaultDestinationRules() []DestinationRule {
	return []DestinationRule{
		{Type: ClaimSubject, Destinations: DestinationBoth},
		{Type: ClaimEmail, Destinations: DestinationBoth},
		{Type: ClaimName, Destinations: DestinationBoth},
		{Type: ClaimMetadataPrefix, Prefix: true, Destinations: DestinationAccessToken},
		{Type: ClaimPermission, Destinations: DestinationAccessToken, Authorization: true},
		{Type: ClaimOrganizationPermission, Destinations: DestinationAccessToken, Authorization: true},
		{Type: ClaimRole, Destinations: DestinationAccessToken, Authorization: true},
		{Type: ClaimOrganization, Destinations: DestinationAccessToken, Authorization: true},
		{Type: ClaimOrganizationID, Destinations: DestinationAccessToken, Authorization: true},
		{Type: ClaimTenantID, Destinations: DestinationAccessToken, Authorization: true},
	}
}

// NewDestinationMap validates rules and builds the lookup table. Unknown claim
// types resolve to fallback, which must include the access token.
func NewDestinationMap(rules []DestinationRule, fallback Destination) (*DestinationMap, error) {
	if !fallback.Has(DestinationAccessToken) {
		return nil, invalidDestinations("fallback destination must include the access token")
	}

	m := &DestinationMap{
		exact:    make(map[string]Destination, len(rules)),
		fallback: fallback,
	}

	for _, rule := range rules {
		rule.Type = strings.TrimSpace(rule.Type)
		if rule.Type == "" {
			return nil, invalidDestinations("destination rule without claim type")
		}

		if rule.Authorization && !rule.Destinations.Has(DestinationAccessToken) {
			return nil, invalidDestinations(fmt.Sprintf("authorization claim %q must reach the access token", rule.Type))
		}

		if rule.Prefix {
			m.prefixes = append(m.prefixes, rule)
			continue
		}
		m.exact[rule.Type] = rule.Destinations
	}

	slices.SortStableFunc(m.prefixes, func(a, b DestinationRule) int {
		return len(b.Type) - len(a.Type)
	})

	return m, nil
}

// DefaultDestinationMap builds the stock table.
func DefaultDestinationMap() *DestinationMap {
	m, err := NewDestinationMap(DefaultDestinationRules(), DestinationAccessToken)
	if err != nil {
		panic(err)
	}
	return m
}

// Resolve returns the destinations for claimType.
func (m *DestinationMap) Resolve(claimType string) Destination {
	if d, ok := m.exact[claimType]; ok {
		return d
	}
	for _, rule := range m.prefixes {
		if strings.HasPrefix(claimType, rule.Type) {
			return rule.Destinations
		}
	}
	return m.fallback
}

// Apply finalizes the destinations of every claim on p.
func (m *DestinationMap) Apply(p *Principal) {
	p.SetDestinations(m.Resolve)
}

func invalidDestinations(msg string) error {
	return goerrors.New(msg, goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidDestinations).
		WithCode(goerrors.CodeBadRequest)
}
