package idp

import (
	"fmt"
	"slices"

	goerrors "github.com/goliatone/go-errors"
)

// immutableClaimTypes may not be added, removed or rewritten by augmentors.
var immutableClaimTypes = []string{ClaimSubject, ClaimClientID}

type immutableClaimsSnapshot struct {
	values map[string][]string
}

func captureImmutableClaims(p *Principal) immutableClaimsSnapshot {
	snap := immutableClaimsSnapshot{values: make(map[string][]string, len(immutableClaimTypes))}
	for _, t := range immutableClaimTypes {
		snap.values[t] = p.FindAll(t)
	}
	return snap
}

func (snap immutableClaimsSnapshot) validate(p *Principal) error {
	for _, t := range immutableClaimTypes {
		if !slices.Equal(snap.values[t], p.FindAll(t)) {
			return immutableClaimViolation(t)
		}
	}
	return nil
}

func immutableClaimViolation(field string) error {
	return goerrors.New(fmt.Sprintf("immutable claim mutated: %s", field), goerrors.CategoryInternal).
		WithTextCode(TextCodeImmutableClaim).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"claim": field})
}
