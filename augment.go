package idp

import (
	"context"
	"slices"

	goerrors "github.com/goliatone/go-errors"
)

// ClaimsAugmentor adds claims to a principal before it is signed. Augmentors
// only read from their sources and add nothing when no data applies. user is
// nil for grants without a resource owner.
type ClaimsAugmentor interface {
	Augment(ctx context.Context, user *User, principal *Principal) error
}

// ClaimsAugmentorFunc adapts a function into a ClaimsAugmentor.
type ClaimsAugmentorFunc func(ctx context.Context, user *User, principal *Principal) error

// Augment satisfies ClaimsAugmentor.
func (f ClaimsAugmentorFunc) Augment(ctx context.Context, user *User, principal *Principal) error {
	if f == nil {
		return nil
	}
	return f(ctx, user, principal)
}

// ClaimOwner is implemented by augmentors that own claim types. Owned types
// are stripped before the pipeline is re-run on an existing principal.
type ClaimOwner interface {
	OwnedClaimTypes() []string
}

// AugmentationPipeline runs augmentors in registration order and finalizes
// claim destinations.
type AugmentationPipeline struct {
	augmentors   []ClaimsAugmentor
	destinations *DestinationMap
	logger       Logger
}

// PipelineOption configures an AugmentationPipeline.
type PipelineOption func(*AugmentationPipeline)

func WithDestinationMap(m *DestinationMap) PipelineOption {
	return func(p *AugmentationPipeline) {
		if m != nil {
			p.destinations = m
		}
	}
}

func WithPipelineLogger(logger Logger) PipelineOption {
	return func(p *AugmentationPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewAugmentationPipeline copies augmentors; the order is fixed from here on.
func NewAugmentationPipeline(augmentors []ClaimsAugmentor, opts ...PipelineOption) *AugmentationPipeline {
	p := &AugmentationPipeline{
		augmentors:   slices.DeleteFunc(slices.Clone(augmentors), func(a ClaimsAugmentor) bool { return a == nil }),
		destinations: DefaultDestinationMap(),
		logger:       defaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// DefaultAugmentors returns the built-in augmentors in their required order:
// organization claims first, since organization permissions depend on them.
func DefaultAugmentors(memberships MembershipSource, roles RoleSource, permissions PermissionSource) []ClaimsAugmentor {
	return []ClaimsAugmentor{
		NewOrganizationClaimsAugmentor(memberships),
		NewRoleClaimsAugmentor(roles),
		NewPermissionClaimsAugmentor(permissions),
	}
}

// Run applies every augmentor to principal and then routes its claims.
func (p *AugmentationPipeline) Run(ctx context.Context, user *User, principal *Principal) error {
	if principal == nil {
		return nil
	}

	snap := captureImmutableClaims(principal)

	for i, a := range p.augmentors {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := a.Augment(ctx, user, principal); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			p.logger.Error("claims augmentor failed", "index", i, "subject", principal.Subject(), "error", err)
			return goerrors.Wrap(err, goerrors.CategoryInternal, "claims augmentation failed").
				WithCode(goerrors.CodeInternal).
				WithMetadata(map[string]any{"augmentor": i})
		}
	}

	if err := snap.validate(principal); err != nil {
		return err
	}

	p.destinations.Apply(principal)
	return nil
}

// OwnedClaimTypes collects the claim types owned by the registered augmentors.
func (p *AugmentationPipeline) OwnedClaimTypes() []string {
	var out []string
	for _, a := range p.augmentors {
		if owner, ok := a.(ClaimOwner); ok {
			out = append(out, owner.OwnedClaimTypes()...)
		}
	}
	return dedupe(out)
}
