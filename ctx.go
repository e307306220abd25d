package idp

import (
	"context"
	"maps"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

var claimsCtxKey = &contextKey{"claims"}
var organizationCtxKey = &contextKey{"organization"}

type contextKey struct {
	name string
}

// OrganizationContext is the active tenant scope of a single request.
type OrganizationContext struct {
	ID          uuid.UUID         `json:"id"`
	TenantID    uuid.UUID         `json:"tenant_id"`
	Slug        string            `json:"slug"`
	DisplayName string            `json:"display_name"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewOrganizationContext builds the scope for org.
func NewOrganizationContext(org *Organization) *OrganizationContext {
	if org == nil {
		return nil
	}
	return &OrganizationContext{
		ID:          org.ID,
		TenantID:    org.TenantID,
		Slug:        org.Slug,
		DisplayName: org.DisplayName,
		Metadata:    maps.Clone(org.Metadata),
	}
}

func (oc *OrganizationContext) clone() *OrganizationContext {
	out := *oc
	out.Metadata = maps.Clone(oc.Metadata)
	return &out
}

// WithOrganization stores oc in ctx. A context that already carries an
// organization is never overwritten.
func WithOrganization(ctx context.Context, oc *OrganizationContext) (context.Context, error) {
	if oc == nil {
		return ctx, goerrors.New("organization context is required", goerrors.CategoryInternal)
	}

	if current, ok := OrganizationFromContext(ctx); ok {
		return ctx, goerrors.New("organization context already established for this request", goerrors.CategoryConflict).
			WithTextCode(TextCodeOrganizationSet).
			WithCode(goerrors.CodeConflict).
			WithMetadata(map[string]any{
				"current":   current.ID.String(),
				"requested": oc.ID.String(),
			})
	}

	return context.WithValue(ctx, organizationCtxKey, oc.clone()), nil
}

// OrganizationFromContext returns a copy of the request organization.
func OrganizationFromContext(ctx context.Context) (*OrganizationContext, bool) {
	if ctx == nil {
		return nil, false
	}
	oc, ok := ctx.Value(organizationCtxKey).(*OrganizationContext)
	if !ok || oc == nil {
		return nil, false
	}
	return oc.clone(), true
}

// WithAccessClaims sets the validated access claims in the given context
func WithAccessClaims(ctx context.Context, claims AccessClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// AccessClaimsFromContext extracts the access claims from the standard context
func AccessClaimsFromContext(ctx context.Context) (AccessClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, ok := ctx.Value(claimsCtxKey).(AccessClaims)
	return raw, ok && raw != nil
}

// Can reports whether the request claims carry permission, either as a
// system permission or as a grant inside the active organization. The active
// organization is the one established on ctx, falling back to the token's
// organization_id when the request is not scoped.
func Can(ctx context.Context, permission string) bool {
	claims, ok := AccessClaimsFromContext(ctx)
	if !ok {
		return false
	}
	if claims.HasPermission(permission) {
		return true
	}

	orgID := claims.ActiveOrganizationID()
	if oc, ok := OrganizationFromContext(ctx); ok {
		orgID = oc.ID.String()
	}
	return claims.HasOrganizationPermission(orgID, permission)
}

// CanInOrganization reports whether the request claims carry permission as a
// system permission or as a grant inside organizationID.
func CanInOrganization(ctx context.Context, organizationID uuid.UUID, permission string) bool {
	claims, ok := AccessClaimsFromContext(ctx)
	if !ok {
		return false
	}
	if claims.HasPermission(permission) {
		return true
	}
	return organizationID != uuid.Nil && claims.HasOrganizationPermission(organizationID.String(), permission)
}
