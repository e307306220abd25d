package idp

import (
	"context"

	"github.com/google/uuid"
)

// PermissionClaimsAugmentor adds the user's system permissions as permission
// claims and, for every organization claim set earlier in the pipeline, the
// permissions held in that organization as org_permission claims. Scoped
// permissions never leak into the system permission claim.
type PermissionClaimsAugmentor struct {
	permissions PermissionSource
}

func NewPermissionClaimsAugmentor(permissions PermissionSource) *PermissionClaimsAugmentor {
	return &PermissionClaimsAugmentor{permissions: permissions}
}

func (a *PermissionClaimsAugmentor) Augment(ctx context.Context, user *User, principal *Principal) error {
	if user == nil || a.permissions == nil {
		return nil
	}

	system, err := a.permissions.SystemPermissions(ctx, user.ID)
	if err != nil {
		return err
	}
	principal.AddClaims(ClaimPermission, system...)

	for _, raw := range principal.FindAll(ClaimOrganization) {
		orgID, err := uuid.Parse(raw)
		if err != nil {
			continue
		}

		scoped, err := a.permissions.OrganizationPermissions(ctx, user.ID, orgID)
		if err != nil {
			return err
		}
		for _, permission := range scoped {
			principal.AddClaim(ClaimOrganizationPermission, OrganizationPermission(orgID.String(), permission))
		}
	}
	return nil
}

func (a *PermissionClaimsAugmentor) OwnedClaimTypes() []string {
	return []string{ClaimPermission, ClaimOrganizationPermission}
}
