package idp

import "context"

// RoleClaimsAugmentor adds a role claim per global role assignment.
type RoleClaimsAugmentor struct {
	roles RoleSource
}

func NewRoleClaimsAugmentor(roles RoleSource) *RoleClaimsAugmentor {
	return &RoleClaimsAugmentor{roles: roles}
}

func (a *RoleClaimsAugmentor) Augment(ctx context.Context, user *User, principal *Principal) error {
	if user == nil || a.roles == nil {
		return nil
	}

	names, err := a.roles.RoleNames(ctx, user.ID)
	if err != nil {
		return err
	}

	principal.AddClaims(ClaimRole, names...)
	return nil
}

func (a *RoleClaimsAugmentor) OwnedClaimTypes() []string {
	return []string{ClaimRole}
}
