package idp

import (
	"context"
)

// OrganizationClaimsAugmentor adds one organization claim per membership and
// the organization_id and tenant_id of the primary membership.
type OrganizationClaimsAugmentor struct {
	memberships MembershipSource
}

func NewOrganizationClaimsAugmentor(memberships MembershipSource) *OrganizationClaimsAugmentor {
	return &OrganizationClaimsAugmentor{memberships: memberships}
}

func (a *OrganizationClaimsAugmentor) Augment(ctx context.Context, user *User, principal *Principal) error {
	if user == nil || a.memberships == nil {
		return nil
	}

	memberships, err := a.memberships.MembershipsForUser(ctx, user.ID)
	if err != nil {
		return err
	}

	var primary *Membership
	for i := range memberships {
		m := memberships[i]
		principal.AddClaims(ClaimOrganization, m.OrganizationID.String())
		if m.IsPrimary && primary == nil {
			primary = &memberships[i]
		}
	}

	if primary == nil {
		return nil
	}

	principal.AddClaim(ClaimOrganizationID, primary.OrganizationID.String())
	principal.AddClaim(ClaimTenantID, primary.TenantID.String())
	return nil
}

func (a *OrganizationClaimsAugmentor) OwnedClaimTypes() []string {
	return []string{ClaimOrganization, ClaimOrganizationID, ClaimTenantID}
}
