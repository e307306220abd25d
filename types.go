package idp

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Config holds identity provider options consumed by the core.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAccessTokenTTL() time.Duration
	GetIdentityTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetLockoutThreshold() int
	GetLockoutDuration() time.Duration
	GetTenantHeader() string
	GetOrganizationAdminPrefix() string
	GetAfterHookPolicy() AfterHookPolicy
}

// UserStore resolves and tracks users for the sign-in and grant flows.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmailOrUsername(ctx context.Context, identifier string) (*User, error)
	// IncrementFailedSignIn atomically bumps the failure counter. When the
	// counter reaches threshold the account is locked until lockoutEnd, the
	// counter is cleared and locked is true.
	IncrementFailedSignIn(ctx context.Context, user *User, threshold int, lockoutEnd time.Time) (failedCount int, locked bool, err error)
	ResetSignInFailures(ctx context.Context, user *User) error
}

// MembershipSource exposes organization membership for a user.
type MembershipSource interface {
	MembershipsForUser(ctx context.Context, userID uuid.UUID) ([]Membership, error)
	IsMember(ctx context.Context, organizationID, userID uuid.UUID) (bool, error)
}

// PermissionSource returns effective permissions. System permissions come from
// global role assignments, organization permissions from membership roles.
type PermissionSource interface {
	SystemPermissions(ctx context.Context, userID uuid.UUID) ([]string, error)
	OrganizationPermissions(ctx context.Context, userID, organizationID uuid.UUID) ([]string, error)
}

// RoleSource returns the names of the global roles assigned to a user.
type RoleSource interface {
	RoleNames(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// OrganizationSource loads organizations by id.
type OrganizationSource interface {
	FindOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
}

// AuthorizationCodeStore redeems authorization codes issued by the
// authorization surface.
type AuthorizationCodeStore interface {
	Redeem(ctx context.Context, code string, now time.Time) (*AuthorizationCode, error)
}
