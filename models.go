package idp

import (
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the identity record signed into tokens.
type User struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                uuid.UUID         `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username          string            `bun:"username,notnull,unique" json:"username,omitempty"`
	Email             string            `bun:"email,notnull,unique" json:"email,omitempty"`
	DisplayName       string            `bun:"display_name" json:"display_name,omitempty"`
	PasswordHash      string            `bun:"password_hash" json:"-"`
	EmailConfirmed    bool              `bun:"email_confirmed,notnull,default:false" json:"email_confirmed"`
	AccessFailedCount int               `bun:"access_failed_count,notnull,default:0" json:"access_failed_count,omitempty"`
	LockoutEnd        *time.Time        `bun:"lockout_end,nullzero" json:"lockout_end,omitempty"`
	Metadata          map[string]string `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	LoggedInAt        *time.Time        `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt         *time.Time        `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time        `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt         *time.Time        `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AddMetadata sets a profile metadata entry.
func (u *User) AddMetadata(key, val string) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]string)
	}
	u.Metadata[key] = val
	return u
}

// IsLockedOut reports whether the lockout window is still open at now.
func (u *User) IsLockedOut(now time.Time) bool {
	return u != nil && u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// IsDeleted reports whether the user was soft deleted.
func (u *User) IsDeleted() bool {
	return u != nil && u.DeletedAt != nil
}

// Clone returns a copy that does not share metadata or timestamps.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Metadata = maps.Clone(u.Metadata)
	out.LockoutEnd = cloneTime(u.LockoutEnd)
	out.LoggedInAt = cloneTime(u.LoggedInAt)
	out.CreatedAt = cloneTime(u.CreatedAt)
	out.UpdatedAt = cloneTime(u.UpdatedAt)
	out.DeletedAt = cloneTime(u.DeletedAt)
	return &out
}

// Organization is a tenant-scoped organization.
type Organization struct {
	bun.BaseModel `bun:"table:organizations,alias:org"`
	ID            uuid.UUID         `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	TenantID      uuid.UUID         `bun:"tenant_id,notnull,type:uuid" json:"tenant_id,omitempty"`
	Slug          string            `bun:"slug,notnull,unique" json:"slug,omitempty"`
	DisplayName   string            `bun:"display_name" json:"display_name,omitempty"`
	Metadata      map[string]string `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt     *time.Time        `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time        `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time        `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Membership grants a user access to an organization.
type Membership struct {
	bun.BaseModel  `bun:"table:memberships,alias:mbr"`
	ID             uuid.UUID   `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	OrganizationID uuid.UUID   `bun:"organization_id,notnull,type:uuid" json:"organization_id"`
	UserID         uuid.UUID   `bun:"user_id,notnull,type:uuid" json:"user_id"`
	TenantID       uuid.UUID   `bun:"tenant_id,notnull,type:uuid" json:"tenant_id"`
	IsPrimary      bool        `bun:"is_primary,notnull,default:false" json:"is_primary"`
	RoleIDs        []uuid.UUID `bun:"-" json:"role_ids,omitempty"`
	CreatedAt      *time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Role groups permissions.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull,unique" json:"name"`
	Description   string     `bun:"description" json:"description,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// RolePermission grants a permission name to a role.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`
	RoleID        uuid.UUID `bun:"role_id,pk,type:uuid" json:"role_id"`
	Permission    string    `bun:"permission,pk" json:"permission"`
}

// RoleAssignment binds a role to a user. A nil OrganizationID makes the
// assignment global (system scope).
type RoleAssignment struct {
	bun.BaseModel  `bun:"table:role_assignments,alias:ra"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID         uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	RoleID         uuid.UUID  `bun:"role_id,notnull,type:uuid" json:"role_id"`
	OrganizationID *uuid.UUID `bun:"organization_id,nullzero,type:uuid" json:"organization_id,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// AuthorizationCode is a one-time code issued by the authorization surface
// and redeemed at the token endpoint.
type AuthorizationCode struct {
	bun.BaseModel `bun:"table:authorization_codes,alias:ac"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Code          string     `bun:"code,notnull,unique" json:"code"`
	ClientID      string     `bun:"client_id,notnull" json:"client_id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	RedirectURI   string     `bun:"redirect_uri" json:"redirect_uri,omitempty"`
	Scope         string     `bun:"scope" json:"scope,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	RedeemedAt    *time.Time `bun:"redeemed_at,nullzero" json:"redeemed_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// PasswordReset status values.
const (
	ResetRequestedStatus = "requested"
	ResetExpiredStatus   = "expired"
	ResetChangedStatus   = "changed"
)

// PasswordReset tracks a reset request.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_reset,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	ResetedAt     *time.Time `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// MarkPasswordAsReseted returns the update record closing a reset request.
func MarkPasswordAsReseted(id uuid.UUID, at time.Time) *PasswordReset {
	return &PasswordReset{
		ID:        id,
		Status:    ResetChangedStatus,
		ResetedAt: &at,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
