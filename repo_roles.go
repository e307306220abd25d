package idp

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Roles stores roles, their permissions and assignments. It serves both the
// RoleSource and the PermissionSource contracts.
type Roles interface {
	RoleSource
	PermissionSource
	CreateTx(ctx context.Context, tx bun.IDB, role *Role, permissions ...string) (*Role, error)
	GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Role, error)
	AssignTx(ctx context.Context, tx bun.IDB, userID, roleID uuid.UUID, organizationID *uuid.UUID) error
}

type roles struct {
	db *bun.DB
}

func NewRolesRepository(db *bun.DB) Roles {
	return &roles{db: db}
}

func (r *roles) RoleNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var names []string
	err := r.db.NewSelect().
		TableExpr("roles AS rol").
		ColumnExpr("rol.name").
		Join("JOIN role_assignments AS ra ON ra.role_id = rol.id").
		Where("ra.user_id = ?", userID).
		Where("ra.organization_id IS NULL").
		OrderExpr("rol.name ASC").
		Scan(ctx, &names)
	return names, err
}

func (r *roles) SystemPermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var permissions []string
	err := r.db.NewSelect().
		TableExpr("role_permissions AS rp").
		ColumnExpr("DISTINCT rp.permission").
		Join("JOIN role_assignments AS ra ON ra.role_id = rp.role_id").
		Where("ra.user_id = ?", userID).
		Where("ra.organization_id IS NULL").
		OrderExpr("rp.permission ASC").
		Scan(ctx, &permissions)
	return permissions, err
}

// OrganizationPermissions only counts assignments backed by a membership, so
// removing the membership revokes the scoped permissions with it.
func (r *roles) OrganizationPermissions(ctx context.Context, userID, organizationID uuid.UUID) ([]string, error) {
	var permissions []string
	err := r.db.NewSelect().
		TableExpr("role_permissions AS rp").
		ColumnExpr("DISTINCT rp.permission").
		Join("JOIN role_assignments AS ra ON ra.role_id = rp.role_id").
		Join("JOIN memberships AS mbr ON mbr.user_id = ra.user_id AND mbr.organization_id = ra.organization_id").
		Where("ra.user_id = ?", userID).
		Where("ra.organization_id = ?", organizationID).
		OrderExpr("rp.permission ASC").
		Scan(ctx, &permissions)
	return permissions, err
}

func (r *roles) CreateTx(ctx context.Context, tx bun.IDB, role *Role, permissions ...string) (*Role, error) {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(role).Exec(ctx); err != nil {
		return nil, err
	}

	if len(permissions) == 0 {
		return role, nil
	}

	grants := make([]RolePermission, 0, len(permissions))
	for _, p := range dedupe(permissions) {
		grants = append(grants, RolePermission{RoleID: role.ID, Permission: p})
	}
	if _, err := tx.NewInsert().Model(&grants).Exec(ctx); err != nil {
		return nil, err
	}
	return role, nil
}

func (r *roles) GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Role, error) {
	record := &Role{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"role": name})
	}
	return record, nil
}

func (r *roles) AssignTx(ctx context.Context, tx bun.IDB, userID, roleID uuid.UUID, organizationID *uuid.UUID) error {
	_, err := tx.NewInsert().
		Model(&RoleAssignment{
			ID:             uuid.New(),
			UserID:         userID,
			RoleID:         roleID,
			OrganizationID: organizationID,
		}).
		Exec(ctx)
	return err
}
