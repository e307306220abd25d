package idp

import (
	"context"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Organizations stores organizations.
type Organizations interface {
	OrganizationSource
	GetBySlugTx(ctx context.Context, tx bun.IDB, slug string) (*Organization, error)
	CreateTx(ctx context.Context, tx bun.IDB, org *Organization) (*Organization, error)
}

type organizations struct {
	repo repository.Repository[*Organization]
	db   *bun.DB
}

func NewOrganizationsRepository(db *bun.DB) Organizations {
	repo := repository.NewRepository[*Organization](db, repository.ModelHandlers[*Organization]{
		NewRecord: func() *Organization { return &Organization{} },
		GetID: func(o *Organization) uuid.UUID {
			if o == nil {
				return uuid.Nil
			}
			return o.ID
		},
		SetID: func(o *Organization, id uuid.UUID) {
			if o != nil {
				o.ID = id
			}
		},
		GetIdentifier: func() string {
			return "slug"
		},
	})
	return &organizations{repo: repo, db: db}
}

func (r *organizations) FindOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	record := &Organization{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"organization_id": id.String()})
	}
	return record, nil
}

func (r *organizations) GetBySlugTx(ctx context.Context, tx bun.IDB, slug string) (*Organization, error) {
	record := &Organization{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.slug = ?", slug).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"slug": slug})
	}
	return record, nil
}

func (r *organizations) CreateTx(ctx context.Context, tx bun.IDB, org *Organization) (*Organization, error) {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	return r.repo.CreateTx(ctx, tx, org)
}

// Memberships stores organization memberships.
type Memberships interface {
	MembershipSource
	CreateTx(ctx context.Context, tx bun.IDB, m *Membership) (*Membership, error)
}

type memberships struct {
	db *bun.DB
}

func NewMembershipsRepository(db *bun.DB) Memberships {
	return &memberships{db: db}
}

// MembershipsForUser lists memberships, primary first, with the role ids the
// user holds in each organization.
func (r *memberships) MembershipsForUser(ctx context.Context, userID uuid.UUID) ([]Membership, error) {
	var records []Membership
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.is_primary DESC").
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, nil
	}

	var assignments []RoleAssignment
	err = r.db.NewSelect().
		Model(&assignments).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.organization_id IS NOT NULL").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	for i := range records {
		for _, a := range assignments {
			if a.OrganizationID != nil && *a.OrganizationID == records[i].OrganizationID {
				records[i].RoleIDs = append(records[i].RoleIDs, a.RoleID)
			}
		}
	}

	return records, nil
}

func (r *memberships) IsMember(ctx context.Context, organizationID, userID uuid.UUID) (bool, error) {
	return r.db.NewSelect().
		Model((*Membership)(nil)).
		Where("?TableAlias.organization_id = ?", organizationID).
		Where("?TableAlias.user_id = ?", userID).
		Exists(ctx)
}

func (r *memberships) CreateTx(ctx context.Context, tx bun.IDB, m *Membership) (*Membership, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
		return nil, err
	}
	return m, nil
}
