package idp

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordResets stores password reset requests.
type PasswordResets interface {
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*PasswordReset, error)
	CreateTx(ctx context.Context, tx bun.IDB, reset *PasswordReset) (*PasswordReset, error)
	// MarkResetTx closes a request that is still open. A request that was
	// already used is reported as not found.
	MarkResetTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
}

type passwordResets struct {
	repo repository.Repository[*PasswordReset]
}

func NewPasswordResetsRepository(db *bun.DB) PasswordResets {
	handlers := repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset {
			return &PasswordReset{}
		},
		GetID: func(record *PasswordReset) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PasswordReset, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return &passwordResets{repo: repository.NewRepository(db, handlers)}
}

func (r *passwordResets) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*PasswordReset, error) {
	record := &PasswordReset{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"id": id.String()})
	}
	return record, nil
}

func (r *passwordResets) CreateTx(ctx context.Context, tx bun.IDB, reset *PasswordReset) (*PasswordReset, error) {
	if reset.Status == "" {
		reset.Status = ResetRequestedStatus
	}
	return r.repo.CreateTx(ctx, tx, reset)
}

func (r *passwordResets) MarkResetTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	record := MarkPasswordAsReseted(id, at)
	res, err := tx.NewUpdate().
		Model(record).
		Column("status", "reseted_at").
		WherePK().
		Where("status = ?", ResetRequestedStatus).
		Exec(ctx)
	return affectedOne(res, err, id)
}
