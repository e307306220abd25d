package idp

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthorizationCodes stores one-time authorization codes.
type AuthorizationCodes interface {
	AuthorizationCodeStore
	CreateTx(ctx context.Context, tx bun.IDB, code *AuthorizationCode) (*AuthorizationCode, error)
}

type authorizationCodes struct {
	db *bun.DB
}

func NewAuthorizationCodesRepository(db *bun.DB) AuthorizationCodes {
	return &authorizationCodes{db: db}
}

func (r *authorizationCodes) CreateTx(ctx context.Context, tx bun.IDB, code *AuthorizationCode) (*AuthorizationCode, error) {
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(code).Exec(ctx); err != nil {
		return nil, err
	}
	return code, nil
}

// Redeem marks the code as used. Unknown, expired and already redeemed codes
// are all reported as not found.
func (r *authorizationCodes) Redeem(ctx context.Context, code string, now time.Time) (*AuthorizationCode, error) {
	var redeemed *AuthorizationCode

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &AuthorizationCode{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.code = ?", code).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return notFoundOr(err, map[string]any{"code": "redacted"})
		}

		if record.RedeemedAt != nil || !record.ExpiresAt.After(now) {
			return repository.NewRecordNotFound().WithMetadata(map[string]any{"code_id": record.ID.String()})
		}

		res, err := tx.NewUpdate().
			Model(record).
			Set("redeemed_at = ?", now.UTC()).
			WherePK().
			Where("redeemed_at IS NULL").
			Exec(ctx)
		if err := affectedOne(res, err, record.ID); err != nil {
			return err
		}

		at := now.UTC()
		record.RedeemedAt = &at
		redeemed = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	return redeemed, nil
}
