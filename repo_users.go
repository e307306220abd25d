package idp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the user repository.
type Users interface {
	UserStore

	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByIDWithDeletedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByEmailOrUsernameTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	ConfirmEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	RestoreTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
}

type users struct {
	repo repository.Repository[*User]
	db   *bun.DB
	now  func() time.Time
}

var _ Users = (*users)(nil)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{repo: repo, db: db, now: time.Now}
}

func (a *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
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

func (a *users) GetByIDWithDeletedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		WhereAllWithDeleted().
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"id": id.String()})
	}
	return record, nil
}

func (a *users) GetByEmailOrUsername(ctx context.Context, identifier string) (*User, error) {
	return a.GetByEmailOrUsernameTx(ctx, a.db, identifier)
}

func (a *users) GetByEmailOrUsernameTx(ctx context.Context, tx bun.IDB, identifier string) (*User, error) {
	for _, opt := range resolveUserIdentifier(identifier) {
		record := &User{}
		err := tx.NewSelect().
			Model(record).
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)
	return a.repo.CreateTx(ctx, tx, user)
}

func (a *users) UpdateProfileTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	now := a.now().UTC()
	user.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(user).
		Column("display_name", "metadata", "updated_at").
		WherePK().
		Exec(ctx)
	if err := affectedOne(res, err, user.ID); err != nil {
		return nil, err
	}
	return a.GetByIDTx(ctx, tx, user.ID)
}

func (a *users) ConfirmEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	res, err := tx.NewRaw(`
		UPDATE "users"
		SET "email_confirmed" = ?, "updated_at" = ?
		WHERE "id" = ? AND "deleted_at" IS NULL;
	`, true, a.now().UTC(), id).Exec(ctx)
	if err := affectedOne(res, err, id); err != nil {
		return nil, err
	}
	return a.GetByIDTx(ctx, tx, id)
}

func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := tx.NewRaw(`
		UPDATE "users"
		SET "password_hash" = ?, "access_failed_count" = 0, "lockout_end" = NULL, "updated_at" = ?
		WHERE "id" = ? AND "deleted_at" IS NULL;
	`, passwordHash, a.now().UTC(), id).Exec(ctx)
	return affectedOne(res, err, id)
}

func (a *users) SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewDelete().
		Model(&User{ID: id}).
		WherePK().
		Exec(ctx)
	return affectedOne(res, err, id)
}

func (a *users) RestoreTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	res, err := tx.NewRaw(`
		UPDATE "users"
		SET "deleted_at" = NULL, "updated_at" = ?
		WHERE "id" = ? AND "deleted_at" IS NOT NULL;
	`, a.now().UTC(), id).Exec(ctx)
	if err := affectedOne(res, err, id); err != nil {
		return nil, err
	}
	return a.GetByIDTx(ctx, tx, id)
}

// IncrementFailedSignIn bumps the counter in a single statement so concurrent
// failures are never lost. Reaching threshold stores lockoutEnd and starts the
// next window at zero.
func (a *users) IncrementFailedSignIn(ctx context.Context, user *User, threshold int, lockoutEnd time.Time) (int, bool, error) {
	var count int
	err := a.db.NewRaw(`
		UPDATE "users"
		SET "access_failed_count" = CASE WHEN "access_failed_count" + 1 >= ? THEN 0 ELSE "access_failed_count" + 1 END,
			"lockout_end" = CASE WHEN "access_failed_count" + 1 >= ? THEN ? ELSE "lockout_end" END
		WHERE "id" = ? AND "deleted_at" IS NULL
		RETURNING "access_failed_count";
	`, threshold, threshold, lockoutEnd.UTC(), user.ID).Scan(ctx, &count)
	if err != nil {
		return 0, false, notFoundOr(err, map[string]any{"id": user.ID.String()})
	}
	if count == 0 {
		return threshold, true, nil
	}
	return count, false, nil
}

func (a *users) ResetSignInFailures(ctx context.Context, user *User) error {
	_, err := a.db.NewRaw(`
		UPDATE "users"
		SET "access_failed_count" = 0, "lockout_end" = NULL, "loggedin_at" = ?
		WHERE "id" = ? AND "deleted_at" IS NULL;
	`, a.now().UTC(), user.ID).Exec(ctx)
	return err
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 2)
	if isEmail(trimmed) {
		options = append(options, identifierOption{column: "email", value: strings.ToLower(trimmed)})
	}
	return append(options, identifierOption{column: "username", value: trimmed})
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func notFoundOr(err error, meta map[string]any) error {
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return repository.NewRecordNotFound().WithMetadata(meta)
	}
	return err
}

func affectedOne(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{"id": id.String()})
	}
	return nil
}
