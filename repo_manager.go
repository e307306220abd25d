package idp

import (
	"context"
	"database/sql"
	"errors"
	"log"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories.
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	PasswordResets() PasswordResets
	Organizations() Organizations
	Memberships() Memberships
	Roles() Roles
	AuthorizationCodes() AuthorizationCodes
}

type mngr struct {
	db                 *bun.DB
	users              Users
	passwordResets     PasswordResets
	organizations      Organizations
	memberships        Memberships
	roles              Roles
	authorizationCodes AuthorizationCodes
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:                 db,
		users:              NewUsersRepository(db),
		passwordResets:     NewPasswordResetsRepository(db),
		organizations:      NewOrganizationsRepository(db),
		memberships:        NewMembershipsRepository(db),
		roles:              NewRolesRepository(db),
		authorizationCodes: NewAuthorizationCodesRepository(db),
	}
}

func (m mngr) Validate() error {
	var errs []error
	if m.users == nil {
		errs = append(errs, errors.New("repository users should be initialized"))
	}
	if m.passwordResets == nil {
		errs = append(errs, errors.New("repository passwordResets should be initialized"))
	}
	if m.organizations == nil {
		errs = append(errs, errors.New("repository organizations should be initialized"))
	}
	if m.memberships == nil {
		errs = append(errs, errors.New("repository memberships should be initialized"))
	}
	if m.roles == nil {
		errs = append(errs, errors.New("repository roles should be initialized"))
	}
	if m.authorizationCodes == nil {
		errs = append(errs, errors.New("repository authorizationCodes should be initialized"))
	}
	return errors.Join(errs...)
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users                           { return m.users }
func (m mngr) PasswordResets() PasswordResets         { return m.passwordResets }
func (m mngr) Organizations() Organizations           { return m.organizations }
func (m mngr) Memberships() Memberships               { return m.memberships }
func (m mngr) Roles() Roles                           { return m.roles }
func (m mngr) AuthorizationCodes() AuthorizationCodes { return m.authorizationCodes }
