package idp_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	idp "github.com/goliatone/go-idp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockRepositoryManager implements idp.RepositoryManager. RunInTx executes
// the callback unless the expectation returns an error.
type MockRepositoryManager struct {
	mock.Mock
}

func (m *MockRepositoryManager) Validate() error {
	return m.Called().Error(0)
}

func (m *MockRepositoryManager) MustValidate() {
	m.Called()
}

func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	args := m.Called(ctx, opts, f)
	if err := args.Error(0); err != nil {
		return err
	}
	return f(ctx, bun.Tx{})
}

func (m *MockRepositoryManager) Users() idp.Users {
	return m.Called().Get(0).(idp.Users)
}

func (m *MockRepositoryManager) PasswordResets() idp.PasswordResets {
	return m.Called().Get(0).(idp.PasswordResets)
}

func (m *MockRepositoryManager) Organizations() idp.Organizations {
	return m.Called().Get(0).(idp.Organizations)
}

func (m *MockRepositoryManager) Memberships() idp.Memberships {
	return m.Called().Get(0).(idp.Memberships)
}

func (m *MockRepositoryManager) Roles() idp.Roles {
	return m.Called().Get(0).(idp.Roles)
}

func (m *MockRepositoryManager) AuthorizationCodes() idp.AuthorizationCodes {
	return m.Called().Get(0).(idp.AuthorizationCodes)
}

// MockUsers implements idp.Users.
type MockUsers struct {
	mock.Mock
}

func userOrNil(args mock.Arguments) *idp.User {
	if u, ok := args.Get(0).(*idp.User); ok {
		return u
	}
	return nil
}

func (m *MockUsers) GetByID(ctx context.Context, id uuid.UUID) (*idp.User, error) {
	args := m.Called(ctx, id)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) GetByEmailOrUsername(ctx context.Context, identifier string) (*idp.User, error) {
	args := m.Called(ctx, identifier)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) IncrementFailedSignIn(ctx context.Context, user *idp.User, threshold int, lockoutEnd time.Time) (int, bool, error) {
	args := m.Called(ctx, user, threshold, lockoutEnd)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *MockUsers) ResetSignInFailures(ctx context.Context, user *idp.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUsers) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*idp.User, error) {
	args := m.Called(ctx, tx, id)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) GetByIDWithDeletedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*idp.User, error) {
	args := m.Called(ctx, tx, id)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) GetByEmailOrUsernameTx(ctx context.Context, tx bun.IDB, identifier string) (*idp.User, error) {
	args := m.Called(ctx, tx, identifier)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) CreateTx(ctx context.Context, tx bun.IDB, user *idp.User) (*idp.User, error) {
	args := m.Called(ctx, tx, user)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) UpdateProfileTx(ctx context.Context, tx bun.IDB, user *idp.User) (*idp.User, error) {
	args := m.Called(ctx, tx, user)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) ConfirmEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*idp.User, error) {
	args := m.Called(ctx, tx, id)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return m.Called(ctx, tx, id, passwordHash).Error(0)
}

func (m *MockUsers) SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return m.Called(ctx, tx, id).Error(0)
}

func (m *MockUsers) RestoreTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*idp.User, error) {
	args := m.Called(ctx, tx, id)
	return userOrNil(args), args.Error(1)
}

// MockPasswordResets implements idp.PasswordResets.
type MockPasswordResets struct {
	mock.Mock
}

func (m *MockPasswordResets) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*idp.PasswordReset, error) {
	args := m.Called(ctx, tx, id)
	reset, _ := args.Get(0).(*idp.PasswordReset)
	return reset, args.Error(1)
}

func (m *MockPasswordResets) CreateTx(ctx context.Context, tx bun.IDB, reset *idp.PasswordReset) (*idp.PasswordReset, error) {
	args := m.Called(ctx, tx, reset)
	out, _ := args.Get(0).(*idp.PasswordReset)
	return out, args.Error(1)
}

func (m *MockPasswordResets) MarkResetTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	return m.Called(ctx, tx, id, at).Error(0)
}

// MockActivitySink implements idp.ActivitySink.
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event idp.ActivityEvent) error {
	return m.Called(ctx, event).Error(0)
}

// MockClientAuthenticator implements idp.ClientAuthenticator.
type MockClientAuthenticator struct {
	mock.Mock
}

func (m *MockClientAuthenticator) AuthenticateClient(ctx context.Context, gc idp.GrantContext) (idp.Client, error) {
	args := m.Called(ctx, gc)
	return args.Get(0).(idp.Client), args.Error(1)
}

// directory is an in-memory membership, role and permission source.
type directory struct {
	mu                sync.Mutex
	memberships       map[uuid.UUID][]idp.Membership
	roles             map[uuid.UUID][]string
	systemPermissions map[uuid.UUID][]string
	scopedPermissions map[uuid.UUID]map[uuid.UUID][]string
	organizations     map[uuid.UUID]*idp.Organization
	membershipsErr    error
	permissionLookups int
}

func newDirectory() *directory {
	return &directory{
		memberships:       map[uuid.UUID][]idp.Membership{},
		roles:             map[uuid.UUID][]string{},
		systemPermissions: map[uuid.UUID][]string{},
		scopedPermissions: map[uuid.UUID]map[uuid.UUID][]string{},
		organizations:     map[uuid.UUID]*idp.Organization{},
	}
}

func (d *directory) join(userID uuid.UUID, org *idp.Organization, primary bool, permissions ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.organizations[org.ID] = org
	d.memberships[userID] = append(d.memberships[userID], idp.Membership{
		OrganizationID: org.ID,
		UserID:         userID,
		TenantID:       org.TenantID,
		IsPrimary:      primary,
	})
	if d.scopedPermissions[userID] == nil {
		d.scopedPermissions[userID] = map[uuid.UUID][]string{}
	}
	d.scopedPermissions[userID][org.ID] = permissions
}

func (d *directory) setRoles(userID uuid.UUID, roles ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[userID] = roles
}

func (d *directory) MembershipsForUser(_ context.Context, userID uuid.UUID) ([]idp.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.membershipsErr != nil {
		return nil, d.membershipsErr
	}
	return append([]idp.Membership(nil), d.memberships[userID]...), nil
}

func (d *directory) IsMember(_ context.Context, organizationID, userID uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.memberships[userID] {
		if m.OrganizationID == organizationID {
			return true, nil
		}
	}
	return false, nil
}

func (d *directory) RoleNames(_ context.Context, userID uuid.UUID) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.roles[userID]...), nil
}

func (d *directory) SystemPermissions(_ context.Context, userID uuid.UUID) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.permissionLookups++
	return append([]string(nil), d.systemPermissions[userID]...), nil
}

func (d *directory) OrganizationPermissions(_ context.Context, userID, organizationID uuid.UUID) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.scopedPermissions[userID][organizationID]...), nil
}

func (d *directory) FindOrganization(_ context.Context, id uuid.UUID) (*idp.Organization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if org, ok := d.organizations[id]; ok {
		return org, nil
	}
	return nil, nil
}

// recordingListener records every hook call into a shared log.
type recordingListener struct {
	name   string
	log    *[]string
	before func(lc *idp.LifecycleContext) (idp.HookResult, error)
	after  func(lc *idp.LifecycleContext) error
}

func (l *recordingListener) BeforeLifecycle(_ context.Context, lc *idp.LifecycleContext) (idp.HookResult, error) {
	*l.log = append(*l.log, l.name+":before")
	if l.before != nil {
		return l.before(lc)
	}
	return idp.Continue(), nil
}

func (l *recordingListener) AfterLifecycle(_ context.Context, lc *idp.LifecycleContext) error {
	*l.log = append(*l.log, l.name+":after")
	if l.after != nil {
		return l.after(lc)
	}
	return nil
}

type testConfig struct {
	signingKey string
	issuer     string
	threshold  int
	lockout    time.Duration
}

func (c testConfig) GetSigningKey() string                   { return c.signingKey }
func (c testConfig) GetIssuer() string                       { return c.issuer }
func (c testConfig) GetAccessTokenTTL() time.Duration        { return time.Hour }
func (c testConfig) GetIdentityTokenTTL() time.Duration      { return 20 * time.Minute }
func (c testConfig) GetRefreshTokenTTL() time.Duration       { return 24 * time.Hour }
func (c testConfig) GetLockoutThreshold() int                { return c.threshold }
func (c testConfig) GetLockoutDuration() time.Duration       { return c.lockout }
func (c testConfig) GetTenantHeader() string                 { return idp.DefaultTenantHeader }
func (c testConfig) GetOrganizationAdminPrefix() string      { return idp.DefaultOrganizationAdminPrefix }
func (c testConfig) GetAfterHookPolicy() idp.AfterHookPolicy { return idp.AfterHookLogAndContinue }

func newTestConfig() testConfig {
	return testConfig{
		signingKey: "0123456789abcdef0123456789abcdef",
		issuer:     "https://idp.test",
		threshold:  3,
		lockout:    15 * time.Minute,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}
