package idp_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	idp "github.com/goliatone/go-idp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery"

type passwordGrantFixture struct {
	users   *MockUsers
	dir     *directory
	events  []idp.ActivityEvent
	handler *idp.PasswordGrantHandler
	now     time.Time
	user    *idp.User
}

func newPasswordGrantFixture(t *testing.T) *passwordGrantFixture {
	t.Helper()

	hash, err := idp.HashPassword(testPassword)
	require.NoError(t, err)

	f := &passwordGrantFixture{
		users: &MockUsers{},
		dir:   newDirectory(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		user: &idp.User{
			ID:             uuid.New(),
			Username:       "ada",
			Email:          "ada@example.com",
			DisplayName:    "Ada",
			PasswordHash:   hash,
			EmailConfirmed: true,
		},
	}

	sink := idp.ActivitySinkFunc(func(_ context.Context, e idp.ActivityEvent) error {
		f.events = append(f.events, e)
		return nil
	})

	signIn := idp.NewSignInManager(f.users, 3, 15*time.Minute).
		WithClock(fixedClock(f.now)).
		WithActivitySink(sink)

	pipeline := idp.NewAugmentationPipeline(idp.DefaultAugmentors(f.dir, f.dir, f.dir))
	f.handler = idp.NewPasswordGrantHandler(f.users, signIn, pipeline, idp.ScopeResources{
		idp.ScopeProfile: {"accounts"},
	})
	return f
}

func (f *passwordGrantFixture) grant(t *testing.T, password, scope string) (*idp.Principal, error) {
	gc := grantContext(t, idp.GrantRequest{
		GrantType: "password",
		ClientID:  "spa",
		Username:  "ada@example.com",
		Password:  password,
		Scope:     scope,
	})
	return f.handler.HandleGrant(context.Background(), gc)
}

func TestPasswordGrant_Success(t *testing.T) {
	f := newPasswordGrantFixture(t)
	f.users.On("GetByEmailOrUsername", mock.Anything, "ada@example.com").Return(f.user, nil).Once()

	org := &idp.Organization{ID: uuid.New(), TenantID: uuid.New(), Slug: "acme"}
	f.dir.join(f.user.ID, org, true, "orders.read")
	f.dir.setRoles(f.user.ID, "member")

	principal, err := f.grant(t, testPassword, "")
	require.NoError(t, err)

	assert.Equal(t, f.user.ID.String(), principal.Subject())
	assert.Equal(t, idp.DefaultPasswordScopes, principal.Scopes())
	assert.Equal(t, []string{"accounts"}, principal.Resources())
	assert.True(t, principal.HasClaim(idp.ClaimRole, "member"))
	assert.True(t, principal.HasClaim(idp.ClaimOrganization, org.ID.String()))
	assert.True(t, principal.HasClaim(idp.ClaimOrganizationPermission, idp.OrganizationPermission(org.ID.String(), "orders.read")))
	assert.False(t, principal.HasClaim(idp.ClaimPermission, "orders.read"))

	require.Len(t, f.events, 1)
	assert.Equal(t, idp.ActivityEventSignInSuccess, f.events[0].EventType)
	f.users.AssertExpectations(t)
}

func TestPasswordGrant_UnknownUserLooksLikeWrongPassword(t *testing.T) {
	f := newPasswordGrantFixture(t)
	f.users.On("GetByEmailOrUsername", mock.Anything, "ada@example.com").Return(nil, sql.ErrNoRows).Once()

	_, unknownErr := f.grant(t, testPassword, "")
	require.Error(t, unknownErr)

	f2 := newPasswordGrantFixture(t)
	f2.users.On("GetByEmailOrUsername", mock.Anything, "ada@example.com").Return(f2.user, nil).Once()
	f2.users.On("IncrementFailedSignIn", mock.Anything, f2.user, 3, f2.now.Add(15*time.Minute)).Return(1, false, nil).Once()

	_, wrongErr := f2.grant(t, "wrong password", "")
	require.Error(t, wrongErr)

	unknownStatus, unknownBody := idp.OAuthErrorBody(unknownErr)
	wrongStatus, wrongBody := idp.OAuthErrorBody(wrongErr)
	assert.Equal(t, idp.OAuthInvalidGrant, unknownBody.Error)
	assert.Equal(t, unknownStatus, wrongStatus)
	assert.Equal(t, unknownBody, wrongBody)
	f2.users.AssertExpectations(t)
}

func TestPasswordGrant_LocksOutAtThreshold(t *testing.T) {
	f := newPasswordGrantFixture(t)
	f.user.AccessFailedCount = 2
	f.users.On("GetByEmailOrUsername", mock.Anything, "ada@example.com").Return(f.user, nil).Once()
	f.users.On("IncrementFailedSignIn", mock.Anything, f.user, 3, f.now.Add(15*time.Minute)).Return(3, true, nil).Once()

	_, err := f.grant(t, "wrong password", "")
	require.Error(t, err)

	_, body := idp.OAuthErrorBody(err)
	assert.Equal(t, idp.OAuthInvalidGrant, body.Error)
	assert.Equal(t, "account locked", body.ErrorDescription)

	require.NotEmpty(t, f.events)
	assert.Equal(t, idp.ActivityEventLockout, f.events[len(f.events)-1].EventType)
	f.users.AssertExpectations(t)
}

func TestPasswordGrant_LockedUserRejectedWithCorrectPassword(t *testing.T) {
	f := newPasswordGrantFixture(t)
	until := f.now.Add(time.Minute)
	f.user.LockoutEnd = &until
	f.users.On("GetByEmailOrUsername", mock.Anything, "ada@example.com").Return(f.user, nil).Once()

	_, err := f.grant(t, testPassword, "")
	require.Error(t, err)

	_, body := idp.OAuthErrorBody(err)
	assert.Equal(t, "account locked", body.ErrorDescription)
	f.users.AssertNotCalled(t, "IncrementFailedSignIn", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.users.AssertNotCalled(t, "ResetSignInFailures", mock.Anything, mock.Anything)
}

func TestPasswordGrant_SuccessClearsFailures(t *testing.T) {
	f := newPasswordGrantFixture(t)
	f.user.AccessFailedCount = 2
	f.users.On("GetByEmailOrUsername", mock.Anything, "ada@example.com").Return(f.user, nil).Once()
	f.users.On("ResetSignInFailures", mock.Anything, f.user).Return(nil).Once()

	_, err := f.grant(t, testPassword, "openid")
	require.NoError(t, err)
	assert.Zero(t, f.user.AccessFailedCount)
	f.users.AssertExpectations(t)
}

func TestPasswordGrant_UnconfirmedEmail(t *testing.T) {
	f := newPasswordGrantFixture(t)
	f.user.EmailConfirmed = false
	f.users.On("GetByEmailOrUsername", mock.Anything, "ada@example.com").Return(f.user, nil).Once()

	_, err := f.grant(t, testPassword, "")
	require.Error(t, err)
	assert.Equal(t, idp.OAuthAccessDenied, idp.OAuthErrorCode(err))
}

func TestPasswordGrant_StoreFailureIsServerError(t *testing.T) {
	f := newPasswordGrantFixture(t)
	f.users.On("GetByEmailOrUsername", mock.Anything, "ada@example.com").Return(nil, assert.AnError).Once()

	_, err := f.grant(t, testPassword, "")
	require.Error(t, err)
	assert.Equal(t, idp.OAuthServerError, idp.OAuthErrorCode(err))
}
