package idp_test

import (
	"context"
	"errors"
	"testing"

	idp "github.com/goliatone/go-idp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func recordingStep(name string, phase idp.SeedPhase, log *[]string, err error) idp.SeedStep {
	return idp.SeedStep{
		Name:  name,
		Phase: phase,
		Run: func(context.Context, bun.Tx, idp.RepositoryManager, *idp.SeedState) error {
			*log = append(*log, name)
			return err
		},
	}
}

func TestSeeder_OrdersStepsByPhase(t *testing.T) {
	repo := &MockRepositoryManager{}
	repo.On("RunInTx", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	var log []string
	seeder := idp.NewSeeder(repo,
		recordingStep("ada", idp.SeedPhaseUsers, &log, nil),
		recordingStep("acme", idp.SeedPhaseOrganizations, &log, nil),
		recordingStep("admin", idp.SeedPhaseRoles, &log, nil),
		idp.SeedStep{Name: "empty", Phase: idp.SeedPhaseRoles},
		recordingStep("grace", idp.SeedPhaseUsers, &log, nil),
	)

	require.NoError(t, seeder.Run(context.Background()))
	assert.Equal(t, []string{"admin", "acme", "ada", "grace"}, log)
	repo.AssertExpectations(t)
}

func TestSeeder_StepsReturnsCopy(t *testing.T) {
	var log []string
	seeder := idp.NewSeeder(&MockRepositoryManager{}, recordingStep("admin", idp.SeedPhaseRoles, &log, nil))

	steps := seeder.Steps()
	steps[0].Name = "changed"
	assert.Equal(t, "admin", seeder.Steps()[0].Name)
}

func TestSeeder_StopsOnFirstFailure(t *testing.T) {
	repo := &MockRepositoryManager{}
	repo.On("RunInTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	boom := errors.New("duplicate key")
	var log []string
	err := idp.NewSeeder(repo,
		recordingStep("admin", idp.SeedPhaseRoles, &log, boom),
		recordingStep("ada", idp.SeedPhaseUsers, &log, nil),
	).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"admin"}, log)
}

func TestSeeder_HonoursCancellation(t *testing.T) {
	repo := &MockRepositoryManager{}
	repo.On("RunInTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var log []string
	err := idp.NewSeeder(repo, recordingStep("admin", idp.SeedPhaseRoles, &log, nil)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log)
}

func TestSeedData_Validate(t *testing.T) {
	valid := idp.SeedData{
		Roles:         []idp.SeedRole{{Name: "admin", Permissions: []string{idp.PermissionManageUsers}}},
		Organizations: []idp.SeedOrganization{{Slug: "acme"}},
		Users:         []idp.SeedUser{{Email: "ada@example.com", Password: "correct horse battery", Roles: []string{"admin"}}},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(d *idp.SeedData)
	}{
		{name: "role without name", mutate: func(d *idp.SeedData) { d.Roles[0].Name = " " }},
		{name: "organization without slug", mutate: func(d *idp.SeedData) { d.Organizations[0].Slug = "" }},
		{name: "user with bad email", mutate: func(d *idp.SeedData) { d.Users[0].Email = "ada" }},
		{name: "user without password", mutate: func(d *idp.SeedData) { d.Users[0].Password = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := idp.SeedData{
				Roles:         append([]idp.SeedRole(nil), valid.Roles...),
				Organizations: append([]idp.SeedOrganization(nil), valid.Organizations...),
				Users:         append([]idp.SeedUser(nil), valid.Users...),
			}
			tt.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestSeedData_StepsArePhased(t *testing.T) {
	data := idp.SeedData{
		Users:         []idp.SeedUser{{Email: "ada@example.com", Password: "x"}},
		Organizations: []idp.SeedOrganization{{Slug: "acme"}},
		Roles:         []idp.SeedRole{{Name: "admin"}},
	}

	steps := idp.NewSeeder(&MockRepositoryManager{}, data.Steps()...).Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, "role:admin", steps[0].Name)
	assert.Equal(t, "organization:acme", steps[1].Name)
	assert.Equal(t, "user:ada@example.com", steps[2].Name)
}

func TestSeeder_RunIsRepeatable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := idp.NewRepositoryManager(db)

	data := idp.SeedData{
		Roles:         []idp.SeedRole{{Name: "admin", Permissions: []string{idp.PermissionManageUsers}}},
		Organizations: []idp.SeedOrganization{{Slug: "acme", DisplayName: "Acme"}},
		Users: []idp.SeedUser{{
			Email:             "Ada@Example.com",
			Password:          "correct horse battery",
			Roles:             []string{"admin"},
			Organizations:     []string{"acme"},
			OrganizationRoles: map[string][]string{"acme": {"admin"}},
		}},
	}

	require.NoError(t, idp.NewSeeder(repo, data.Steps()...).Run(ctx))
	first, err := repo.Users().GetByEmailOrUsername(ctx, "ada@example.com")
	require.NoError(t, err)

	require.NoError(t, idp.NewSeeder(repo, data.Steps()...).Run(ctx), "second boot must not fail on existing rows")

	again, err := repo.Users().GetByEmailOrUsername(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.PasswordHash, again.PasswordHash)

	memberships, err := repo.Memberships().MembershipsForUser(ctx, again.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.True(t, memberships[0].IsPrimary)

	roles, err := repo.Roles().RoleNames(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, roles)

	permissions, err := repo.Roles().SystemPermissions(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{idp.PermissionManageUsers}, permissions)
}
