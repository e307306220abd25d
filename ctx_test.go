package idp_test

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	idp "github.com/goliatone/go-idp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithOrganization_SetOnce(t *testing.T) {
	acme := idp.NewOrganizationContext(&idp.Organization{ID: uuid.New(), Slug: "acme"})
	globex := idp.NewOrganizationContext(&idp.Organization{ID: uuid.New(), Slug: "globex"})

	ctx, err := idp.WithOrganization(context.Background(), acme)
	require.NoError(t, err)

	same, err := idp.WithOrganization(ctx, globex)
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, idp.TextCodeOrganizationSet, richErr.TextCode)

	got, ok := idp.OrganizationFromContext(same)
	require.True(t, ok)
	assert.Equal(t, "acme", got.Slug)
}

func TestOrganizationFromContext_ReturnsCopy(t *testing.T) {
	org := &idp.Organization{ID: uuid.New(), Slug: "acme", Metadata: map[string]string{"plan": "pro"}}
	ctx, err := idp.WithOrganization(context.Background(), idp.NewOrganizationContext(org))
	require.NoError(t, err)

	first, _ := idp.OrganizationFromContext(ctx)
	first.Slug = "mutated"
	first.Metadata["plan"] = "free"

	second, ok := idp.OrganizationFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "acme", second.Slug)
	assert.Equal(t, "pro", second.Metadata["plan"])
}

func TestOrganizationFromContext_Empty(t *testing.T) {
	_, ok := idp.OrganizationFromContext(context.Background())
	assert.False(t, ok)

	_, err := idp.WithOrganization(context.Background(), nil)
	assert.Error(t, err)
}

func TestCan(t *testing.T) {
	assert.False(t, idp.Can(context.Background(), idp.PermissionManageUsers))

	claims := &idp.AccessTokenClaims{PermissionNames: []string{idp.PermissionManageUsers}}
	ctx := idp.WithAccessClaims(context.Background(), claims)
	assert.True(t, idp.Can(ctx, idp.PermissionManageUsers))
	assert.False(t, idp.Can(ctx, "billing:write"))
}

func TestCan_ScopedPermissionsFollowActiveOrganization(t *testing.T) {
	dir := newDirectory()
	user := &idp.User{ID: uuid.New()}
	orgA := &idp.Organization{ID: uuid.New(), TenantID: uuid.New(), Slug: "acme"}
	orgB := &idp.Organization{ID: uuid.New(), TenantID: uuid.New(), Slug: "globex"}
	dir.join(user.ID, orgA, true, "orders.admin", "orders.read")
	dir.join(user.ID, orgB, false, "orders.read")

	principal := idp.NewPrincipal(user.ID.String())
	pipeline := idp.NewAugmentationPipeline(idp.DefaultAugmentors(dir, dir, dir))
	require.NoError(t, pipeline.Run(context.Background(), user, principal))

	ts := newTestTokenService(testTime())
	res, err := ts.Issue(context.Background(), principal, "spa", idp.GrantTypePassword)
	require.NoError(t, err)
	claims, err := ts.ParseAccessToken(res.AccessToken)
	require.NoError(t, err)

	assert.False(t, claims.HasPermission("orders.admin"))

	unscoped := idp.WithAccessClaims(context.Background(), claims)
	assert.True(t, idp.Can(unscoped, "orders.admin"), "primary organization applies without a scope")

	inB, err := idp.WithOrganization(unscoped, idp.NewOrganizationContext(orgB))
	require.NoError(t, err)
	assert.False(t, idp.Can(inB, "orders.admin"))
	assert.True(t, idp.Can(inB, "orders.read"))

	assert.True(t, idp.CanInOrganization(unscoped, orgA.ID, "orders.admin"))
	assert.False(t, idp.CanInOrganization(unscoped, orgB.ID, "orders.admin"))
	assert.False(t, idp.CanInOrganization(unscoped, uuid.Nil, "orders.read"))
}

func TestCan_SystemPermissionAppliesEverywhere(t *testing.T) {
	org := idp.NewOrganizationContext(&idp.Organization{ID: uuid.New(), Slug: "acme"})
	claims := &idp.AccessTokenClaims{PermissionNames: []string{idp.PermissionManageUsers}}

	ctx, err := idp.WithOrganization(idp.WithAccessClaims(context.Background(), claims), org)
	require.NoError(t, err)

	assert.True(t, idp.Can(ctx, idp.PermissionManageUsers))
	assert.True(t, idp.CanInOrganization(ctx, uuid.New(), idp.PermissionManageUsers))
}
