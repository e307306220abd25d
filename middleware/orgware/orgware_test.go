package orgware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idp "github.com/goliatone/go-idp"
	"github.com/goliatone/go-idp/middleware/orgware"
)

type memberships struct {
	members map[uuid.UUID][]uuid.UUID
}

func (m memberships) MembershipsForUser(ctx context.Context, userID uuid.UUID) ([]idp.Membership, error) {
	return nil, nil
}

func (m memberships) IsMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	for _, id := range m.members[orgID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type organizations map[uuid.UUID]*idp.Organization

func (o organizations) FindOrganization(ctx context.Context, id uuid.UUID) (*idp.Organization, error) {
	if org, ok := o[id]; ok {
		return org, nil
	}
	return nil, nil
}

type fixture struct {
	userID  uuid.UUID
	orgID   uuid.UUID
	foreign uuid.UUID
	handler http.Handler
	reached *bool
	scope   **idp.OrganizationContext
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	f := fixture{
		userID:  uuid.New(),
		orgID:   uuid.New(),
		foreign: uuid.New(),
	}

	resolver := idp.NewOrganizationResolver(
		memberships{members: map[uuid.UUID][]uuid.UUID{f.orgID: {f.userID}}},
		organizations{
			f.orgID:   {ID: f.orgID, TenantID: uuid.New(), Slug: "acme", DisplayName: "Acme"},
			f.foreign: {ID: f.foreign, TenantID: uuid.New(), Slug: "other"},
		},
	)

	var reached bool
	var scope *idp.OrganizationContext
	f.reached = &reached
	f.scope = &scope

	downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		scope, _ = idp.OrganizationFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	f.handler = orgware.NewHTTP(orgware.Config{Resolver: resolver})(downstream)
	return f
}

func claimsFor(sub string, orgs []string, permissions ...string) *idp.AccessTokenClaims {
	return &idp.AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
		OrganizationIDs:  orgs,
		PermissionNames:  permissions,
	}
}

func serve(f fixture, path, header string, claims idp.AccessClaims) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set(idp.DefaultTenantHeader, header)
	}
	if claims != nil {
		req = req.WithContext(idp.WithAccessClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestNewHTTP_EstablishesScopeForMember(t *testing.T) {
	f := newFixture(t)

	rec := serve(f, "/api/reports", f.orgID.String(), claimsFor(f.userID.String(), []string{f.orgID.String()}))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, *f.reached)
	require.NotNil(t, *f.scope)
	assert.Equal(t, f.orgID, (*f.scope).ID)
	assert.Equal(t, "acme", (*f.scope).Slug)
}

func TestNewHTTP_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		header   func(f fixture) string
		claims   func(f fixture) idp.AccessClaims
		status   int
		textCode string
	}{
		{
			name:     "malformed header",
			header:   func(fixture) string { return "not-a-uuid" },
			claims:   func(f fixture) idp.AccessClaims { return claimsFor(f.userID.String(), nil) },
			status:   http.StatusBadRequest,
			textCode: idp.TextCodeMalformedOrganization,
		},
		{
			name:     "malformed subject",
			header:   func(f fixture) string { return f.orgID.String() },
			claims:   func(f fixture) idp.AccessClaims { return claimsFor("client-app", nil) },
			status:   http.StatusUnauthorized,
			textCode: idp.TextCodeMissingIdentity,
		},
		{
			name:     "foreign organization without claim",
			header:   func(f fixture) string { return f.foreign.String() },
			claims:   func(f fixture) idp.AccessClaims { return claimsFor(f.userID.String(), []string{f.orgID.String()}) },
			status:   http.StatusForbidden,
			textCode: idp.TextCodeNotMember,
		},
		{
			name:   "stale claim for revoked membership",
			header: func(f fixture) string { return f.foreign.String() },
			claims: func(f fixture) idp.AccessClaims {
				return claimsFor(f.userID.String(), []string{f.foreign.String()})
			},
			status:   http.StatusForbidden,
			textCode: idp.TextCodeNotMember,
		},
		{
			name:   "unknown organization for admin",
			header: func(fixture) string { return uuid.NewString() },
			claims: func(f fixture) idp.AccessClaims {
				return claimsFor(f.userID.String(), nil, idp.PermissionReadOrganizations)
			},
			status:   http.StatusNotFound,
			textCode: idp.TextCodeOrganizationNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rec := serve(f, "/api/reports", tc.header(f), tc.claims(f))

			assert.Equal(t, tc.status, rec.Code)
			assert.False(t, *f.reached)

			var body orgware.ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.textCode, body.Error)
		})
	}
}

func TestNewHTTP_PassThrough(t *testing.T) {
	f := newFixture(t)

	t.Run("no header", func(t *testing.T) {
		rec := serve(f, "/api/reports", "", claimsFor(f.userID.String(), nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Nil(t, *f.scope)
	})

	t.Run("anonymous", func(t *testing.T) {
		rec := serve(f, "/api/reports", f.orgID.String(), nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Nil(t, *f.scope)
	})

	t.Run("admin path ignores header", func(t *testing.T) {
		rec := serve(f, idp.DefaultOrganizationAdminPrefix+"/"+f.foreign.String(), f.foreign.String(), claimsFor(f.userID.String(), nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Nil(t, *f.scope)
	})
}

func TestNewHTTP_AdminBypassesMembership(t *testing.T) {
	f := newFixture(t)

	rec := serve(f, "/api/reports", f.foreign.String(), claimsFor(f.userID.String(), nil, idp.PermissionManageOrganizations))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, *f.scope)
	assert.Equal(t, f.foreign, (*f.scope).ID)
}

// routerContext overrides the router context calls the middleware makes.
type routerContext struct {
	*router.MockContext
	path       string
	headers    map[string]string
	std        context.Context
	status     int
	payload    any
	nextCalled bool
}

func (c *routerContext) Path() string                   { return c.path }
func (c *routerContext) Header(key string) string       { return c.headers[key] }
func (c *routerContext) Context() context.Context       { return c.std }
func (c *routerContext) SetContext(ctx context.Context) { c.std = ctx }

func (c *routerContext) JSON(code int, val any) error {
	c.status = code
	c.payload = val
	return nil
}

func (c *routerContext) Next() error {
	c.nextCalled = true
	return nil
}

func TestNew_RouterMiddleware(t *testing.T) {
	userID, orgID := uuid.New(), uuid.New()
	resolver := idp.NewOrganizationResolver(
		memberships{members: map[uuid.UUID][]uuid.UUID{orgID: {userID}}},
		organizations{orgID: {ID: orgID, Slug: "acme"}},
	)
	mw := orgware.New(orgware.Config{Resolver: resolver})
	handler := mw(func(router.Context) error { return nil })

	t.Run("member", func(t *testing.T) {
		ctx := &routerContext{
			MockContext: router.NewMockContext(),
			path:        "/api/reports",
			headers:     map[string]string{idp.DefaultTenantHeader: orgID.String()},
			std:         idp.WithAccessClaims(context.Background(), claimsFor(userID.String(), []string{orgID.String()})),
		}
		require.NoError(t, handler(ctx))

		assert.True(t, ctx.nextCalled)
		oc, ok := idp.OrganizationFromContext(ctx.std)
		require.True(t, ok)
		assert.Equal(t, orgID, oc.ID)
	})

	t.Run("non member halts", func(t *testing.T) {
		ctx := &routerContext{
			MockContext: router.NewMockContext(),
			path:        "/api/reports",
			headers:     map[string]string{idp.DefaultTenantHeader: uuid.NewString()},
			std:         idp.WithAccessClaims(context.Background(), claimsFor(userID.String(), nil)),
		}
		require.NoError(t, handler(ctx))

		assert.False(t, ctx.nextCalled)
		assert.Equal(t, http.StatusForbidden, ctx.status)
		_, ok := idp.OrganizationFromContext(ctx.std)
		assert.False(t, ok)
	})
}

func TestRender_HidesInternalDetails(t *testing.T) {
	status, body := orgware.Render(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "server_error", body.Error)
}
