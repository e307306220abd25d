package jwtware_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-idp/middleware/jwtware"
)

type ctxKey struct{}

// testContext overrides the router context calls the middleware makes.
type testContext struct {
	*router.MockContext
	headers    map[string]string
	locals     map[any]any
	std        context.Context
	status     int
	body       string
	nextCalled bool
}

func newTestContext(headers map[string]string) *testContext {
	return &testContext{
		MockContext: router.NewMockContext(),
		headers:     headers,
		locals:      map[any]any{},
		std:         context.Background(),
	}
}

func (c *testContext) Header(key string) string       { return c.headers[key] }
func (c *testContext) Context() context.Context       { return c.std }
func (c *testContext) SetContext(ctx context.Context) { c.std = ctx }

func (c *testContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.locals[key] = value[0]
		return value[0]
	}
	return c.locals[key]
}

func (c *testContext) Status(code int) router.Context {
	c.status = code
	return c
}

func (c *testContext) SendString(s string) error {
	c.body = s
	return nil
}

func (c *testContext) Next() error {
	c.nextCalled = true
	return nil
}

func sign(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	if claims["exp"] == nil {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	if _, ok := claims["token_use"]; !ok {
		claims["token_use"] = jwtware.TokenUseAccess
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func run(mw router.MiddlewareFunc, ctx router.Context) error {
	return mw(func(router.Context) error { return nil })(ctx)
}

func TestJWTWare_ValidBearerToken(t *testing.T) {
	key := []byte("test-secret")
	token := sign(t, key, jwt.MapClaims{
		"sub":         "user-1",
		"scope":       "openid api",
		"permissions": []string{"reports.read"},
	})

	mw := jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: key, JWTAlg: jwt.SigningMethodHS256.Alg()},
		ContextEnricher: func(ctx context.Context, claims jwtware.AccessClaims) context.Context {
			return context.WithValue(ctx, ctxKey{}, claims.Subject())
		},
	})

	ctx := newTestContext(map[string]string{"Authorization": "Bearer " + token})
	require.NoError(t, run(mw, ctx))

	assert.True(t, ctx.nextCalled)
	claims, ok := ctx.locals["user"].(*jwtware.Claims)
	require.True(t, ok)
	assert.Equal(t, "user-1", claims.Subject())
	assert.True(t, claims.HasScope("api"))
	assert.Equal(t, "user-1", ctx.std.Value(ctxKey{}))
}

func TestJWTWare_MissingToken(t *testing.T) {
	mw := jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: []byte("k")},
	})

	ctx := newTestContext(map[string]string{})
	require.NoError(t, run(mw, ctx))

	assert.False(t, ctx.nextCalled)
	assert.Equal(t, router.StatusBadRequest, ctx.status)
}

func TestJWTWare_ExpiredToken(t *testing.T) {
	key := []byte("test-secret")
	token := sign(t, key, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	mw := jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: key, JWTAlg: jwt.SigningMethodHS256.Alg()},
	})

	ctx := newTestContext(map[string]string{"Authorization": "Bearer " + token})
	require.NoError(t, run(mw, ctx))

	assert.False(t, ctx.nextCalled)
	assert.Equal(t, router.StatusUnauthorized, ctx.status)
}

func TestJWTWare_WrongAlgorithmRejected(t *testing.T) {
	key := []byte("test-secret")
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	mw := jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: key, JWTAlg: jwt.SigningMethodHS256.Alg()},
	})

	ctx := newTestContext(map[string]string{"Authorization": "Bearer " + signed})
	require.NoError(t, run(mw, ctx))
	assert.Equal(t, router.StatusUnauthorized, ctx.status)
}

func TestJWTWare_RejectsNonAccessTokens(t *testing.T) {
	key := []byte("test-secret")

	refresh := sign(t, key, jwt.MapClaims{"sub": "user-1", "token_use": "refresh", "client_id": "spa"})

	identity, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-1",
		"aud":   "spa",
		"email": "ada@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
	}{
		{name: "refresh token", token: refresh},
		{name: "identity token", token: identity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := jwtware.New(jwtware.Config{
				SigningKey: jwtware.SigningKey{Key: key, JWTAlg: jwt.SigningMethodHS256.Alg()},
			})
			ctx := newTestContext(map[string]string{"Authorization": "Bearer " + tc.token})
			require.NoError(t, run(mw, ctx))

			assert.False(t, ctx.nextCalled)
			assert.Equal(t, router.StatusUnauthorized, ctx.status)
		})
	}
}

func TestJWTWare_ConfiguredTokenUse(t *testing.T) {
	key := []byte("test-secret")
	token := sign(t, key, jwt.MapClaims{"sub": "user-1", "token_use": "refresh"})

	mw := jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: key},
		TokenUse:   "refresh",
	})
	ctx := newTestContext(map[string]string{"Authorization": "Bearer " + token})
	require.NoError(t, run(mw, ctx))
	assert.True(t, ctx.nextCalled)

	_, err := jwtware.KeyfuncValidator(func(*jwt.Token) (any, error) { return key, nil }).Validate(token)
	assert.ErrorIs(t, err, jwtware.ErrUnexpectedTokenUse)
}

func TestJWTWare_RequiredPermission(t *testing.T) {
	key := []byte("test-secret")
	token := sign(t, key, jwt.MapClaims{"sub": "user-1", "permissions": []string{"reports.read"}})

	cases := []struct {
		name       string
		permission string
		wantNext   bool
		wantStatus int
	}{
		{name: "granted", permission: "reports.read", wantNext: true},
		{name: "missing", permission: "reports.write", wantStatus: router.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := jwtware.New(jwtware.Config{
				SigningKey:          jwtware.SigningKey{Key: key},
				RequiredPermissions: []string{tc.permission},
			})
			ctx := newTestContext(map[string]string{"Authorization": "Bearer " + token})
			require.NoError(t, run(mw, ctx))
			assert.Equal(t, tc.wantNext, ctx.nextCalled)
			assert.Equal(t, tc.wantStatus, ctx.status)
		})
	}
}

func TestJWTWare_CustomValidatorTakesPrecedence(t *testing.T) {
	called := false
	mw := jwtware.New(jwtware.Config{
		TokenValidator: jwtware.TokenValidatorFunc(func(raw string) (jwtware.AccessClaims, error) {
			called = true
			assert.Equal(t, "opaque", raw)
			return &jwtware.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "svc"}}, nil
		}),
	})

	ctx := newTestContext(map[string]string{"Authorization": "Bearer opaque"})
	require.NoError(t, run(mw, ctx))

	assert.True(t, called)
	assert.True(t, ctx.nextCalled)
}

func TestJWTWare_FilterSkips(t *testing.T) {
	mw := jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: []byte("k")},
		Filter:     func(router.Context) bool { return true },
	})

	ctx := newTestContext(nil)
	require.NoError(t, run(mw, ctx))
	assert.True(t, ctx.nextCalled)
}

func TestJWTWare_PanicsWithoutKeySource(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.New(jwtware.Config{})
	})
}

func TestClaims_MemberOfIgnoresCase(t *testing.T) {
	c := &jwtware.Claims{OrganizationIDs: []string{"6F9619FF-8B86-D011-B42D-00CF4FC964FF"}}
	assert.True(t, c.MemberOf("6f9619ff-8b86-d011-b42d-00cf4fc964ff"))
	assert.False(t, c.MemberOf("other"))
}

func TestClaims_HasOrganizationPermission(t *testing.T) {
	c := &jwtware.Claims{
		PermissionNames: []string{"reports.read"},
		OrgPermissions:  []string{"6f9619ff-8b86-d011-b42d-00cf4fc964ff:orders.admin"},
	}
	assert.True(t, c.HasOrganizationPermission("6F9619FF-8B86-D011-B42D-00CF4FC964FF", "orders.admin"))
	assert.False(t, c.HasOrganizationPermission("other", "orders.admin"))
	assert.False(t, c.HasOrganizationPermission("", "reports.read"))
	assert.False(t, c.HasPermission("orders.admin"))
}
