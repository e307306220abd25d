package idp_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	idp "github.com/goliatone/go-idp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func openTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, idp.Migrate(context.Background(), db, nil))
	return db
}

func TestUsersRepository_IncrementFailedSignInIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := idp.NewUsersRepository(db)

	user, err := users.CreateTx(ctx, db, &idp.User{
		Username: "ada",
		Email:    "ada@example.com",
	})
	require.NoError(t, err)

	lockoutEnd := testTime().Add(15 * time.Minute)

	const attempts = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		locked int
	)
	for i := 0; i < attempts; i++ {
		stale := *user
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, isLocked, err := users.IncrementFailedSignIn(ctx, &stale, 5, lockoutEnd)
			assert.NoError(t, err)
			if isLocked {
				mu.Lock()
				locked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, locked)

	stored, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.AccessFailedCount)
	require.NotNil(t, stored.LockoutEnd)
	assert.True(t, lockoutEnd.Equal(stored.LockoutEnd.UTC()))
}

func TestUsersRepository_IncrementFailedSignInCounts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := idp.NewUsersRepository(db)

	user, err := users.CreateTx(ctx, db, &idp.User{Username: "grace", Email: "grace@example.com"})
	require.NoError(t, err)

	count, locked, err := users.IncrementFailedSignIn(ctx, user, 3, testTime())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, locked)

	count, locked, err = users.IncrementFailedSignIn(ctx, user, 3, testTime())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.False(t, locked)

	_, _, err = users.IncrementFailedSignIn(ctx, &idp.User{ID: uuid.New()}, 3, testTime())
	require.Error(t, err)
}
