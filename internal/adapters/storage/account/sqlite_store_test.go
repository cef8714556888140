package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitlist/internal/adapters/storage"
	domain "waitlist/internal/domain/account"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.InitDB(db))
	return NewSQLiteStore(db)
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	acct := domain.Account{ID: "a1", Email: "Coach@Example.com", PasswordHash: "hash", CreatedAt: created}
	acct.GrantAdmin()
	require.NoError(t, store.Save(ctx, acct))

	got, err := store.GetByEmail(ctx, "coach@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, "coach@example.com", got.Email)
	assert.True(t, got.IsAdmin())
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.LockedUntil.IsZero())

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_UpdateKeepsCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, domain.Account{ID: "a1", Email: "x@y.com", CreatedAt: created}))

	locked := created.Add(time.Hour)
	require.NoError(t, store.Save(ctx, domain.Account{
		ID: "a1", Email: "x@y.com", CreatedAt: created.Add(48 * time.Hour),
		FailedLogins: 5, LockedUntil: locked, Claims: domain.Claims{Admin: true},
	}))

	got, err := store.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(created), "created_at must not change on update")
	assert.Equal(t, 5, got.FailedLogins)
	assert.True(t, got.LockedUntil.Equal(locked))
	assert.True(t, got.IsAdmin())
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
