package idempotency_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkanalytics/internal/idempotency"
	"vkanalytics/internal/testsupport"
)

func TestNormalizeKey(t *testing.T) {
	key, ok := idempotency.NormalizeKey("  abc-123 ")
	assert.True(t, ok)
	assert.Equal(t, "abc-123", key)

	_, ok = idempotency.NormalizeKey("   ")
	assert.False(t, ok)

	_, ok = idempotency.NormalizeKey(strings.Repeat("k", idempotency.MaxKeyLength+1))
	assert.False(t, ok)
}

// exerciseStore checks the shared contract with a controllable clock.
func exerciseStore(t *testing.T, store idempotency.Store, advance func(time.Duration)) {
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put(ctx, "k1", []byte(`{"ok":true}`), time.Hour))
	value, found, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"ok":true}`, string(value))

	require.NoError(t, store.Put(ctx, "k1", []byte(`{"ok":false}`), time.Hour))
	value, _, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false}`, string(value))

	advance(2 * time.Hour)
	_, found, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found, "expired entries must not be replayed")
}

func TestMemoryStore(t *testing.T) {
	clock := testsupport.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	store := idempotency.NewMemoryStore().WithClock(clock.Now)

	exerciseStore(t, store, clock.Advance)
	assert.Zero(t, store.Len())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := idempotency.NewMemoryStore()
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", value, time.Hour))
	value[0] = 'x'

	got, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestSQLStore(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	clock := testsupport.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	store := idempotency.NewSQLStore(db).WithClock(clock.Now)

	exerciseStore(t, store, clock.Advance)

	swept, err := store.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
}

func TestBadgerStore(t *testing.T) {
	store, err := idempotency.OpenInMemoryBadgerStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put(ctx, "k1", []byte(`{"message":"Thanks!"}`), time.Hour))
	value, found, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"message":"Thanks!"}`, string(value))

	require.NoError(t, store.Put(ctx, "short", []byte("x"), time.Second))
	time.Sleep(2 * time.Second)
	_, found, err = store.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBadgerStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := idempotency.OpenBadgerStore(dir, testsupport.GetLogger())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "persist", []byte("1"), time.Hour))
	require.NoError(t, store.Close())

	reopened, err := idempotency.OpenBadgerStore(dir, testsupport.GetLogger())
	require.NoError(t, err)
	defer reopened.Close()

	value, found, err := reopened.Get(context.Background(), "persist")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", string(value))
}
