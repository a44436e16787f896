package visitors_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkanalytics/internal/testsupport"
	"vkanalytics/internal/visitors"
)

func strPtr(s string) *string { return &s }

func TestUpsert(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("inserts first-touch attribution", func(t *testing.T) {
		err := visitors.Upsert(db, visitors.UpsertParams{
			VisitorID:   "v-attr",
			SeenAt:      first,
			Attribution: visitors.Attribution{UTMSource: strPtr("a"), Referrer: strPtr("https://google.com/")},
			Context:     visitors.Context{DeviceDisplay: "Mac", BrowserDisplay: "Mac/Chrome"},
		}, true)
		require.NoError(t, err)

		v, err := visitors.Get(db, "v-attr")
		require.NoError(t, err)
		assert.True(t, first.Equal(v.FirstSeenAt))
		assert.True(t, first.Equal(v.LastSeenAt))
		require.NotNil(t, v.UTMSource)
		assert.Equal(t, "a", *v.UTMSource)
		require.NotNil(t, v.DeviceDisplay)
		assert.Equal(t, "Mac", *v.DeviceDisplay)
		assert.Nil(t, v.LocationDisplay)
	})

	t.Run("later visits never overwrite attribution", func(t *testing.T) {
		later := first.Add(2 * time.Hour)
		err := visitors.Upsert(db, visitors.UpsertParams{
			VisitorID:   "v-attr",
			SeenAt:      later,
			Attribution: visitors.Attribution{UTMSource: strPtr("b"), Referrer: strPtr("https://bing.com/")},
			Context:     visitors.Context{LocationDisplay: "Berlin, Germany"},
		}, true)
		require.NoError(t, err)

		v, err := visitors.Get(db, "v-attr")
		require.NoError(t, err)
		assert.True(t, first.Equal(v.FirstSeenAt))
		assert.True(t, later.Equal(v.LastSeenAt))
		assert.Equal(t, "a", *v.UTMSource)
		assert.Equal(t, "https://google.com/", *v.Referrer)
		assert.Equal(t, "Mac", *v.DeviceDisplay, "missing display value must not blank the stored one")
		assert.Equal(t, "Berlin, Germany", *v.LocationDisplay)
	})

	t.Run("last_seen_at never moves backwards", func(t *testing.T) {
		err := visitors.Upsert(db, visitors.UpsertParams{VisitorID: "v-attr", SeenAt: first.Add(-time.Hour)}, true)
		require.NoError(t, err)

		v, err := visitors.Get(db, "v-attr")
		require.NoError(t, err)
		assert.True(t, first.Add(2*time.Hour).Equal(v.LastSeenAt))
	})

	t.Run("narrow upsert skips display columns", func(t *testing.T) {
		err := visitors.Upsert(db, visitors.UpsertParams{
			VisitorID: "v-narrow",
			SeenAt:    first,
			Context:   visitors.Context{DeviceDisplay: "Linux"},
		}, false)
		require.NoError(t, err)

		v, err := visitors.Get(db, "v-narrow")
		require.NoError(t, err)
		assert.Nil(t, v.DeviceDisplay)
	})
}

func TestEnrich(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, visitors.Upsert(db, visitors.UpsertParams{VisitorID: "v-enrich", SeenAt: now}, true))

	t.Run("requires at least one field", func(t *testing.T) {
		err := visitors.Enrich(db, "v-enrich", visitors.Identity{Email: "  ", Name: ""}, now)
		assert.ErrorIs(t, err, visitors.ErrNoIdentityFields)
	})

	t.Run("same identity twice yields the same state", func(t *testing.T) {
		id := visitors.Identity{Email: " jane@example.com ", Name: "Jane"}
		require.NoError(t, visitors.Enrich(db, "v-enrich", id, now))
		once, err := visitors.Get(db, "v-enrich")
		require.NoError(t, err)

		require.NoError(t, visitors.Enrich(db, "v-enrich", id, now))
		twice, err := visitors.Get(db, "v-enrich")
		require.NoError(t, err)

		assert.Equal(t, "jane@example.com", *twice.Email)
		assert.Equal(t, *once.Email, *twice.Email)
		assert.Equal(t, *once.Name, *twice.Name)
		require.NotNil(t, twice.EnrichedAt)
	})

	t.Run("name only keeps the stored email", func(t *testing.T) {
		require.NoError(t, visitors.Enrich(db, "v-enrich", visitors.Identity{Name: "Jane Doe"}, now))

		state, err := visitors.ReturnVisitState(db, "v-enrich")
		require.NoError(t, err)
		assert.Equal(t, "jane@example.com", state.Email)
		assert.Equal(t, "Jane Doe", state.Name)
	})

	t.Run("unknown visitor is a no-op", func(t *testing.T) {
		assert.NoError(t, visitors.Enrich(db, "nobody", visitors.Identity{Email: "x@example.com"}, now))
		_, err := visitors.Get(db, "nobody")
		assert.ErrorIs(t, err, visitors.ErrVisitorNotFound)
	})
}

func TestReturnVisitState(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	_, err := visitors.ReturnVisitState(db, "missing")
	assert.ErrorIs(t, err, visitors.ErrVisitorNotFound)

	require.NoError(t, visitors.Upsert(db, visitors.UpsertParams{VisitorID: "v-rv", SeenAt: now}, true))
	state, err := visitors.ReturnVisitState(db, "v-rv")
	require.NoError(t, err)
	assert.Empty(t, state.Email)
	assert.Nil(t, state.ReturnVisitNotifiedAt)

	require.NoError(t, visitors.StampReturnVisit(db, "v-rv", now))
	state, err = visitors.ReturnVisitState(db, "v-rv")
	require.NoError(t, err)
	require.NotNil(t, state.ReturnVisitNotifiedAt)
	assert.True(t, now.Equal(*state.ReturnVisitNotifiedAt))
}
