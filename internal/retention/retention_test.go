package retention_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamdb/internal/retention"
	"streamdb/pkg/config"
	"streamdb/pkg/store"
	"streamdb/pkg/stream"
)

// fixture opens a store plus a backend whose clock is pinned in the
// past, so everything it writes is old enough to sweep.
func fixture(t *testing.T, clock func() time.Time) (*store.DB, *stream.Backend) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	opts := []stream.Option{}
	if clock != nil {
		opts = append(opts, stream.WithClock(clock))
	}
	backend, err := stream.NewBackend(db, opts...)
	require.NoError(t, err)
	return db, backend
}

func pastClock() func() time.Time {
	past := time.Now().UTC().Add(-48 * time.Hour)
	return func() time.Time { return past }
}

func TestRunOnceDeletesOrphans(t *testing.T) {
	db, backend := fixture(t, pastClock())
	ctx := context.Background()

	_, err := backend.CreateObject(ctx, map[string]any{
		"objectType": "user", "id": "orphan", "published": "2012-07-05T12:00:00Z",
	})
	require.NoError(t, err)
	_, err = backend.CreateObject(ctx, map[string]any{
		"objectType": "user", "id": "kept", "published": "2012-07-05T12:00:00Z",
	})
	require.NoError(t, err)
	_, err = backend.CreateActivity(ctx, map[string]any{
		"id": "a1", "verb": "post", "actor": "kept", "object": "note1",
	})
	require.NoError(t, err)

	s := retention.NewSweeper(db, backend, config.RetentionConfig{
		Enabled: true,
		MinAge:  config.Duration(time.Hour),
	})
	removed, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	found, err := db.Exists(store.BucketObjects, "orphan")
	require.NoError(t, err)
	assert.False(t, found)
	found, err = db.Exists(store.BucketObjects, "kept")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRunOnceDryRun(t *testing.T) {
	db, backend := fixture(t, pastClock())
	ctx := context.Background()

	_, err := backend.CreateObject(ctx, map[string]any{
		"objectType": "user", "id": "orphan", "published": "2012-07-05T12:00:00Z",
	})
	require.NoError(t, err)

	s := retention.NewSweeper(db, backend, config.RetentionConfig{
		Enabled: true,
		MinAge:  config.Duration(time.Hour),
		DryRun:  true,
	})
	removed, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	found, err := db.Exists(store.BucketObjects, "orphan")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRunOnceSparesYoungOrphans(t *testing.T) {
	db, backend := fixture(t, nil)
	ctx := context.Background()

	_, err := backend.CreateObject(ctx, map[string]any{
		"objectType": "user", "id": "fresh", "published": "2012-07-05T12:00:00Z",
	})
	require.NoError(t, err)

	s := retention.NewSweeper(db, backend, config.RetentionConfig{
		Enabled: true,
		MinAge:  config.Duration(time.Hour),
	})
	removed, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	found, err := db.Exists(store.BucketObjects, "fresh")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStartDisabled(t *testing.T) {
	db, backend := fixture(t, nil)
	s := retention.NewSweeper(db, backend, config.RetentionConfig{})
	cancel, err := s.Start(context.Background())
	require.NoError(t, err)
	cancel()
}

func TestStartRejectsInvalidCron(t *testing.T) {
	db, backend := fixture(t, nil)
	s := retention.NewSweeper(db, backend, config.RetentionConfig{
		Enabled: true,
		Cron:    "not a cron",
	})
	_, err := s.Start(context.Background())
	require.Error(t, err)
}
