// Package retention removes orphaned objects. Deleting an activity
// never deletes the objects it references, since objects may be shared
// across activities; over time that leaves objects no activity points
// at anymore. The sweeper periodically computes the referenced-object
// set and deletes unreferenced objects older than a configured age.
package retention

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adhocore/gronx"

	"streamdb/pkg/config"
	"streamdb/pkg/logger"
	"streamdb/pkg/store"
	"streamdb/pkg/stream"
)

// Sweeper owns one scheduled orphan sweep.
type Sweeper struct {
	db      *store.DB
	backend *stream.Backend
	cfg     config.RetentionConfig
}

// NewSweeper builds a sweeper over the given store and gateway.
func NewSweeper(db *store.DB, backend *stream.Backend, cfg config.RetentionConfig) *Sweeper {
	return &Sweeper{db: db, backend: backend, cfg: cfg}
}

// Start launches the scheduler when retention is enabled. Returns a
// cancel func; a no-op cancel when disabled.
func (s *Sweeper) Start(ctx context.Context) (context.CancelFunc, error) {
	if !s.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := s.cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", s.cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", s.cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "min_age", s.cfg.MinAge.Duration())
	ctx2, cancel := context.WithCancel(ctx)
	go s.runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler sleeps until each next cron tick and triggers a sweep.
func (s *Sweeper) runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if _, err := s.RunOnce(ctx); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single sweep and reports how many objects were
// deleted (or would have been, in dry-run mode).
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	refs, err := s.backend.ReferencedObjectIDs(ctx)
	if err != nil {
		return 0, err
	}
	ids, err := s.db.Keys(store.BucketObjects)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-s.cfg.MinAge.Duration())
	removed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if _, referenced := refs[id]; referenced {
			continue
		}
		created, ok := s.objectCreatedAt(id)
		if ok && created.After(cutoff) {
			// young orphans get a grace window: a nested-object save may
			// be mid-flight
			continue
		}
		if s.cfg.DryRun {
			logger.Info("retention_would_delete", "id", id)
			removed++
			continue
		}
		if err := s.db.Delete(store.BucketObjects, id); err != nil {
			logger.Error("retention_delete_failed", "id", id, "error", err)
			continue
		}
		removed++
	}
	logger.Info("retention_sweep_done",
		"objects", len(ids), "referenced", len(refs), "removed", removed,
		"dry_run", s.cfg.DryRun, "elapsed", time.Since(start))
	return removed, nil
}

// objectCreatedAt derives the creation time from the object's
// timestamp index entry.
func (s *Sweeper) objectCreatedAt(id string) (time.Time, bool) {
	entries, err := s.db.Indexes(store.BucketObjects, id)
	if err != nil {
		return time.Time{}, false
	}
	for _, e := range entries {
		if e.Name != store.IndexTimestamp {
			continue
		}
		if ts, err := strconv.ParseInt(e.Value, 10, 64); err == nil {
			return time.UnixMicro(ts).UTC(), true
		}
	}
	return time.Time{}, false
}
