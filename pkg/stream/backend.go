// Package stream is the gateway between callers and the record store:
// it owns the save path for activities and their nested objects, the
// reaction (reply/like) lifecycle, audience-scoped batch retrieval, and
// the hydration of foreign-key references into full records.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streamdb/pkg/logger"
	"streamdb/pkg/models"
	"streamdb/pkg/store"
)

// IndexInReplyTo is the secondary index linking a reaction to its
// parent activity.
const IndexInReplyTo = "inreplyto"

// Store is the key-value substrate the gateway runs on. Any store
// offering per-key CRUD, key enumeration, secondary-index equality
// lookup and a batch map/filter/sort facility is a valid substrate.
type Store interface {
	Put(bucket, id string, value []byte, idx []store.IndexEntry) error
	Get(bucket, id string) ([]byte, bool, error)
	Exists(bucket, id string) (bool, error)
	Delete(bucket, id string) error
	Indexes(bucket, id string) ([]store.IndexEntry, error)
	Keys(bucket string) ([]string, error)
	QueryIndex(bucket, name, value string) ([]string, error)
	FetchMany(bucket string, ids []string, opts store.FetchOptions) ([]map[string]any, error)
}

// Backend is the store gateway. All operations are synchronous; any
// parallelism is the caller's responsibility.
type Backend struct {
	db  Store
	now func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// NewBackend builds a gateway over the given store.
func NewBackend(db Store, opts ...Option) (*Backend, error) {
	if db == nil {
		return nil, models.ConfigurationError{Reason: "store handle is required"}
	}
	b := &Backend{db: db, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// GetActivitiesOptions tunes a batch activity read.
type GetActivitiesOptions struct {
	// Filters keeps a record when any listed field equals any of its
	// allowed values. Does not reach into nested records.
	Filters map[string][]any
	// RawFilter is a custom keep-predicate. When set, Filters is skipped;
	// audience targeting still applies.
	RawFilter func(map[string]any) bool
	// AudienceTargeting maps an audience field (to, bto, cc, bcc) to the
	// recipient ids the caller may see.
	AudienceTargeting map[string][]string
	// IncludePublic also keeps records carrying no audience fields at
	// all when AudienceTargeting is set.
	IncludePublic bool
	// AggregationPipeline stages run in order over the hydrated results.
	AggregationPipeline []Aggregator
}

// CreateObject stores an object usable as part of an activity. An
// object supplied with an existing id overwrites the stored record.
func (b *Backend) CreateObject(ctx context.Context, fields map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := deepCopy(fields)
	models.ApplyDefaults(models.KindObject, rec)
	wire, err := b.putObject(rec)
	if err != nil {
		return nil, err
	}
	objectsCreated.Inc()
	return wire, nil
}

// CreateActivity saves an activity, persisting any nested objects
// first, and returns the fully hydrated result.
func (b *Backend) CreateActivity(ctx context.Context, fields map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := deepCopy(fields)
	wire, err := b.saveActivity(models.KindActivity, rec, "", false)
	if err != nil {
		return nil, err
	}
	out, err := b.hydrate([]map[string]any{wire})
	if err != nil {
		return nil, err
	}
	activitiesCreated.Inc()
	return out[0], nil
}

// CreateReply attaches a reply to an activity and returns the hydrated
// reply and the hydrated, updated parent.
func (b *Backend) CreateReply(ctx context.Context, activityID string, actor, content any) (map[string]any, map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return b.createReaction(models.KindReply, activityID, actor, content)
}

// CreateLike attaches a like to an activity and returns the hydrated
// like and the hydrated, updated parent.
func (b *Backend) CreateLike(ctx context.Context, activityID string, actor any) (map[string]any, map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return b.createReaction(models.KindLike, activityID, actor, "")
}

// Delete removes an activity. Objects it references stay untouched:
// they may be shared with other activities.
func (b *Backend) Delete(ctx context.Context, activityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.getActivity(activityID); err != nil {
		return err
	}
	if err := b.db.Delete(store.BucketActivities, activityID); err != nil {
		return models.StoreError{Op: "delete", Err: err}
	}
	return nil
}

// DeleteReply removes a reply and detaches it from its parent's
// counters. Returns the hydrated, updated parent.
func (b *Backend) DeleteReply(ctx context.Context, replyID string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.deleteReaction(models.KindReply, replyID)
}

// DeleteLike removes a like and detaches it from its parent's counters.
// Returns the hydrated, updated parent.
func (b *Backend) DeleteLike(ctx context.Context, likeID string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.deleteReaction(models.KindLike, likeID)
}

// GetObjects batch-fetches objects in store-assigned order. Missing ids
// are omitted from the result.
func (b *Backend) GetObjects(ctx context.Context, ids []string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []map[string]any{}, nil
	}
	return b.getManyObjects(ids)
}

// GetActivities batch-fetches activities, applies audience targeting
// and property filters, hydrates the survivors and runs them through
// the aggregation pipeline. Results come back in the order of the input
// id list; filtered-out or missing ids are dropped, not placeheld.
func (b *Backend) GetActivities(ctx context.Context, ids []string, opts GetActivitiesOptions) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []map[string]any{}, nil
	}
	activities, err := b.getManyActivities(ids, opts)
	if err != nil {
		return nil, err
	}
	activities, err = b.hydrate(activities)
	if err != nil {
		return nil, err
	}
	if len(opts.AggregationPipeline) > 0 {
		original := deepCopyList(activities)
		for _, agg := range opts.AggregationPipeline {
			activities = agg.Process(activities, original, opts.AggregationPipeline)
		}
	}
	return activities, nil
}

// ClearActivities deletes every stored activity, reactions included.
func (b *Backend) ClearActivities(ctx context.Context) error {
	return b.clearBucket(ctx, store.BucketActivities)
}

// ClearObjects deletes every stored object.
func (b *Backend) ClearObjects(ctx context.Context) error {
	return b.clearBucket(ctx, store.BucketObjects)
}

func (b *Backend) clearBucket(ctx context.Context, bucket string) error {
	ids, err := b.db.Keys(bucket)
	if err != nil {
		return models.StoreError{Op: "keys", Err: err}
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.db.Delete(bucket, id); err != nil {
			return models.StoreError{Op: "delete", Err: err}
		}
	}
	return nil
}

// ReferencedObjectIDs walks every stored activity and returns the ids
// of all objects it references, directly or through audience lists and
// response items. The retention sweeper treats anything outside this
// set as an orphan candidate.
func (b *Backend) ReferencedObjectIDs(ctx context.Context) (map[string]struct{}, error) {
	ids, err := b.db.Keys(store.BucketActivities)
	if err != nil {
		return nil, models.StoreError{Op: "keys", Err: err}
	}
	refs := map[string]struct{}{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := b.getActivity(id)
		if err != nil {
			logger.Warn("reference_scan_skipping_record", "id", id, "error", err)
			continue
		}
		for _, objID := range extractObjectKeys(rec, false) {
			refs[objID] = struct{}{}
		}
	}
	return refs, nil
}

// getActivity point-reads one activity record.
func (b *Backend) getActivity(id string) (map[string]any, error) {
	raw, ok, err := b.db.Get(store.BucketActivities, id)
	if err != nil {
		return nil, models.StoreError{Op: "get", Err: err}
	}
	if !ok {
		return nil, models.NotFoundError{Bucket: store.BucketActivities, ID: id}
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, models.StoreError{Op: "decode", Err: err}
	}
	return rec, nil
}

// getManyActivities is the batch map/filter/sort path: point-reads the
// ids, injects creation timestamps, applies audience and property
// predicates, sorts by timestamp, then re-projects the survivors into
// the caller's id order.
func (b *Backend) getManyActivities(ids []string, opts GetActivitiesOptions) ([]map[string]any, error) {
	fo := store.FetchOptions{IncludeTimestamp: true, SortByTimestamp: true}
	if len(opts.AudienceTargeting) > 0 {
		fo.Filters = append(fo.Filters, audiencePredicate(opts.AudienceTargeting, opts.IncludePublic))
	}
	if opts.RawFilter != nil {
		fo.Filters = append(fo.Filters, opts.RawFilter)
	} else if len(opts.Filters) > 0 {
		fo.Filters = append(fo.Filters, propertyPredicate(opts.Filters))
	}
	recs, err := b.db.FetchMany(store.BucketActivities, ids, fo)
	if err != nil {
		return nil, models.StoreError{Op: "fetch", Err: err}
	}
	byID := make(map[string]map[string]any, len(recs))
	for _, rec := range recs {
		if id, ok := rec["id"].(string); ok {
			byID[id] = rec
		}
	}
	out := make([]map[string]any, 0, len(recs))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (b *Backend) getManyObjects(ids []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	recs, err := b.db.FetchMany(store.BucketObjects, ids, store.FetchOptions{})
	if err != nil {
		return nil, models.StoreError{Op: "fetch", Err: err}
	}
	return recs, nil
}

// audiencePredicate keeps a record when one of its audience fields
// intersects the caller-supplied allowed ids for that field, or, with
// includePublic, when the record carries no audience fields at all.
func audiencePredicate(targeting map[string][]string, includePublic bool) func(map[string]any) bool {
	return func(rec map[string]any) bool {
		if includePublic {
			none := true
			for _, f := range models.AudienceFields {
				if _, ok := rec[f]; ok {
					none = false
					break
				}
			}
			if none {
				return true
			}
		}
		for _, f := range models.AudienceFields {
			entries, ok := rec[f].([]any)
			if !ok {
				continue
			}
			allowed, ok := targeting[f]
			if !ok {
				continue
			}
			for _, want := range allowed {
				for _, entry := range entries {
					if audienceID(entry) == want {
						return true
					}
				}
			}
		}
		return false
	}
}

// audienceID handles both flattened id strings and legacy inlined
// records inside audience lists.
func audienceID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if id, ok := t["id"].(string); ok {
			return id
		}
	}
	return ""
}

// propertyPredicate keeps a record when any configured field is present
// and equals one of its allowed values.
func propertyPredicate(filters map[string][]any) func(map[string]any) bool {
	return func(rec map[string]any) bool {
		for field, allowed := range filters {
			v, ok := rec[field]
			if !ok {
				continue
			}
			for _, want := range allowed {
				if scalarEqual(v, want) {
					return true
				}
			}
		}
		return false
	}
}

// scalarEqual compares filter values loosely: numerics by value
// regardless of Go type (JSON decodes numbers as float64), everything
// else only when both sides are comparable scalars.
func scalarEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch a.(type) {
	case string, bool:
		return a == b
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func indexValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
