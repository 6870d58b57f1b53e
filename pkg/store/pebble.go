package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/cockroachdb/pebble"

	"streamdb/pkg/logger"
)

// Bucket names. Buckets are key-prefix namespaces inside one pebble DB;
// reactions share the activities namespace.
const (
	BucketObjects    = "objects"
	BucketActivities = "activities"
)

// IndexTimestamp is the creation-order secondary index every record
// carries. Its value is a zero-padded microsecond stamp so index keys
// sort chronologically.
const IndexTimestamp = "timestamp"

// IndexEntry is one secondary-index value attached to a record.
type IndexEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FetchOptions controls the batch map/filter/sort pass of FetchMany.
type FetchOptions struct {
	// Filters run in order; a record must pass every stage to be kept.
	Filters []func(map[string]any) bool
	// IncludeTimestamp injects each record's index-derived creation
	// timestamp under a transient "timestamp" field.
	IncludeTimestamp bool
	// SortByTimestamp orders results ascending by the index-derived
	// timestamp, ties broken stably by store-assigned order.
	SortByTimestamp bool
}

// DB wraps a pebble handle with the record/index key scheme.
//
// Key layout:
//
//	rec:<bucket>:<id>                  record JSON
//	idx:<bucket>:<name>:<value>:<id>   secondary index entry
//	idxmeta:<bucket>:<id>              JSON list of the record's index entries
type DB struct {
	pdb  *pebble.DB
	path string
}

// Open opens (or creates) a pebble database at the given path.
func Open(path string) (*DB, error) {
	logger.Info("opening_pebble_db", "path", path)
	pdb, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &DB{pdb: pdb, path: path}, nil
}

// Close closes the underlying pebble DB.
func (d *DB) Close() error {
	if d.pdb == nil {
		return nil
	}
	err := d.pdb.Close()
	d.pdb = nil
	logger.Info("pebble_closed", "path", d.path)
	return err
}

// Path returns the on-disk location of the database.
func (d *DB) Path() string { return d.path }

func recKey(bucket, id string) []byte {
	return []byte("rec:" + bucket + ":" + id)
}

func idxKey(bucket, name, value, id string) []byte {
	return []byte("idx:" + bucket + ":" + name + ":" + value + ":" + id)
}

func idxMetaKey(bucket, id string) []byte {
	return []byte("idxmeta:" + bucket + ":" + id)
}

// Put stores a record value and replaces its secondary index entries.
func (d *DB) Put(bucket, id string, value []byte, idx []IndexEntry) error {
	if d.pdb == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	// drop index entries from any previous version of the record
	if old, err := d.Indexes(bucket, id); err == nil {
		for _, e := range old {
			if err := d.pdb.Delete(idxKey(bucket, e.Name, e.Value, id), pebble.Sync); err != nil {
				return err
			}
		}
	}
	if err := d.pdb.Set(recKey(bucket, id), value, pebble.Sync); err != nil {
		logger.Error("put_failed", "bucket", bucket, "id", id, "error", err)
		return err
	}
	for _, e := range idx {
		if err := d.pdb.Set(idxKey(bucket, e.Name, e.Value, id), nil, pebble.Sync); err != nil {
			logger.Error("put_index_failed", "bucket", bucket, "id", id, "index", e.Name, "error", err)
			return err
		}
	}
	meta, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	if err := d.pdb.Set(idxMetaKey(bucket, id), meta, pebble.Sync); err != nil {
		return err
	}
	writesTotal.WithLabelValues(bucket).Inc()
	logger.Debug("record_put", "bucket", bucket, "id", id, "len", len(value))
	return nil
}

// Get returns the raw record value. The boolean reports existence.
func (d *DB) Get(bucket, id string) ([]byte, bool, error) {
	if d.pdb == nil {
		return nil, false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := d.pdb.Get(recKey(bucket, id))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	readsTotal.WithLabelValues(bucket).Inc()
	return out, true, nil
}

// Exists reports whether a record is present without copying its value.
func (d *DB) Exists(bucket, id string) (bool, error) {
	if d.pdb == nil {
		return false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	_, closer, err := d.pdb.Get(recKey(bucket, id))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if closer != nil {
		_ = closer.Close()
	}
	return true, nil
}

// Delete removes a record together with its index entries.
func (d *DB) Delete(bucket, id string) error {
	if d.pdb == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if old, err := d.Indexes(bucket, id); err == nil {
		for _, e := range old {
			if err := d.pdb.Delete(idxKey(bucket, e.Name, e.Value, id), pebble.Sync); err != nil {
				return err
			}
		}
	}
	if err := d.pdb.Delete(idxMetaKey(bucket, id), pebble.Sync); err != nil {
		return err
	}
	if err := d.pdb.Delete(recKey(bucket, id), pebble.Sync); err != nil {
		logger.Error("delete_failed", "bucket", bucket, "id", id, "error", err)
		return err
	}
	deletesTotal.WithLabelValues(bucket).Inc()
	logger.Debug("record_deleted", "bucket", bucket, "id", id)
	return nil
}

// Indexes returns the secondary index entries recorded for an id.
// A record without an index meta entry yields an empty slice.
func (d *DB) Indexes(bucket, id string) ([]IndexEntry, error) {
	if d.pdb == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := d.pdb.Get(idxMetaKey(bucket, id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	var out []IndexEntry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Keys enumerates every record id in a bucket in key order.
func (d *DB) Keys(bucket string) ([]string, error) {
	if d.pdb == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("rec:" + bucket + ":")
	iter, err := d.pdb.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Key()[len(prefix):]))
	}
	return out, iter.Error()
}

// QueryIndex returns the ids of records whose index name equals value.
func (d *DB) QueryIndex(bucket, name, value string) ([]string, error) {
	if d.pdb == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("idx:" + bucket + ":" + name + ":" + value + ":")
	iter, err := d.pdb.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Key()[len(prefix):]))
	}
	return out, iter.Error()
}

// FetchMany is the batch map/filter/sort facility: it point-reads the
// given ids, parses each stored JSON value, injects the index-derived
// timestamp, applies the filter stages, and optionally sorts by
// timestamp. Missing ids are skipped, never errors.
func (d *DB) FetchMany(bucket string, ids []string, opts FetchOptions) ([]map[string]any, error) {
	if d.pdb == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	out := make([]map[string]any, 0, len(ids))
	stamps := make([]int64, 0, len(ids))
	for _, id := range ids {
		raw, ok, err := d.Get(bucket, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			logger.Warn("fetch_unparseable_record", "bucket", bucket, "id", id, "error", err)
			continue
		}
		ts := int64(0)
		if opts.IncludeTimestamp || opts.SortByTimestamp {
			ts = d.timestampOf(bucket, id)
		}
		if opts.IncludeTimestamp {
			rec["timestamp"] = ts
		}
		keep := true
		for _, f := range opts.Filters {
			if !f(rec) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, rec)
			stamps = append(stamps, ts)
		}
	}
	fetchedTotal.WithLabelValues(bucket).Add(float64(len(ids)))
	if opts.SortByTimestamp {
		sort.Stable(orderedByStamp{recs: out, stamps: stamps})
	}
	return out, nil
}

type orderedByStamp struct {
	recs   []map[string]any
	stamps []int64
}

func (o orderedByStamp) Len() int           { return len(o.recs) }
func (o orderedByStamp) Less(i, j int) bool { return o.stamps[i] < o.stamps[j] }
func (o orderedByStamp) Swap(i, j int) {
	o.recs[i], o.recs[j] = o.recs[j], o.recs[i]
	o.stamps[i], o.stamps[j] = o.stamps[j], o.stamps[i]
}

func (d *DB) timestampOf(bucket, id string) int64 {
	entries, err := d.Indexes(bucket, id)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if e.Name == IndexTimestamp {
			if ts, err := strconv.ParseInt(e.Value, 10, 64); err == nil {
				return ts
			}
		}
	}
	return 0
}

// TimestampIndexValue formats a timestamp for index keys so they sort
// lexicographically in chronological order.
func TimestampIndexValue(ts int64) string {
	return fmt.Sprintf("%020d", ts)
}
