package stream

import (
	"streamdb/pkg/logger"
	"streamdb/pkg/store"
)

type txnEntry struct {
	created  bool
	id       string
	snapshot []byte
	indexes  []store.IndexEntry
}

// txnLog records the nested-object writes performed on behalf of one
// activity save so a later failure can be compensated by hand. The
// store offers no multi-key transactions: compensation is best-effort
// against the writer's own partial failure, not a lock, and concurrent
// writers can still observe intermediate states.
type txnLog struct {
	db      Store
	entries []txnEntry
}

func newTxnLog(db Store) *txnLog {
	return &txnLog{db: db}
}

func (t *txnLog) recordCreated(id string) {
	t.entries = append(t.entries, txnEntry{created: true, id: id})
}

func (t *txnLog) recordModified(id string, snapshot []byte, indexes []store.IndexEntry) {
	t.entries = append(t.entries, txnEntry{id: id, snapshot: snapshot, indexes: indexes})
}

// compensate consumes the log in reverse: created records are deleted,
// modified records restored to their pre-write snapshot. Individual
// compensation failures are logged and skipped so the rest of the log
// still unwinds.
func (t *txnLog) compensate() {
	if len(t.entries) == 0 {
		return
	}
	rollbacksTotal.Inc()
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.created {
			if err := t.db.Delete(store.BucketObjects, e.id); err != nil {
				logger.Error("rollback_delete_failed", "id", e.id, "error", err)
			}
			continue
		}
		if err := t.db.Put(store.BucketObjects, e.id, e.snapshot, e.indexes); err != nil {
			logger.Error("rollback_restore_failed", "id", e.id, "error", err)
		}
	}
	t.entries = nil
}
