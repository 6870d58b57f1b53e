package stream

import (
	"encoding/json"
	"fmt"

	"streamdb/pkg/logger"
	"streamdb/pkg/models"
	"streamdb/pkg/store"
)

// saveActivity persists one activity-kind record: nested objects are
// saved first and replaced by their ids, then the record is validated,
// timestamped, flattened to its wire form and written with its
// secondary indexes. Any failure after the first nested write triggers
// compensation of the nested writes. parentID is set for reactions and
// feeds the inreplyto index.
func (b *Backend) saveActivity(kind models.Kind, rec map[string]any, parentID string, update bool) (map[string]any, error) {
	models.ApplyDefaults(kind, rec)
	id, _ := rec["id"].(string)

	txn := newTxnLog(b.db)

	for _, field := range models.ObjectFields {
		nested, ok := rec[field].(map[string]any)
		if !ok {
			continue
		}
		objID, err := b.saveNestedObject(txn, nested)
		if err != nil {
			txn.compensate()
			return nil, err
		}
		rec[field] = objID
	}
	for _, field := range models.AudienceFields {
		entries, ok := rec[field].([]any)
		if !ok {
			continue
		}
		for i, entry := range entries {
			nested, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			objID, err := b.saveNestedObject(txn, nested)
			if err != nil {
				txn.compensate()
				return nil, err
			}
			entries[i] = objID
		}
	}

	exists, err := b.db.Exists(store.BucketActivities, id)
	if err != nil {
		txn.compensate()
		return nil, models.StoreError{Op: "exists", Err: err}
	}
	if err := models.Validate(kind, rec, exists); err != nil {
		txn.compensate()
		return nil, err
	}
	// the store enforces no unique constraint, so duplicate creation is
	// guarded here
	if !update && exists {
		txn.compensate()
		return nil, models.ValidationError{Reason: fmt.Sprintf("record with id already exists: %s", id)}
	}

	now := b.now()
	if unsetTime(rec["published"]) {
		rec["published"] = now
	} else {
		rec["updated"] = now
	}

	wire := models.ToWire(kind, rec)
	raw, err := json.Marshal(wire)
	if err != nil {
		txn.compensate()
		return nil, models.StoreError{Op: "encode", Err: err}
	}
	idx := activityIndexes(kind, wire, parentID, models.Timestamp(now))
	if err := b.db.Put(store.BucketActivities, id, raw, idx); err != nil {
		txn.compensate()
		return nil, models.StoreError{Op: "put", Err: err}
	}
	return wire, nil
}

// saveNestedObject persists an object embedded inside an activity and
// records the write in the transaction log: overwrites snapshot the
// prior version, fresh writes are marked created.
func (b *Backend) saveNestedObject(txn *txnLog, obj map[string]any) (string, error) {
	models.ApplyDefaults(models.KindObject, obj)
	id, _ := obj["id"].(string)

	prevRaw, found, err := b.db.Get(store.BucketObjects, id)
	if err != nil {
		return "", models.StoreError{Op: "get", Err: err}
	}
	if found {
		prevIdx, err := b.db.Indexes(store.BucketObjects, id)
		if err != nil {
			return "", models.StoreError{Op: "indexes", Err: err}
		}
		txn.recordModified(id, prevRaw, prevIdx)
	}
	if _, err := b.putObject(obj); err != nil {
		return "", err
	}
	if !found {
		txn.recordCreated(id)
	}
	return id, nil
}

// putObject validates and writes one object record, returning its wire
// form. Objects carry only the creation-order index.
func (b *Backend) putObject(obj map[string]any) (map[string]any, error) {
	if err := models.Validate(models.KindObject, obj, false); err != nil {
		return nil, err
	}
	wire := models.ToWire(models.KindObject, obj)
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, models.StoreError{Op: "encode", Err: err}
	}
	id, _ := wire["id"].(string)
	ts := models.Timestamp(b.now())
	idx := []store.IndexEntry{{Name: store.IndexTimestamp, Value: store.TimestampIndexValue(ts)}}
	if err := b.db.Put(store.BucketObjects, id, raw, idx); err != nil {
		return nil, models.StoreError{Op: "put", Err: err}
	}
	return wire, nil
}

// createReaction builds the synthetic reply/like activity with its
// back-reference object, saves it, then bumps the parent's response
// collection and re-saves the parent. A parent re-save failure after a
// successful child save leaves the child orphaned; that window is not
// compensated.
func (b *Backend) createReaction(kind models.Kind, activityID string, actor, content any) (map[string]any, map[string]any, error) {
	parent, err := b.getActivity(activityID)
	if err != nil {
		return nil, nil, err
	}
	verb := kind.ReactionVerb()
	collection := reactionCollection(kind)
	now := b.now()

	inReplyTo := map[string]any{
		"objectType":  "activity",
		"displayName": parent["verb"],
		"id":          activityID,
		"published":   parent["published"],
	}
	reactionObj := map[string]any{
		"objectType": verb,
		"id":         models.NewID(),
		"published":  now,
		"content":    content,
		"inReplyTo":  []any{inReplyTo},
	}
	if extra, ok := content.(map[string]any); ok {
		for k, v := range extra {
			reactionObj[k] = deepCopyValue(v)
		}
	}
	rec := map[string]any{
		"actor":           deepCopyValue(actor),
		"object":          reactionObj,
		"target":          activityID,
		"activity_author": parent["actor"],
		"verb":            verb,
	}

	wire, err := b.saveActivity(kind, rec, activityID, false)
	if err != nil {
		return nil, nil, err
	}
	reactionID, _ := wire["id"].(string)

	coll, ok := parent[collection].(map[string]any)
	if !ok {
		coll = models.EmptyCollection()
		parent[collection] = coll
	}
	coll["totalItems"] = models.Int(coll["totalItems"]) + 1
	items, _ := coll["items"].([]any)
	// newest first
	stub := map[string]any{
		"actor": wire["actor"],
		"verb":  verb,
		"object": map[string]any{
			"objectType": "activity",
			"id":         reactionID,
		},
	}
	coll["items"] = append([]any{stub}, items...)

	parentWire, err := b.saveActivity(models.KindActivity, parent, "", true)
	if err != nil {
		logger.Warn("reaction_parent_update_failed",
			"reaction", reactionID, "activity", activityID, "verb", verb, "error", err)
		return nil, nil, err
	}

	out, err := b.hydrate([]map[string]any{wire, parentWire})
	if err != nil {
		return nil, nil, err
	}
	reactionsCreated.WithLabelValues(verb).Inc()
	return out[0], out[1], nil
}

// deleteReaction removes a reply/like record, then decrements the
// parent's counter and drops the matching item stub. Reaction deletion
// and the parent update are two separate store writes with no
// compensation between them.
func (b *Backend) deleteReaction(kind models.Kind, reactionID string) (map[string]any, error) {
	rec, err := b.getActivity(reactionID)
	if err != nil {
		return nil, err
	}
	verb := kind.ReactionVerb()
	if rec["verb"] != verb {
		return nil, models.ValidationError{Reason: fmt.Sprintf("record %s is not a %s", reactionID, verb)}
	}
	parentID, err := b.reactionParentID(reactionID, rec)
	if err != nil {
		return nil, err
	}
	parent, err := b.getActivity(parentID)
	if err != nil {
		return nil, err
	}

	collection := reactionCollection(kind)
	if coll, ok := parent[collection].(map[string]any); ok {
		coll["totalItems"] = models.Int(coll["totalItems"]) - 1
		if items, ok := coll["items"].([]any); ok {
			kept := make([]any, 0, len(items))
			for _, item := range items {
				if stubReactionID(item) == reactionID {
					continue
				}
				kept = append(kept, item)
			}
			coll["items"] = kept
		}
	}

	if err := b.db.Delete(store.BucketActivities, reactionID); err != nil {
		return nil, models.StoreError{Op: "delete", Err: err}
	}
	parentWire, err := b.saveActivity(models.KindActivity, parent, "", true)
	if err != nil {
		logger.Warn("reaction_parent_detach_failed",
			"reaction", reactionID, "activity", parentID, "verb", verb, "error", err)
		return nil, err
	}

	out, err := b.hydrate([]map[string]any{parentWire})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// reactionParentID resolves a reaction's parent activity, preferring
// the inreplyto index and falling back to the back-reference stored on
// the reaction's object record.
func (b *Backend) reactionParentID(id string, rec map[string]any) (string, error) {
	entries, err := b.db.Indexes(store.BucketActivities, id)
	if err == nil {
		for _, e := range entries {
			if e.Name == IndexInReplyTo && e.Value != "" {
				return e.Value, nil
			}
		}
	}
	if objID, ok := rec["object"].(string); ok && objID != "" {
		raw, found, err := b.db.Get(store.BucketObjects, objID)
		if err == nil && found {
			var obj map[string]any
			if json.Unmarshal(raw, &obj) == nil {
				if irt, ok := obj["inReplyTo"].([]any); ok && len(irt) > 0 {
					if m, ok := irt[0].(map[string]any); ok {
						if pid, ok := m["id"].(string); ok && pid != "" {
							return pid, nil
						}
					}
				}
			}
		}
	}
	return "", models.ValidationError{Reason: fmt.Sprintf("reaction %s has no parent back-reference", id)}
}

func reactionCollection(kind models.Kind) string {
	if kind == models.KindLike {
		return "likes"
	}
	return "replies"
}

// stubReactionID pulls the reaction id out of a response-collection
// item stub.
func stubReactionID(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	obj, ok := m["object"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := obj["id"].(string)
	return id
}

func activityIndexes(kind models.Kind, wire map[string]any, parentID string, ts int64) []store.IndexEntry {
	idx := []store.IndexEntry{{Name: store.IndexTimestamp, Value: store.TimestampIndexValue(ts)}}
	for _, f := range []string{"verb", "actor", "object"} {
		idx = append(idx, store.IndexEntry{Name: f, Value: indexValue(wire[f])})
	}
	if v, ok := wire["target"]; ok && v != nil && v != "" {
		idx = append(idx, store.IndexEntry{Name: "target", Value: indexValue(v)})
	}
	if kind == models.KindReply || kind == models.KindLike {
		idx = append(idx, store.IndexEntry{Name: IndexInReplyTo, Value: parentID})
	}
	return idx
}

func unsetTime(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}
