package stream

import (
	"streamdb/pkg/models"
)

// Hydration turns flat, foreign-key-only activity records into fully
// inlined trees. References may be transitive: an object reference can
// be a disguised activity (objectType == "activity") whose own replies
// and likes carry further object references, so resolution runs as a
// bounded two-round fixpoint. Within one hydrate call no id is fetched
// twice, and the top-level ordering of the input is preserved.

var (
	// activityRefFields are the fields that can hide a sub-activity
	// reference; inReplyTo back-references live alongside them.
	activityRefFields = append(append([]string{}, models.ObjectFields...), "inReplyTo")
	// objectRefFields are all fields whose flattened value is an object
	// id (or a list of them).
	objectRefFields = append(append([]string{}, models.ObjectFields...), models.AudienceFields...)
)

func (b *Backend) hydrate(activities []map[string]any) ([]map[string]any, error) {
	activities, err := b.inlineSubActivities(activities)
	if err != nil {
		return nil, err
	}

	// round one: collect and inline every visible object reference
	objectIDs := newOrderedSet()
	for _, a := range activities {
		objectIDs.add(extractObjectKeys(a, false)...)
	}
	objects, err := b.getManyObjects(objectIDs.values())
	if err != nil {
		return nil, err
	}
	objectsDict := make(map[string]map[string]any, len(objects))
	for _, obj := range objects {
		if id, ok := obj["id"].(string); ok {
			objectsDict[id] = obj
		}
	}

	// inlining objects can expose references that are themselves
	// disguised activities (inReplyTo back-references in particular)
	nestedActivityIDs := newOrderedSet()
	for _, a := range activities {
		inlineObjectKeys(a, objectsDict, false)
		nestedActivityIDs.add(extractActivityKeys(a, true)...)
	}

	if nestedActivityIDs.len() > 0 {
		subs, err := b.getManyActivities(nestedActivityIDs.values(), GetActivitiesOptions{})
		if err != nil {
			return nil, err
		}
		subsDict := make(map[string]map[string]any, len(subs))
		for _, s := range subs {
			if id, ok := s["id"].(string); ok {
				subsDict[id] = s
			}
		}
		// round two: splice in the newly fetched sub-activities, then
		// resolve any object references they brought with them
		for _, a := range activities {
			inlineSubActivity(a, subsDict, true)
			objectIDs.add(extractObjectKeys(a, false)...)
		}
		missing := objectIDs.except(objectsDict)
		more, err := b.getManyObjects(missing)
		if err != nil {
			return nil, err
		}
		for _, obj := range more {
			if id, ok := obj["id"].(string); ok {
				objectsDict[id] = obj
			}
		}
		for _, a := range activities {
			inlineObjectKeys(a, objectsDict, false)
		}
	}
	return activities, nil
}

// inlineSubActivities resolves references whose target is itself an
// activity: reply/like item stubs and inReplyTo back-references.
func (b *Backend) inlineSubActivities(activities []map[string]any) ([]map[string]any, error) {
	dict := make(map[string]map[string]any, len(activities))
	for _, a := range activities {
		if id, ok := a["id"].(string); ok {
			dict[id] = a
		}
	}
	ids := newOrderedSet()
	for _, a := range activities {
		ids.add(extractActivityKeys(a, false)...)
	}
	if ids.len() == 0 {
		return activities, nil
	}
	if missing := ids.except(dict); len(missing) > 0 {
		subs, err := b.getManyActivities(missing, GetActivitiesOptions{})
		if err != nil {
			return nil, err
		}
		for _, s := range subs {
			if id, ok := s["id"].(string); ok {
				dict[id] = s
			}
		}
	}
	for _, a := range activities {
		inlineSubActivity(a, dict, false)
	}
	return activities, nil
}

// extractActivityKeys collects ids of referenced records that are
// disguised activities, plus inReplyTo targets, recursing into reply
// and like items unless told to skip them.
func extractActivityKeys(activity map[string]any, skipSubActivities bool) []string {
	var keys []string
	for _, field := range activityRefFields {
		obj, ok := activity[field].(map[string]any)
		if !ok {
			continue
		}
		if obj["objectType"] == "activity" {
			if id, ok := obj["id"].(string); ok {
				keys = append(keys, id)
			}
		}
		if irt, ok := obj["inReplyTo"].([]any); ok {
			for _, entry := range irt {
				if m, ok := entry.(map[string]any); ok {
					if id, ok := m["id"].(string); ok {
						keys = append(keys, id)
					}
				}
			}
		}
	}
	if !skipSubActivities {
		for _, coll := range models.ResponseFields {
			for _, item := range collectionItems(activity, coll) {
				if m, ok := item.(map[string]any); ok {
					keys = append(keys, extractActivityKeys(m, false)...)
				}
			}
		}
	}
	return keys
}

// inlineSubActivity merges fetched sub-activity records into the stub
// maps that referenced them. Merge, not replace: stub fields the fetch
// did not return stay in place.
func inlineSubActivity(activity map[string]any, subs map[string]map[string]any, skipSubActivities bool) map[string]any {
	for _, field := range models.ObjectFields {
		m, ok := activity[field].(map[string]any)
		if !ok {
			continue
		}
		if m["objectType"] == "activity" {
			if id, ok := m["id"].(string); ok {
				if sub, found := subs[id]; found {
					mergeInto(m, sub)
				}
			}
		}
		if irt, ok := m["inReplyTo"].([]any); ok {
			for _, entry := range irt {
				em, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				if id, ok := em["id"].(string); ok {
					if sub, found := subs[id]; found {
						mergeInto(em, sub)
					}
				}
			}
		}
	}
	if !skipSubActivities {
		for _, coll := range models.ResponseFields {
			items := collectionItems(activity, coll)
			for i, item := range items {
				if m, ok := item.(map[string]any); ok {
					items[i] = inlineSubActivity(m, subs, false)
				}
			}
		}
	}
	return activity
}

// extractObjectKeys collects every plain object reference id reachable
// from the record's reference and audience fields.
func extractObjectKeys(activity map[string]any, skipSubActivities bool) []string {
	var keys []string
	for _, field := range objectRefFields {
		switch v := activity[field].(type) {
		case map[string]any:
			if v["objectType"] == "activity" {
				keys = append(keys, extractObjectKeys(v, false)...)
			}
			if irt, ok := v["inReplyTo"].([]any); ok {
				for _, entry := range irt {
					if m, ok := entry.(map[string]any); ok {
						keys = append(keys, extractObjectKeys(m, skipSubActivities)...)
					}
				}
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					keys = append(keys, s)
				}
			}
		case string:
			keys = append(keys, v)
		}
	}
	if !skipSubActivities {
		for _, coll := range models.ResponseFields {
			for _, item := range collectionItems(activity, coll) {
				if m, ok := item.(map[string]any); ok {
					keys = append(keys, extractObjectKeys(m, false)...)
				}
			}
		}
	}
	return keys
}

// inlineObjectKeys replaces object reference ids with the fetched
// records. Values that are already embedded maps are left untouched
// unless they are disguised activities to recurse into.
func inlineObjectKeys(activity map[string]any, objects map[string]map[string]any, skipSubActivities bool) map[string]any {
	for _, field := range objectRefFields {
		switch v := activity[field].(type) {
		case map[string]any:
			if v["objectType"] == "activity" {
				activity[field] = inlineObjectKeys(v, objects, skipSubActivities)
			}
			if irt, ok := v["inReplyTo"].([]any); ok {
				for i, entry := range irt {
					if m, ok := entry.(map[string]any); ok {
						irt[i] = inlineObjectKeys(m, objects, skipSubActivities)
					}
				}
			}
		case []any:
			for i, item := range v {
				if s, ok := item.(string); ok {
					v[i] = resolveObject(objects, s)
				}
			}
		case string:
			activity[field] = resolveObject(objects, v)
		}
	}
	if !skipSubActivities {
		for _, coll := range models.ResponseFields {
			items := collectionItems(activity, coll)
			for i, item := range items {
				if m, ok := item.(map[string]any); ok {
					items[i] = inlineObjectKeys(m, objects, false)
				}
			}
		}
	}
	return activity
}

// resolveObject degrades a dangling reference to an empty placeholder
// rather than failing the read.
func resolveObject(objects map[string]map[string]any, id string) map[string]any {
	if rec, ok := objects[id]; ok {
		return deepCopy(rec)
	}
	return map[string]any{}
}

func collectionItems(activity map[string]any, coll string) []any {
	c, ok := activity[coll].(map[string]any)
	if !ok {
		return nil
	}
	items, _ := c["items"].([]any)
	return items
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
}

// orderedSet is a de-duplicating id accumulator that remembers
// insertion order so batch fetches stay deterministic.
type orderedSet struct {
	seen map[string]struct{}
	ids  []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]struct{}{}}
}

func (s *orderedSet) add(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
}

func (s *orderedSet) values() []string { return s.ids }

func (s *orderedSet) len() int { return len(s.ids) }

// except returns the members not already resolved in have.
func (s *orderedSet) except(have map[string]map[string]any) []string {
	out := make([]string, 0, len(s.ids))
	for _, id := range s.ids {
		if _, ok := have[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
