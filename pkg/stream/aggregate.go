package stream

import (
	"reflect"
	"sort"
	"strings"

	"streamdb/pkg/dotpath"
)

// Aggregator transforms the hydrated result list after retrieval.
// Stages receive both the current list and a copy of the pre-pipeline
// originals.
type Aggregator interface {
	Process(activities, original []map[string]any, pipeline []Aggregator) []map[string]any
}

// PropertyAggregator clusters consecutive activities sharing values for
// the configured attribute paths (dot-separated for nested access, e.g.
// "object.objectType") and collapses each cluster into one aggregated
// record whose non-grouped fields become lists. Grouping is by
// adjacency, like a streaming group-by: callers must feed input already
// sorted by the grouped attributes.
type PropertyAggregator struct {
	Properties []string
}

func (p *PropertyAggregator) Process(activities, original []map[string]any, pipeline []Aggregator) []map[string]any {
	clusters := p.clusterByAdjacency(activities)
	out := make([]map[string]any, 0, len(clusters))
	for _, cl := range clusters {
		out = append(out, p.collapse(cl))
	}
	return out
}

type cluster struct {
	key     []any
	members []map[string]any
}

// groupKey builds the matching tuple for one record. Attributes absent
// on the record are excluded rather than aborting the grouping, so
// records missing an attribute can still cluster under a shorter tuple.
func (p *PropertyAggregator) groupKey(activity map[string]any) []any {
	var key []any
	for _, attr := range p.Properties {
		if v, ok := dotpath.Get(activity, attr); ok && v != nil {
			key = append(key, v)
		}
	}
	return key
}

func (p *PropertyAggregator) clusterByAdjacency(activities []map[string]any) []cluster {
	var clusters []cluster
	for _, a := range activities {
		key := p.groupKey(a)
		if n := len(clusters); n > 0 && reflect.DeepEqual(clusters[n-1].key, key) {
			clusters[n-1].members = append(clusters[n-1].members, a)
			continue
		}
		clusters = append(clusters, cluster{key: key, members: []map[string]any{a}})
	}
	return clusters
}

func (p *PropertyAggregator) collapse(cl cluster) map[string]any {
	// a cluster of one passes through unchanged
	if len(cl.members) == 1 {
		return cl.members[0]
	}
	agg := deepCopy(cl.members[0])
	nestedRoots := p.listifyAttributes(agg)

	for _, member := range cl.members[1:] {
		keys := make([]string, 0, len(agg))
		for k := range agg {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if containsString(p.Properties, key) || containsString(nestedRoots, key) {
				continue
			}
			if list, ok := agg[key].([]any); ok {
				agg[key] = append(list, member[key])
			}
		}
		for _, attr := range p.Properties {
			i := strings.LastIndex(attr, ".")
			if i < 0 {
				continue
			}
			if v, ok := dotpath.Get(member, attr); !ok || v == nil {
				continue
			}
			parent, leaf := attr[:i], attr[i+1:]
			pv, ok := dotpath.Get(member, parent)
			if !ok {
				continue
			}
			pm, ok := pv.(map[string]any)
			if !ok {
				continue
			}
			for k, val := range pm {
				if k == leaf {
					continue
				}
				path := parent + "." + k
				if cur, ok := dotpath.Get(agg, path); ok {
					if list, ok := cur.([]any); ok {
						dotpath.Set(agg, path, append(list, val))
					}
				}
			}
		}
	}
	agg["groupedByValues"] = append([]any{}, cl.key...)
	return agg
}

// listifyAttributes rewrites the seed record in place: siblings of each
// nested grouped attribute become single-element lists (the grouped
// leaf itself stays scalar), then every other top-level field not in
// the group-by set is wrapped the same way. Returns the roots of the
// nested grouped paths, which must never be listified themselves.
func (p *PropertyAggregator) listifyAttributes(activity map[string]any) []string {
	var nestedRoots []string
	for _, attr := range p.Properties {
		i := strings.LastIndex(attr, ".")
		if i < 0 {
			continue
		}
		if v, ok := dotpath.Get(activity, attr); !ok || v == nil {
			continue
		}
		parent, leaf := attr[:i], attr[i+1:]
		nestedRoots = append(nestedRoots, dotpath.Root(attr))
		pv, ok := dotpath.Get(activity, parent)
		if !ok {
			continue
		}
		pm, ok := pv.(map[string]any)
		if !ok {
			continue
		}
		for k, val := range pm {
			if k == leaf {
				continue
			}
			dotpath.Set(activity, parent+"."+k, []any{val})
		}
	}

	keys := make([]string, 0, len(activity))
	for k := range activity {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if containsString(p.Properties, key) || containsString(nestedRoots, key) {
			continue
		}
		activity[key] = []any{activity[key]}
	}
	return nestedRoots
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
