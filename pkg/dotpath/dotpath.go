// Package dotpath addresses values inside nested string-keyed maps with
// dot-separated paths ("object.objectType"). It is an internal utility
// for the aggregation code, not part of the data model.
package dotpath

import "strings"

// Get resolves path inside m. The second return reports whether every
// segment resolved; a nil leaf with an existing key returns (nil, true).
func Get(m map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segs := strings.Split(path, ".")
	cur := any(m)
	for i, seg := range segs {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := node[seg]
		if !ok {
			return nil, false
		}
		if i == len(segs)-1 {
			return v, true
		}
		cur = v
	}
	return nil, false
}

// Set writes v at path inside m, creating intermediate maps as needed.
// Intermediate segments that resolve to non-maps are overwritten.
func Set(m map[string]any, path string, v any) {
	segs := strings.Split(path, ".")
	node := m
	for _, seg := range segs[:len(segs)-1] {
		next, ok := node[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[seg] = next
		}
		node = next
	}
	node[segs[len(segs)-1]] = v
}

// Parent splits path into everything before the last dot and the final
// segment. A path without dots returns ("", path).
func Parent(path string) (string, string) {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// Root returns the first segment of path.
func Root(path string) string {
	if i := strings.Index(path, "."); i >= 0 {
		return path[:i]
	}
	return path
}
