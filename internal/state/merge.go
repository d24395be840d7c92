package state

import (
	"reflect"
	"strings"
)

// merge deep-merges src into dst in place and returns the dot-scoped paths
// whose values changed. Objects merge recursively; arrays and scalars replace
// wholesale.
func merge(dst, src map[string]any, prefix string) []string {
	var changed []string
	for key, srcVal := range src {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		dstMap, dstIsMap := dst[key].(map[string]any)
		srcMap, srcIsMap := srcVal.(map[string]any)

		if dstIsMap && srcIsMap {
			changed = append(changed, merge(dstMap, srcMap, path)...)
			continue
		}

		if !reflect.DeepEqual(dst[key], srcVal) {
			dst[key] = deepCopyValue(srcVal)
			changed = append(changed, path)
		}
	}
	return changed
}

// lookup navigates a dot-scoped path of map keys. The second result is false
// when any segment is absent.
func lookup(tree map[string]any, path string) (any, bool) {
	if path == "" {
		return tree, true
	}
	var current any = tree
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// pathsOverlap reports whether a subscription on sub should fire for a change
// at changed: exact match, ancestor, or descendant.
func pathsOverlap(sub, changed string) bool {
	if sub == changed {
		return true
	}
	if strings.HasPrefix(changed, sub+".") {
		return true
	}
	return strings.HasPrefix(sub, changed+".")
}

// hasOverlap reports whether any collected path already covers the given
// domain.
func hasOverlap(changed []string, domain string) bool {
	for _, path := range changed {
		if pathsOverlap(domain, path) {
			return true
		}
	}
	return false
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

func deepCopyTree(m map[string]any) map[string]any {
	return deepCopyValue(m).(map[string]any)
}
