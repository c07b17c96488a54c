package configstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// DiffSummary produces a sorted structural diff between two configuration
// documents as dotted-path entries: "+ path" added, "- path" removed,
// "~ path: old -> new" changed.
func DiffSummary(previous, next json.RawMessage) []string {
	var prevDoc, nextDoc map[string]any
	if len(previous) > 0 {
		_ = json.Unmarshal(previous, &prevDoc)
	}
	if len(next) > 0 {
		_ = json.Unmarshal(next, &nextDoc)
	}

	var entries []string
	diffObjects("", prevDoc, nextDoc, &entries)
	sort.Strings(entries)
	return entries
}

func diffObjects(prefix string, previous, next map[string]any, entries *[]string) {
	for key, prevVal := range previous {
		path := joinPath(prefix, key)
		nextVal, ok := next[key]
		if !ok {
			*entries = append(*entries, "- "+path)
			continue
		}
		diffValues(path, prevVal, nextVal, entries)
	}
	for key := range next {
		if _, ok := previous[key]; !ok {
			*entries = append(*entries, "+ "+joinPath(prefix, key))
		}
	}
}

func diffValues(path string, previous, next any, entries *[]string) {
	prevObj, prevIsObj := previous.(map[string]any)
	nextObj, nextIsObj := next.(map[string]any)
	if prevIsObj && nextIsObj {
		diffObjects(path, prevObj, nextObj, entries)
		return
	}
	if !reflect.DeepEqual(previous, next) {
		*entries = append(*entries, fmt.Sprintf("~ %s: %s -> %s", path, compact(previous), compact(next)))
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
