// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	return DedupeBy(trimAll(values), func(v string) string { return v })
}

// SplitList splits a separator-delimited list (e.g. an env var) and applies
// DedupeAndTrim. An empty input yields nil.
func SplitList(raw, sep string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(raw, sep))
}

// DedupeBy keeps the first element for each key, preserving order. Elements
// whose key is empty are dropped.
func DedupeBy[T any](items []T, key func(T) string) []T {
	if items == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	result := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, item)
	}
	return result
}

// NormalizeURLKey is the comparison key used to treat two endpoint URLs as the
// same: surrounding whitespace and trailing slashes are ignored, and the
// scheme/host are compared case-insensitively.
func NormalizeURLKey(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if i := strings.Index(u, "://"); i >= 0 {
		rest := u[i+3:]
		host, path, _ := strings.Cut(rest, "/")
		key := strings.ToLower(u[:i]) + "://" + strings.ToLower(host)
		if path != "" {
			key += "/" + path
		}
		return key
	}
	return u
}

func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
