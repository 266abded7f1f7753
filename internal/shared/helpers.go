// Package shared provides common utility functions used across multiple
// packages in the aptkeeper codebase.
package shared

import (
	"fmt"
	"sort"
	"strings"
)

// HTTPStatusError creates a formatted error for non-2xx HTTP responses.
func HTTPStatusError(status int, url string) error {
	return fmt.Errorf("status=%d url=%s", status, url)
}

// SplitList splits comma separated values, trims them and drops empties.
func SplitList(values ...string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// UniqueSorted returns the sorted set of values.
func UniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether value is in values.
func Contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}

// Intersect returns the values of a that are also in b, keeping a's order.
func Intersect(a []string, b []string) []string {
	var out []string
	for _, value := range a {
		if Contains(b, value) {
			out = append(out, value)
		}
	}
	return out
}
