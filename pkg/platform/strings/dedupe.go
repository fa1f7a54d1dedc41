// Package strings normalises list-valued settings such as CORS origins and
// Kafka brokers.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated setting and normalises it with
// DedupeAndTrim. An empty input yields nil.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(s, ","))
}

// DedupeAndTrim trims each value, drops blanks and keeps the first occurrence
// of each remaining value in order. Comparison is case sensitive.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
