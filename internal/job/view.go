package job

import (
	"sort"
	"strings"
)

// Project produces the display ordering of records: filter by a free-text
// search term and an optional owner restriction, then sort with completed
// jobs after everything else and each partition descending by start time.
// The sort is stable, so equal records keep their insertion order. Project
// has no side effects and never mutates its input.
func Project(records []Record, term string, mineOnly bool, userID string) []Record {
	needle := strings.ToLower(term)

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if mineOnly && r.UserID != userID {
			continue
		}
		if needle != "" && !matches(r, needle) {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Status == StatusCompleted, out[j].Status == StatusCompleted
		if ci != cj {
			return !ci
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// matches reports whether needle (already lowercased) is a substring of the
// record's filename, status, or user id.
func matches(r Record, needle string) bool {
	return strings.Contains(strings.ToLower(r.Filename), needle) ||
		strings.Contains(strings.ToLower(string(r.Status)), needle) ||
		strings.Contains(strings.ToLower(r.UserID), needle)
}
