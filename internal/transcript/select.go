package transcript

import (
	"cmp"
	"slices"
)

// Select returns the backlog: records newer than cursor that were not sent by
// us, oldest first. Duplicate ids within one fetch collapse to the first seen.
func Select(records []Record, cursor int64) []Record {
	seen := make(map[int64]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.ID <= cursor || rec.FromMe || rec.Text == "" {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
