// Package achievements canonicalizes loosely structured achievement records
// into ordered, deduplicated id lists, and pairs them with definitions.
package achievements

import "sort"

// Normalize returns the unique ids of records in canonical order.
//
// When every record is an object and at least one carries a parseable
// timestamp, records are ordered most recent first (missing time = epoch).
// Otherwise arrival order is kept. Empty ids are dropped and the first
// occurrence of each id wins.
func Normalize(records []Record) []string {
	ordered, _ := order(records)
	out := make([]string, 0, len(ordered))
	seen := make(map[string]struct{}, len(ordered))
	for _, r := range ordered {
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r.ID)
	}
	return out
}

// Latest returns up to n ids, most recent first. Timestamp-ordered lists
// already lead with the newest; arrival-ordered lists end with it.
func Latest(records []Record, n int) []string {
	ids := Normalize(records)
	_, byTime := order(records)
	if n <= 0 {
		return []string{}
	}
	if byTime {
		if len(ids) > n {
			ids = ids[:n]
		}
		return ids
	}
	if len(ids) > n {
		ids = ids[len(ids)-n:]
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

// Equal reports whether two record lists normalize to the same ids.
func Equal(a, b []Record) bool {
	na, nb := Normalize(a), Normalize(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// FromIDs wraps canonical ids back into records.
func FromIDs(ids []string) []Record {
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, ID(id))
	}
	return out
}

func order(records []Record) ([]Record, bool) {
	if len(records) == 0 {
		return records, false
	}
	anyTime := false
	for _, r := range records {
		if r.Kind != KindRecord {
			return records, false
		}
		if r.HasTime {
			anyTime = true
		}
	}
	if !anyTime {
		return records, false
	}
	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return unix(sorted[i]) > unix(sorted[j])
	})
	return sorted, true
}

func unix(r Record) int64 {
	if !r.HasTime {
		return 0
	}
	return r.At.UnixMilli()
}
