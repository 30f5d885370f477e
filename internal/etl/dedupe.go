package etl

import (
	"fmt"
	"time"
)

// MergeKey identifies a destination row.
type MergeKey struct {
	ID            string
	PartitionDate string
}

func (k MergeKey) String() string { return k.ID + "@" + k.PartitionDate }

// MergeKeyOf extracts the (id, partition_date) pair of a record.
func MergeKeyOf(r Record) MergeKey {
	return MergeKey{
		ID:            fmt.Sprint(r.Data["id"]),
		PartitionDate: fmt.Sprint(r.Data["partition_date"]),
	}
}

// DedupeLatest keeps one record per merge key: the one with the most recent
// updated timestamp. Ties keep the first occurrence. Output order follows
// the first occurrence of each key.
func DedupeLatest(records []Record) []Record {
	if len(records) < 2 {
		return records
	}
	index := make(map[MergeKey]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		k := MergeKeyOf(r)
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, r)
			continue
		}
		if updatedOf(r).After(updatedOf(out[i])) {
			out[i] = r
		}
	}
	return out
}

func updatedOf(r Record) time.Time {
	switch v := r.Data["updated"].(type) {
	case time.Time:
		return v
	case string:
		if t, err := ParseTimestamp(v); err == nil {
			return t
		}
	}
	return time.Time{}
}
