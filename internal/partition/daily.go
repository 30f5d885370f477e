package partition

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // zone names resolve in minimal containers
)

// ── Daily partitions ───────────────────────────────────────
// One partition per calendar day in Location, keyed YYYY-MM-DD.
// Partition D holds the issues updated during day D-1, so it can be run as
// soon as day D starts. EndOffset extends the set past the last complete day:
// with EndOffset 1 the newest partition at any instant is today's.

// KeyLayout is the partition key format.
const KeyLayout = "2006-01-02"

var (
	// ErrOutOfRange is returned for keys before Start or after the newest partition.
	ErrOutOfRange = errors.New("partition out of range")
	// ErrBadKey is returned for keys that are not canonical YYYY-MM-DD dates.
	ErrBadKey = errors.New("bad partition key")
)

// Daily is a daily partition set.
type Daily struct {
	Start     time.Time // first partition, midnight in Location
	Location  *time.Location
	EndOffset int
}

// NewDaily builds a partition set starting at start (YYYY-MM-DD) in the named zone.
func NewDaily(start, timezone string, endOffset int) (*Daily, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	s, err := ParseKey(start, loc)
	if err != nil {
		return nil, fmt.Errorf("start date: %w", err)
	}
	return &Daily{Start: s, Location: loc, EndOffset: endOffset}, nil
}

// ParseKey parses a canonical YYYY-MM-DD key as midnight in loc.
func ParseKey(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(KeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrBadKey, key, err)
	}
	if t.Format(KeyLayout) != key {
		return time.Time{}, fmt.Errorf("%w %q: not canonical", ErrBadKey, key)
	}
	return t, nil
}

func (d *Daily) day(t time.Time) time.Time {
	t = t.In(d.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, d.Location)
}

// Last returns the newest partition key at now, or "" when none exists yet.
func (d *Daily) Last(now time.Time) string {
	last := d.day(now).AddDate(0, 0, d.EndOffset-1)
	if last.Before(d.Start) {
		return ""
	}
	return last.Format(KeyLayout)
}

// Keys returns every partition key at now, oldest first.
func (d *Daily) Keys(now time.Time) []string {
	last := d.Last(now)
	if last == "" {
		return nil
	}
	keys, _ := d.Range(d.Start.Format(KeyLayout), last)
	return keys
}

// Contains reports whether key is a partition of the set at now.
func (d *Daily) Contains(key string, now time.Time) error {
	t, err := ParseKey(key, d.Location)
	if err != nil {
		return err
	}
	if t.Before(d.Start) {
		return fmt.Errorf("%w: %s is before the first partition %s", ErrOutOfRange, key, d.Start.Format(KeyLayout))
	}
	last := d.Last(now)
	if last == "" || key > last {
		return fmt.Errorf("%w: %s is after the newest partition %q", ErrOutOfRange, key, last)
	}
	return nil
}

// Range lists the keys from..to inclusive.
func (d *Daily) Range(from, to string) ([]string, error) {
	f, err := ParseKey(from, d.Location)
	if err != nil {
		return nil, err
	}
	t, err := ParseKey(to, d.Location)
	if err != nil {
		return nil, err
	}
	if t.Before(f) {
		return nil, fmt.Errorf("range end %s is before start %s", to, from)
	}
	var keys []string
	for cur := f; !cur.After(t); cur = cur.AddDate(0, 0, 1) {
		keys = append(keys, cur.Format(KeyLayout))
	}
	return keys, nil
}
