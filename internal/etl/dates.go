package etl

import "fmt"

// PrevDate returns the calendar day before date, both as YYYY-MM-DD.
func PrevDate(date string) (string, error) {
	d, err := parseDay(date)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadDateFormat, date)
	}
	return d.AddDate(0, 0, -1).Format(PartitionDateLayout), nil
}

// Window is the half-open update-time range [From 00:00, To 00:00)
// whose source records belong to partition To.
type Window struct {
	From string // previous day
	To   string // partition date
}

// WindowFor computes the update window of a partition.
func WindowFor(partitionDate string) (Window, error) {
	prev, err := PrevDate(partitionDate)
	if err != nil {
		return Window{}, err
	}
	return Window{From: prev, To: partitionDate}, nil
}

// Lower returns the inclusive lower bound in the source's query syntax.
func (w Window) Lower() string { return w.From + " 00:00" }

// Upper returns the exclusive upper bound in the source's query syntax.
func (w Window) Upper() string { return w.To + " 00:00" }
