package domain

import "time"

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func NewTimeRange(date Date, at TimeOfDay, duration time.Duration) TimeRange {
	start := at.On(date)
	return TimeRange{Start: start, End: start.Add(duration)}
}

// Overlaps reports whether r and o share any instant. Back-to-back ranges do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// String formats the range as "15:04-15:04".
func (r TimeRange) String() string {
	return r.Start.Format("15:04") + "-" + r.End.Format("15:04")
}

func overlapsAny(r TimeRange, busy []TimeRange) bool {
	for _, b := range busy {
		if r.Overlaps(b) {
			return true
		}
	}
	return false
}
