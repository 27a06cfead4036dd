package domain

import "time"

type StatusCounts struct {
	Total     int
	Pending   int
	Confirmed int
	Completed int
}

func (c *StatusCounts) add(s Status) {
	c.Total++
	switch s {
	case StatusPending:
		c.Pending++
	case StatusConfirmed:
		c.Confirmed++
	case StatusCompleted:
		c.Completed++
	}
}

type StoreStats struct {
	Today     StatusCounts
	ThisWeek  StatusCounts
	ThisMonth StatusCounts
}

// DateWindow is an inclusive range of calendar days.
type DateWindow struct {
	From Date
	To   Date
}

func (w DateWindow) Contains(d Date) bool {
	return !d.Before(w.From) && !d.After(w.To)
}

// WeekStart returns the Monday of d's ISO week.
func WeekStart(d Date) Date {
	offset := int(d.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return d.AddDays(-offset)
}

// StatsWindows returns the day, Monday-based week and calendar month containing asOf.
func StatsWindows(asOf Date) (day, week, month DateWindow) {
	day = DateWindow{From: asOf, To: asOf}

	monday := WeekStart(asOf)
	week = DateWindow{From: monday, To: monday.AddDays(6)}

	first := Date{Year: asOf.Year, Month: asOf.Month, Day: 1}
	month = DateWindow{From: first, To: DateOf(first.Time().AddDate(0, 1, -1))}
	return day, week, month
}

// StatsSpan is the smallest window covering all three stats windows.
func StatsSpan(asOf Date) DateWindow {
	_, week, month := StatsWindows(asOf)
	span := month
	if week.From.Before(span.From) {
		span.From = week.From
	}
	if week.To.After(span.To) {
		span.To = week.To
	}
	return span
}

// AggregateStats counts appointments per status in each window. Total includes cancelled.
func AggregateStats(appts []Appointment, asOf Date) StoreStats {
	day, week, month := StatsWindows(asOf)

	var out StoreStats
	for _, a := range appts {
		if day.Contains(a.Date) {
			out.Today.add(a.Status)
		}
		if week.Contains(a.Date) {
			out.ThisWeek.add(a.Status)
		}
		if month.Contains(a.Date) {
			out.ThisMonth.add(a.Status)
		}
	}
	return out
}
