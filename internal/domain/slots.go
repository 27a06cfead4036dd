package domain

import (
	"errors"
	"time"
)

type BusinessHours struct {
	Open  TimeOfDay
	Close TimeOfDay
}

// SlotConfig controls candidate generation. Callers pass it explicitly so per-store or
// per-day hours can be supplied without changing the walk.
type SlotConfig struct {
	Hours BusinessHours
	Step  time.Duration
}

func DefaultSlotConfig() SlotConfig {
	return SlotConfig{
		Hours: BusinessHours{Open: NewTimeOfDay(9, 0), Close: NewTimeOfDay(18, 0)},
		Step:  30 * time.Minute,
	}
}

func (c SlotConfig) Validate() error {
	if c.Step <= 0 {
		return errors.New("slot step must be positive")
	}
	if !c.Hours.Open.Before(c.Hours.Close) {
		return errors.New("business hours must open before they close")
	}
	return nil
}

type Slot struct {
	Start           TimeOfDay
	End             TimeOfDay
	DurationMinutes int
}

// GenerateSlots walks candidate start times from opening to closing at cfg.Step and keeps
// those that finish by closing time without overlapping any busy range.
func GenerateSlots(cfg SlotConfig, date Date, duration time.Duration, busy []TimeRange) []Slot {
	if duration <= 0 || cfg.Validate() != nil {
		return nil
	}

	open := cfg.Hours.Open.On(date)
	closing := cfg.Hours.Close.On(date)

	var slots []Slot
	for t := open; !t.Add(duration).After(closing); t = t.Add(cfg.Step) {
		candidate := TimeRange{Start: t, End: t.Add(duration)}
		if overlapsAny(candidate, busy) {
			continue
		}
		slots = append(slots, Slot{
			Start:           TimeOfDayOf(candidate.Start),
			End:             TimeOfDayOf(candidate.End),
			DurationMinutes: int(duration / time.Minute),
		})
	}
	return slots
}

// BusyRanges returns the occupied ranges of a technician's active appointments.
func BusyRanges(booked []BookedAppointment) []TimeRange {
	out := make([]TimeRange, 0, len(booked))
	for _, b := range booked {
		if !b.Appointment.Status.Active() {
			continue
		}
		out = append(out, b.Range())
	}
	return out
}
