package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Appointment struct {
	bun.BaseModel `bun:"table:appointments,alias:a"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	CustomerID   string     `bun:"customer_id,notnull"`
	StoreID      uuid.UUID  `bun:"store_id,notnull,type:uuid"`
	ServiceID    uuid.UUID  `bun:"service_id,notnull,type:uuid"`
	TechnicianID *uuid.UUID `bun:"technician_id,type:uuid"`
	Date         Date       `bun:"appointment_date,notnull,type:date"`
	Time         TimeOfDay  `bun:"appointment_time,notnull,type:time"`
	Notes        string     `bun:"notes"`
	Status       Status     `bun:"status,notnull"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.Status == "" {
			a.Status = StatusPending
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// HasTechnician reports whether the appointment is assigned to id.
func (a Appointment) HasTechnician(id uuid.UUID) bool {
	return a.TechnicianID != nil && *a.TechnicianID == id
}

// BookedAppointment pairs an appointment with the current duration of its service.
// The duration is looked up at read time and never stored on the appointment.
type BookedAppointment struct {
	Appointment     Appointment
	DurationMinutes int
}

func (b BookedAppointment) Range() TimeRange {
	return NewTimeRange(b.Appointment.Date, b.Appointment.Time, time.Duration(b.DurationMinutes)*time.Minute)
}
