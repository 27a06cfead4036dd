package store

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/outbox"
)

// ActiveFilter narrows the active appointments loaded for one date. A nil TechnicianID and an
// empty CustomerID together select every active appointment on the date.
type ActiveFilter struct {
	TechnicianID *uuid.UUID
	CustomerID   string
	ExcludeID    uuid.UUID
}

// ListFilter selects appointments for read endpoints. Zero values mean "any".
type ListFilter struct {
	CustomerID   string
	StoreID      *uuid.UUID
	TechnicianID *uuid.UUID
	Status       domain.Status
	From         domain.Date
	To           domain.Date
	// NewestFirst orders by date and time descending.
	NewestFirst bool
	Offset      int
	Limit       int
}

type SchedulingReader interface {
	GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error)
	GetService(ctx context.Context, id uuid.UUID) (domain.Service, error)
	GetTechnician(ctx context.Context, id uuid.UUID) (domain.Technician, error)
	// ListActiveOnDate returns pending and confirmed appointments on date matching either the
	// technician or the customer, each paired with its service's current duration.
	ListActiveOnDate(ctx context.Context, date domain.Date, filter ActiveFilter) ([]domain.BookedAppointment, error)
}

// SchedulingTx is the view of storage inside a locked scheduling transaction.
type SchedulingTx interface {
	SchedulingReader

	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	EnqueueEvent(ctx context.Context, evt outbox.Event) error
}

type AppointmentRepository interface {
	SchedulingReader

	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListAppointments(ctx context.Context, filter ListFilter) ([]domain.Appointment, error)
	// InSchedulingTransaction runs fn in one transaction holding every lock in lockKeys.
	// Keys are deduplicated and acquired in sorted order.
	InSchedulingTransaction(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx SchedulingTx) error) error
}

func TechnicianDayKey(technicianID uuid.UUID, date domain.Date) string {
	return "technician:" + technicianID.String() + ":" + date.String()
}

func CustomerDayKey(customerID string, date domain.Date) string {
	return "customer:" + customerID + ":" + date.String()
}

// NormalizeLockKeys returns the distinct non-empty keys in ascending order.
func NormalizeLockKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
