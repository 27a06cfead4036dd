package appointments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/store"
)

type SlotsInput struct {
	TechnicianID uuid.UUID `json:"technician_id" validate:"required"`
	ServiceID    uuid.UUID `json:"service_id" validate:"required"`
	Date         domain.Date
	// Hours overrides the configured business hours for this call.
	Hours *domain.BusinessHours
}

// AvailableSlots lists the start times on Date at which the technician can take the
// service without overlapping an active appointment.
func (s *Service) AvailableSlots(ctx context.Context, in SlotsInput) (out []domain.Slot, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.AvailableSlots")
	defer func() { endSpan(span, err) }()

	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	if in.Date.IsZero() {
		return nil, validationError("date is required")
	}

	cfg := s.slots
	if in.Hours != nil {
		cfg.Hours = *in.Hours
	}
	if err := cfg.Validate(); err != nil {
		return nil, validationError(err.Error())
	}

	if _, err := s.repo.GetTechnician(ctx, in.TechnicianID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("technician %s: %w", in.TechnicianID, store.ErrNotFound)
		}
		return nil, err
	}
	svc, err := s.repo.GetService(ctx, in.ServiceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.InvalidServiceError{ServiceID: in.ServiceID.String()}
	}
	if err != nil {
		return nil, err
	}

	booked, err := s.repo.ListActiveOnDate(ctx, in.Date, store.ActiveFilter{TechnicianID: &in.TechnicianID})
	if err != nil {
		return nil, err
	}
	busy := domain.BusyRanges(onlyTechnician(booked, in.TechnicianID))

	slots := domain.GenerateSlots(cfg, in.Date, svc.Duration(), busy)
	if slots == nil {
		slots = []domain.Slot{}
	}
	return slots, nil
}

func onlyTechnician(booked []domain.BookedAppointment, technicianID uuid.UUID) []domain.BookedAppointment {
	out := booked[:0:0]
	for _, b := range booked {
		if b.Appointment.HasTechnician(technicianID) {
			out = append(out, b)
		}
	}
	return out
}

// Stats counts a store's appointments for the day, Monday-based week and calendar month
// containing asOf. A zero asOf means today.
func (s *Service) Stats(ctx context.Context, storeID uuid.UUID, asOf domain.Date) (out domain.StoreStats, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.Stats")
	defer func() { endSpan(span, err) }()

	if storeID == uuid.Nil {
		return domain.StoreStats{}, validationError("store_id is required")
	}
	if asOf.IsZero() {
		asOf = domain.DateOf(s.now())
	}

	st, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StoreStats{}, fmt.Errorf("store %s: %w", storeID, store.ErrNotFound)
		}
		return domain.StoreStats{}, err
	}
	if !st.IsActive {
		return domain.StoreStats{}, validationError("store is not active")
	}

	window := domain.StatsSpan(asOf)
	appts, err := s.repo.ListAppointments(ctx, store.ListFilter{StoreID: &storeID, From: window.From, To: window.To})
	if err != nil {
		return domain.StoreStats{}, err
	}
	return domain.AggregateStats(appts, asOf), nil
}
