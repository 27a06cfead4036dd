package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/store"
)

const (
	defaultPageSize = 100
	maxPageSize     = 100
)

// Get returns an appointment visible to the caller.
func (s *Service) Get(ctx context.Context, appointmentID uuid.UUID, customerID string, storeAdmin bool) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	appt, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !storeAdmin && appt.CustomerID != customerID {
		return domain.Appointment{}, ErrForbidden
	}
	return appt, nil
}

type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalize() (Page, error) {
	if p.Offset < 0 {
		return Page{}, validationError("offset must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit < 1 || p.Limit > maxPageSize {
		return Page{}, validationError(fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
	}
	return p, nil
}

// ListForCustomer returns the customer's appointments, newest first.
func (s *Service) ListForCustomer(ctx context.Context, customerID string, page Page) ([]domain.Appointment, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, validationError("customer_id is required")
	}
	page, err := page.normalize()
	if err != nil {
		return nil, err
	}
	return s.repo.ListAppointments(ctx, store.ListFilter{
		CustomerID:  customerID,
		NewestFirst: true,
		Offset:      page.Offset,
		Limit:       page.Limit,
	})
}

type TechnicianListInput struct {
	TechnicianID uuid.UUID
	Date         domain.Date
	StoreAdmin   bool
}

// ListForTechnician returns every appointment assigned to the technician on date. The rows
// carry other customers' ids and notes, so only store staff may read them.
func (s *Service) ListForTechnician(ctx context.Context, in TechnicianListInput) ([]domain.Appointment, error) {
	if in.TechnicianID == uuid.Nil {
		return nil, validationError("technician_id is required")
	}
	if in.Date.IsZero() {
		return nil, validationError("date is required")
	}
	if !in.StoreAdmin {
		return nil, ErrForbidden
	}
	if _, err := s.repo.GetTechnician(ctx, in.TechnicianID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("technician %s: %w", in.TechnicianID, store.ErrNotFound)
		}
		return nil, err
	}
	return s.repo.ListAppointments(ctx, store.ListFilter{TechnicianID: &in.TechnicianID, From: in.Date, To: in.Date})
}

type StoreListInput struct {
	StoreID    uuid.UUID
	StoreAdmin bool
	Status     domain.Status
	From       domain.Date
	To         domain.Date
	Page       Page
}

// ListForStore is the staff view of a store's book.
func (s *Service) ListForStore(ctx context.Context, in StoreListInput) ([]domain.Appointment, error) {
	if in.StoreID == uuid.Nil {
		return nil, validationError("store_id is required")
	}
	if !in.StoreAdmin {
		return nil, ErrForbidden
	}
	if in.Status != "" && !in.Status.Valid() {
		return nil, validationError("invalid status")
	}
	if !in.From.IsZero() && !in.To.IsZero() && in.To.Before(in.From) {
		return nil, validationError("to must not be before from")
	}
	page, err := in.Page.normalize()
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetStore(ctx, in.StoreID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("store %s: %w", in.StoreID, store.ErrNotFound)
		}
		return nil, err
	}
	return s.repo.ListAppointments(ctx, store.ListFilter{
		StoreID: &in.StoreID,
		Status:  in.Status,
		From:    in.From,
		To:      in.To,
		Offset:  page.Offset,
		Limit:   page.Limit,
	})
}
