package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/outbox"
	"nailsdash/backend/internal/store"
)

type CheckInput struct {
	Date                 domain.Date
	Time                 domain.TimeOfDay
	ServiceID            uuid.UUID  `json:"service_id" validate:"required"`
	TechnicianID         *uuid.UUID `json:"technician_id"`
	CustomerID           string     `json:"customer_id" validate:"max=128"`
	ExcludeAppointmentID uuid.UUID  `json:"exclude_appointment_id"`
}

// CheckConflict reports whether the candidate booking collides with an active appointment.
// It has no side effects.
func (s *Service) CheckConflict(ctx context.Context, in CheckInput) (res domain.ConflictResult, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.CheckConflict")
	defer func() { endSpan(span, err) }()

	if err := s.validateInput(in); err != nil {
		return domain.ConflictResult{}, err
	}
	if in.Date.IsZero() {
		return domain.ConflictResult{}, validationError("appointment_date is required")
	}

	svc, err := s.repo.GetService(ctx, in.ServiceID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.InvalidServiceResult(), nil
	}
	if err != nil {
		return domain.ConflictResult{}, err
	}

	return detectConflict(ctx, s.repo, candidateFor(in.Date, in.Time, svc, in.TechnicianID, in.CustomerID, in.ExcludeAppointmentID))
}

func candidateFor(date domain.Date, at domain.TimeOfDay, svc domain.Service, technicianID *uuid.UUID, customerID string, excludeID uuid.UUID) domain.ConflictCandidate {
	return domain.ConflictCandidate{
		Range:        domain.NewTimeRange(date, at, svc.Duration()),
		TechnicianID: technicianID,
		CustomerID:   customerID,
		ExcludeID:    excludeID,
	}
}

// detectConflict loads the active appointments that could collide with c and runs the
// technician-then-customer scan over them.
func detectConflict(ctx context.Context, r store.SchedulingReader, c domain.ConflictCandidate) (domain.ConflictResult, error) {
	if c.TechnicianID == nil && c.CustomerID == "" {
		return domain.NoConflict(), nil
	}
	existing, err := r.ListActiveOnDate(ctx, domain.DateOf(c.Range.Start), store.ActiveFilter{
		TechnicianID: c.TechnicianID,
		CustomerID:   c.CustomerID,
		ExcludeID:    c.ExcludeID,
	})
	if err != nil {
		return domain.ConflictResult{}, err
	}
	return domain.DetectConflict(c, existing), nil
}

type CreateInput struct {
	CustomerID     string     `json:"customer_id" validate:"required,max=128"`
	StoreID        uuid.UUID  `json:"store_id" validate:"required"`
	ServiceID      uuid.UUID  `json:"service_id" validate:"required"`
	TechnicianID   *uuid.UUID `json:"technician_id"`
	Date           domain.Date
	Time           domain.TimeOfDay
	Notes          string `json:"notes" validate:"max=1000"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=256"`
}

// Create books an appointment in status pending. The conflict check and the insert run
// under the technician and customer day locks, so two racing bookings for overlapping
// ranges cannot both succeed.
func (s *Service) Create(ctx context.Context, in CreateInput) (out domain.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.Create")
	defer func() { endSpan(span, err) }()

	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if err := s.validateInput(in); err != nil {
		return domain.Appointment{}, err
	}
	if in.Date.IsZero() {
		return domain.Appointment{}, validationError("appointment_date is required")
	}

	appt := domain.Appointment{
		CustomerID:   in.CustomerID,
		StoreID:      in.StoreID,
		ServiceID:    in.ServiceID,
		TechnicianID: in.TechnicianID,
		Date:         in.Date,
		Time:         in.Time,
		Notes:        in.Notes,
		Status:       domain.StatusPending,
	}
	if in.IdempotencyKey != "" {
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("nailsdash:create_appointment:"+in.CustomerID+":"+in.IdempotencyKey))
	}
	span.SetAttributes(attribute.String("store.id", in.StoreID.String()), attribute.String("appointment.date", in.Date.String()))

	replayed := false
	var candidate domain.ConflictCandidate
	err = s.repo.InSchedulingTransaction(ctx, lockKeys(appt), func(ctx context.Context, tx store.SchedulingTx) error {
		if appt.ID != uuid.Nil {
			existing, err := tx.GetAppointmentForUpdate(ctx, appt.ID)
			switch {
			case err == nil:
				if !sameBooking(existing, appt) {
					return store.ErrIdempotencyConflict
				}
				out = existing
				replayed = true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		svc, err := s.checkBookable(ctx, tx, appt)
		if err != nil {
			return err
		}

		candidate = candidateFor(appt.Date, appt.Time, svc, appt.TechnicianID, appt.CustomerID, uuid.Nil)
		res, err := detectConflict(ctx, tx, candidate)
		if err != nil {
			return err
		}
		if err := res.Err(svc.ID); err != nil {
			return err
		}

		created, err := tx.InsertAppointment(ctx, appt)
		if errors.Is(err, store.ErrConflict) {
			return errSlotTaken
		}
		if err != nil {
			return err
		}
		if err := enqueue(ctx, tx, outbox.AppointmentCreated, created, ""); err != nil {
			return err
		}
		out = created
		return nil
	})
	if errors.Is(err, errSlotTaken) {
		return domain.Appointment{}, s.slotTakenError(ctx, candidate)
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	span.SetAttributes(attribute.String("appointment.id", out.ID.String()), attribute.Bool("idempotent_replay", replayed))
	return out, nil
}

type RescheduleInput struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required"`
	CustomerID    string    `json:"customer_id" validate:"max=128"`
	StoreAdmin    bool      `json:"-"`

	Date *domain.Date
	Time *domain.TimeOfDay
	// TechnicianID replaces the assigned technician when set; ClearTechnician unassigns it.
	TechnicianID    *uuid.UUID `json:"technician_id"`
	ClearTechnician bool       `json:"clear_technician"`
	Notes           *string    `json:"notes" validate:"omitempty,max=1000"`
}

// Reschedule moves an active appointment and re-runs the conflict check with the
// appointment itself excluded. Status is left unchanged.
func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (out domain.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.Reschedule")
	defer func() { endSpan(span, err) }()

	if err := s.validateInput(in); err != nil {
		return domain.Appointment{}, err
	}
	if in.TechnicianID != nil && in.ClearTechnician {
		return domain.Appointment{}, validationError("technician_id and clear_technician are mutually exclusive")
	}

	current, err := s.repo.GetAppointment(ctx, in.AppointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	target := applyReschedule(current, in)

	keys := append(lockKeys(current), lockKeys(target)...)
	var candidate domain.ConflictCandidate
	err = s.repo.InSchedulingTransaction(ctx, keys, func(ctx context.Context, tx store.SchedulingTx) error {
		locked, err := tx.GetAppointmentForUpdate(ctx, in.AppointmentID)
		if err != nil {
			return err
		}
		if !sameSchedule(locked, current) {
			// moved concurrently; the locks taken no longer cover it
			return fmt.Errorf("%w: appointment changed while rescheduling", store.ErrTransient)
		}
		if !in.StoreAdmin && locked.CustomerID != in.CustomerID {
			return ErrForbidden
		}
		if !locked.Status.Active() {
			return &domain.TransitionError{From: locked.Status, Event: "reschedule", Reason: "only pending or confirmed appointments can be rescheduled"}
		}

		next := applyReschedule(locked, in)
		// Notes-only edits stay allowed after the store or technician stops taking bookings.
		if !sameSlot(locked, next) {
			svc, err := s.checkBookable(ctx, tx, next)
			if err != nil {
				return err
			}

			candidate = candidateFor(next.Date, next.Time, svc, next.TechnicianID, next.CustomerID, next.ID)
			res, err := detectConflict(ctx, tx, candidate)
			if err != nil {
				return err
			}
			if err := res.Err(svc.ID); err != nil {
				return err
			}
		}

		updated, err := tx.UpdateAppointment(ctx, next)
		if errors.Is(err, store.ErrConflict) {
			return errSlotTaken
		}
		if err != nil {
			return err
		}
		if err := enqueue(ctx, tx, outbox.AppointmentRescheduled, updated, ""); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if errors.Is(err, errSlotTaken) {
		return domain.Appointment{}, s.slotTakenError(ctx, candidate)
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func applyReschedule(a domain.Appointment, in RescheduleInput) domain.Appointment {
	if in.Date != nil {
		a.Date = *in.Date
	}
	if in.Time != nil {
		a.Time = *in.Time
	}
	if in.TechnicianID != nil {
		id := *in.TechnicianID
		a.TechnicianID = &id
	}
	if in.ClearTechnician {
		a.TechnicianID = nil
	}
	if in.Notes != nil {
		a.Notes = *in.Notes
	}
	return a
}

// checkBookable resolves the store, service and technician an appointment references and
// returns the service.
func (s *Service) checkBookable(ctx context.Context, tx store.SchedulingReader, appt domain.Appointment) (domain.Service, error) {
	st, err := tx.GetStore(ctx, appt.StoreID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Service{}, fmt.Errorf("store %s: %w", appt.StoreID, store.ErrNotFound)
	}
	if err != nil {
		return domain.Service{}, err
	}
	if !st.IsActive {
		return domain.Service{}, validationError("store is not accepting appointments")
	}

	svc, err := tx.GetService(ctx, appt.ServiceID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Service{}, &domain.InvalidServiceError{ServiceID: appt.ServiceID.String()}
	}
	if err != nil {
		return domain.Service{}, err
	}
	if svc.StoreID != appt.StoreID {
		return domain.Service{}, validationError("service is not offered by this store")
	}

	if appt.TechnicianID != nil {
		tech, err := tx.GetTechnician(ctx, *appt.TechnicianID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Service{}, fmt.Errorf("technician %s: %w", *appt.TechnicianID, store.ErrNotFound)
		}
		if err != nil {
			return domain.Service{}, err
		}
		if tech.StoreID != appt.StoreID {
			return domain.Service{}, validationError("technician does not work at this store")
		}
		if !tech.IsActive {
			return domain.Service{}, validationError("technician is not taking bookings")
		}
	}
	return svc, nil
}

// errSlotTaken marks a write rejected by the unique index on active technician slots.
// The transaction is aborted by then, so the winner is looked up after it ends.
var errSlotTaken = errors.New("active slot already taken")

// slotTakenError reports the booking that won the slot the same way the overlap scan would.
func (s *Service) slotTakenError(ctx context.Context, c domain.ConflictCandidate) error {
	s.logger.Warn("active slot index rejected booking", "window", c.Range.String())
	res, err := detectConflict(ctx, s.repo, c)
	if err == nil && res.HasConflict && res.Dimension != domain.DimensionInvalidService {
		return res.Err(uuid.Nil)
	}
	if err != nil {
		s.logger.Warn("reload winning booking failed", "err", err)
	}
	return &domain.ConflictError{
		Dimension: domain.DimensionTechnician,
		Window:    c.Range,
		Message:   fmt.Sprintf("the technician is already booked from %s to %s", c.Range.Start.Format("15:04"), c.Range.End.Format("15:04")),
	}
}

func lockKeys(a domain.Appointment) []string {
	keys := []string{store.CustomerDayKey(a.CustomerID, a.Date)}
	if a.TechnicianID != nil {
		keys = append(keys, store.TechnicianDayKey(*a.TechnicianID, a.Date))
	}
	return keys
}

func sameBooking(existing, requested domain.Appointment) bool {
	return existing.CustomerID == requested.CustomerID &&
		existing.StoreID == requested.StoreID &&
		existing.ServiceID == requested.ServiceID &&
		sameTechnician(existing.TechnicianID, requested.TechnicianID) &&
		existing.Date == requested.Date &&
		existing.Time == requested.Time &&
		existing.Notes == requested.Notes
}

// sameSlot reports whether two versions of an appointment occupy the same technician, date and time.
func sameSlot(a, b domain.Appointment) bool {
	return a.Date == b.Date && a.Time == b.Time && sameTechnician(a.TechnicianID, b.TechnicianID)
}

func sameSchedule(a, b domain.Appointment) bool {
	return a.Date == b.Date && sameTechnician(a.TechnicianID, b.TechnicianID) && a.CustomerID == b.CustomerID
}

func sameTechnician(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func enqueue(ctx context.Context, tx store.SchedulingTx, eventType string, a domain.Appointment, previous domain.Status) error {
	payload := outbox.AppointmentPayload{
		CustomerID:     a.CustomerID,
		StoreID:        a.StoreID.String(),
		ServiceID:      a.ServiceID.String(),
		Date:           a.Date.String(),
		Time:           a.Time.String(),
		Status:         string(a.Status),
		PreviousStatus: string(previous),
	}
	if a.TechnicianID != nil {
		payload.TechnicianID = a.TechnicianID.String()
	}
	evt, err := outbox.NewAppointmentEvent(ctx, eventType, a.ID, payload)
	if err != nil {
		return err
	}
	return tx.EnqueueEvent(ctx, evt)
}
