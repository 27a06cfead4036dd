package appointments

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/outbox"
	"nailsdash/backend/internal/store"
)

type TransitionInput struct {
	AppointmentID uuid.UUID    `json:"appointment_id" validate:"required"`
	Event         domain.Event `json:"event" validate:"required,oneof=confirm complete cancel"`
	CustomerID    string       `json:"customer_id" validate:"max=128"`
	StoreAdmin    bool         `json:"-"`
}

var transitionEvents = map[domain.Event]string{
	domain.EventConfirm:  outbox.AppointmentConfirmed,
	domain.EventComplete: outbox.AppointmentCompleted,
	domain.EventCancel:   outbox.AppointmentCancelled,
}

// Transition applies a lifecycle event. Confirm and complete are reserved for store staff;
// cancel is also open to the customer who owns the appointment.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (out domain.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointments.Transition")
	defer func() { endSpan(span, err) }()

	if err := s.validateInput(in); err != nil {
		return domain.Appointment{}, err
	}
	span.SetAttributes(attribute.String("appointment.id", in.AppointmentID.String()), attribute.String("appointment.event", string(in.Event)))

	err = s.repo.InSchedulingTransaction(ctx, nil, func(ctx context.Context, tx store.SchedulingTx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, in.AppointmentID)
		if err != nil {
			return err
		}
		if !mayTransition(appt, in) {
			return ErrForbidden
		}

		next, err := appt.Status.Next(in.Event)
		if err != nil {
			return err
		}
		previous := appt.Status
		appt.Status = next

		updated, err := tx.UpdateAppointment(ctx, appt)
		if err != nil {
			return err
		}
		if err := enqueue(ctx, tx, transitionEvents[in.Event], updated, previous); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func mayTransition(appt domain.Appointment, in TransitionInput) bool {
	if in.StoreAdmin {
		return true
	}
	if in.Event.RequiresStoreAdmin() {
		return false
	}
	return in.CustomerID != "" && appt.CustomerID == in.CustomerID
}
