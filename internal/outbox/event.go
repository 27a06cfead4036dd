package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Event types double as Kafka topic names.
const (
	AppointmentCreated     = "appointment.created.v1"
	AppointmentRescheduled = "appointment.rescheduled.v1"
	AppointmentConfirmed   = "appointment.confirmed.v1"
	AppointmentCompleted   = "appointment.completed.v1"
	AppointmentCancelled   = "appointment.cancelled.v1"

	aggregateAppointment = "appointment"
)

// Event is the envelope written to the outbox table in the same transaction as the
// appointment change it describes.
type Event struct {
	bun.BaseModel `bun:"table:outbox_events,alias:oe"`

	ID            int64           `bun:"id,pk,autoincrement"`
	EventID       uuid.UUID       `bun:"event_id,notnull,type:uuid"`
	AggregateType string          `bun:"aggregate_type,notnull"`
	AggregateID   string          `bun:"aggregate_id,notnull"`
	EventType     string          `bun:"event_type,notnull"`
	Payload       json.RawMessage `bun:"payload,notnull,type:jsonb"`
	Traceparent   string          `bun:"traceparent,notnull"`
	Tracestate    string          `bun:"tracestate,notnull"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
	PublishedAt   *time.Time      `bun:"published_at"`
}

// AppointmentPayload is the JSON body of every appointment event.
type AppointmentPayload struct {
	EventID        string `json:"event_id"`
	AppointmentID  string `json:"appointment_id"`
	CustomerID     string `json:"customer_id"`
	StoreID        string `json:"store_id"`
	ServiceID      string `json:"service_id"`
	TechnicianID   string `json:"technician_id,omitempty"`
	Date           string `json:"appointment_date"`
	Time           string `json:"appointment_time"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}

// NewAppointmentEvent builds an outbox event and captures the trace context of ctx so the
// publisher can continue the trace.
func NewAppointmentEvent(ctx context.Context, eventType string, appointmentID uuid.UUID, payload AppointmentPayload) (Event, error) {
	eventID := uuid.New()
	now := time.Now().UTC()

	payload.EventID = eventID.String()
	payload.AppointmentID = appointmentID.String()
	if payload.OccurredAt == "" {
		payload.OccurredAt = now.Format(time.RFC3339Nano)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	traceparent, tracestate := traceContextStrings(ctx)
	return Event{
		EventID:       eventID,
		AggregateType: aggregateAppointment,
		AggregateID:   appointmentID.String(),
		EventType:     eventType,
		Payload:       body,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
		CreatedAt:     now,
	}, nil
}

func traceContextStrings(ctx context.Context) (string, string) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.Get("traceparent"), carrier.Get("tracestate")
}

func contextWithTraceContext(ctx context.Context, traceparent, tracestate string) context.Context {
	if traceparent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": traceparent}
	if tracestate != "" {
		carrier["tracestate"] = tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
