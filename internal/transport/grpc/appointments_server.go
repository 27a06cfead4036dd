package grpc

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/service/appointments"
)

type AppointmentsServer struct {
	svc appointmentsService
	log *slog.Logger
}

var _ AppointmentServiceServer = (*AppointmentsServer)(nil)

type appointmentsService interface {
	CheckConflict(ctx context.Context, in appointments.CheckInput) (domain.ConflictResult, error)
	Create(ctx context.Context, in appointments.CreateInput) (domain.Appointment, error)
	Reschedule(ctx context.Context, in appointments.RescheduleInput) (domain.Appointment, error)
	Transition(ctx context.Context, in appointments.TransitionInput) (domain.Appointment, error)
	AvailableSlots(ctx context.Context, in appointments.SlotsInput) ([]domain.Slot, error)
	Stats(ctx context.Context, storeID uuid.UUID, asOf domain.Date) (domain.StoreStats, error)
	Get(ctx context.Context, appointmentID uuid.UUID, customerID string, storeAdmin bool) (domain.Appointment, error)
	ListForCustomer(ctx context.Context, customerID string, page appointments.Page) ([]domain.Appointment, error)
	ListForTechnician(ctx context.Context, in appointments.TechnicianListInput) ([]domain.Appointment, error)
	ListForStore(ctx context.Context, in appointments.StoreListInput) ([]domain.Appointment, error)
}

func NewAppointmentsServer(svc appointmentsService, log *slog.Logger) *AppointmentsServer {
	if log == nil {
		log = slog.Default()
	}
	return &AppointmentsServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.appointments")),
	}
}

func (s *AppointmentsServer) CheckConflict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CheckConflict"))
	who := callerFrom(ctx)

	f := newFields(req)
	in := appointments.CheckInput{
		Date:         f.date("appointment_date"),
		Time:         f.timeOfDay("appointment_time"),
		ServiceID:    f.id("service_id"),
		TechnicianID: f.optionalID("technician_id"),
		CustomerID:   f.str("customer_id"),
	}
	if ex := f.optionalID("exclude_appointment_id"); ex != nil {
		in.ExcludeAppointmentID = *ex
	}
	if err := f.err(); err != nil {
		return nil, statusFor(log, "conflict check", err)
	}
	if in.CustomerID == "" {
		in.CustomerID = who.CustomerID
	}

	res, err := s.svc.CheckConflict(ctx, in)
	if err != nil {
		return nil, statusFor(log, "conflict check", err, slog.String("service_id", in.ServiceID.String()))
	}

	log.Debug(
		"conflict checked",
		slog.Bool("has_conflict", res.HasConflict),
		slog.String("dimension", string(res.Dimension)),
		slog.String("date", in.Date.String()),
		slog.String("time", in.Time.String()),
	)
	return toStruct(conflictDoc(res))
}

func (s *AppointmentsServer) CreateAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CreateAppointment"))
	who := callerFrom(ctx)
	if who.CustomerID == "" {
		log.Warn("invalid request", slog.String("reason", "missing_identity"))
		return nil, status.Error(codes.Unauthenticated, "customer identity is required")
	}

	f := newFields(req)
	in := appointments.CreateInput{
		CustomerID:     who.CustomerID,
		StoreID:        f.id("store_id"),
		ServiceID:      f.id("service_id"),
		TechnicianID:   f.optionalID("technician_id"),
		Date:           f.date("appointment_date"),
		Time:           f.timeOfDay("appointment_time"),
		Notes:          f.str("notes"),
		IdempotencyKey: idempotencyKey(ctx),
	}
	if err := f.err(); err != nil {
		return nil, statusFor(log, "appointment create", err, slog.String("customer_id", who.CustomerID))
	}

	appt, err := s.svc.Create(ctx, in)
	if err != nil {
		return nil, statusFor(log, "appointment create", err,
			slog.String("customer_id", who.CustomerID),
			slog.String("date", in.Date.String()),
			slog.String("time", in.Time.String()),
		)
	}

	log.Info(
		"appointment created",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("customer_id", appt.CustomerID),
		slog.String("store_id", appt.StoreID.String()),
		slog.String("date", appt.Date.String()),
		slog.String("time", appt.Time.String()),
	)
	return toStruct(map[string]any{"appointment": appointmentDoc(appt)})
}

func (s *AppointmentsServer) RescheduleAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "RescheduleAppointment"))
	who := callerFrom(ctx)

	f := newFields(req)
	in := appointments.RescheduleInput{
		AppointmentID:   f.id("appointment_id"),
		CustomerID:      who.CustomerID,
		StoreAdmin:      who.StoreAdmin,
		Date:            f.optionalDate("appointment_date"),
		Time:            f.optionalTimeOfDay("appointment_time"),
		TechnicianID:    f.optionalID("technician_id"),
		ClearTechnician: f.boolean("clear_technician"),
		Notes:           f.optionalString("notes"),
	}
	if err := f.err(); err != nil {
		return nil, statusFor(log, "appointment reschedule", err)
	}

	appt, err := s.svc.Reschedule(ctx, in)
	if err != nil {
		return nil, statusFor(log, "appointment reschedule", err, slog.String("appointment_id", in.AppointmentID.String()))
	}

	log.Info(
		"appointment rescheduled",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("date", appt.Date.String()),
		slog.String("time", appt.Time.String()),
	)
	return toStruct(map[string]any{"appointment": appointmentDoc(appt)})
}

func (s *AppointmentsServer) TransitionAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "TransitionAppointment"))
	who := callerFrom(ctx)

	f := newFields(req)
	in := appointments.TransitionInput{
		AppointmentID: f.id("appointment_id"),
		Event:         domain.Event(f.str("event")),
		CustomerID:    who.CustomerID,
		StoreAdmin:    who.StoreAdmin,
	}
	if err := f.err(); err != nil {
		return nil, statusFor(log, "appointment transition", err)
	}

	appt, err := s.svc.Transition(ctx, in)
	if err != nil {
		return nil, statusFor(log, "appointment transition", err,
			slog.String("appointment_id", in.AppointmentID.String()),
			slog.String("event", string(in.Event)),
		)
	}

	log.Info(
		"appointment transitioned",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("event", string(in.Event)),
		slog.String("status", string(appt.Status)),
	)
	return toStruct(map[string]any{"appointment": appointmentDoc(appt)})
}

func (s *AppointmentsServer) AvailableSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "AvailableSlots"))

	f := newFields(req)
	in := appointments.SlotsInput{
		TechnicianID: f.id("technician_id"),
		ServiceID:    f.id("service_id"),
		Date:         f.date("date"),
	}
	open, closing := f.optionalTimeOfDay("open"), f.optionalTimeOfDay("close")
	if err := f.err(); err != nil {
		return nil, statusFor(log, "slot generation", err)
	}
	if (open == nil) != (closing == nil) {
		log.Warn("invalid request", slog.String("reason", "partial_hours"))
		return nil, status.Error(codes.InvalidArgument, "open and close must be given together")
	}
	if open != nil {
		in.Hours = &domain.BusinessHours{Open: *open, Close: *closing}
	}

	slots, err := s.svc.AvailableSlots(ctx, in)
	if err != nil {
		return nil, statusFor(log, "slot generation", err, slog.String("technician_id", in.TechnicianID.String()))
	}

	log.Debug(
		"slots listed",
		slog.String("technician_id", in.TechnicianID.String()),
		slog.String("date", in.Date.String()),
		slog.Int("count", len(slots)),
	)
	return toStruct(slotsDoc(slots))
}

func (s *AppointmentsServer) StoreStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "StoreStats"))
	if !callerFrom(ctx).StoreAdmin {
		log.Info("store stats: forbidden")
		return nil, status.Error(codes.PermissionDenied, "store staff only")
	}

	f := newFields(req)
	storeID := f.id("store_id")
	var asOf domain.Date
	if d := f.optionalDate("as_of"); d != nil {
		asOf = *d
	}
	if err := f.err(); err != nil {
		return nil, statusFor(log, "store stats", err)
	}

	stats, err := s.svc.Stats(ctx, storeID, asOf)
	if err != nil {
		return nil, statusFor(log, "store stats", err, slog.String("store_id", storeID.String()))
	}
	return toStruct(statsDoc(stats))
}

func (s *AppointmentsServer) GetAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetAppointment"))
	who := callerFrom(ctx)

	f := newFields(req)
	id := f.id("appointment_id")
	if err := f.err(); err != nil {
		return nil, statusFor(log, "appointment get", err)
	}

	appt, err := s.svc.Get(ctx, id, who.CustomerID, who.StoreAdmin)
	if err != nil {
		return nil, statusFor(log, "appointment get", err, slog.String("appointment_id", id.String()))
	}
	return toStruct(map[string]any{"appointment": appointmentDoc(appt)})
}

func (s *AppointmentsServer) ListCustomerAppointments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListCustomerAppointments"))
	who := callerFrom(ctx)
	if who.CustomerID == "" {
		log.Warn("invalid request", slog.String("reason", "missing_identity"))
		return nil, status.Error(codes.Unauthenticated, "customer identity is required")
	}

	f := newFields(req)
	page := appointments.Page{Offset: f.integer("offset"), Limit: f.integer("limit")}
	if err := f.err(); err != nil {
		return nil, statusFor(log, "appointments list", err)
	}

	appts, err := s.svc.ListForCustomer(ctx, who.CustomerID, page)
	if err != nil {
		return nil, statusFor(log, "appointments list", err, slog.String("customer_id", who.CustomerID))
	}

	log.Debug("appointments listed", slog.String("customer_id", who.CustomerID), slog.Int("count", len(appts)))
	return toStruct(appointmentList(appts))
}

func (s *AppointmentsServer) ListTechnicianAppointments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListTechnicianAppointments"))
	who := callerFrom(ctx)
	if !who.StoreAdmin {
		log.Info("appointments list: forbidden")
		return nil, status.Error(codes.PermissionDenied, "store staff only")
	}

	f := newFields(req)
	in := appointments.TechnicianListInput{
		TechnicianID: f.id("technician_id"),
		Date:         f.date("date"),
		StoreAdmin:   who.StoreAdmin,
	}
	if err := f.err(); err != nil {
		return nil, statusFor(log, "appointments list", err)
	}

	appts, err := s.svc.ListForTechnician(ctx, in)
	if err != nil {
		return nil, statusFor(log, "appointments list", err, slog.String("technician_id", in.TechnicianID.String()))
	}

	log.Debug("appointments listed", slog.String("technician_id", in.TechnicianID.String()), slog.Int("count", len(appts)))
	return toStruct(appointmentList(appts))
}

func (s *AppointmentsServer) ListStoreAppointments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListStoreAppointments"))
	who := callerFrom(ctx)

	f := newFields(req)
	in := appointments.StoreListInput{
		StoreID:    f.id("store_id"),
		StoreAdmin: who.StoreAdmin,
		Status:     domain.Status(f.str("status")),
		Page:       appointments.Page{Offset: f.integer("offset"), Limit: f.integer("limit")},
	}
	if d := f.optionalDate("from"); d != nil {
		in.From = *d
	}
	if d := f.optionalDate("to"); d != nil {
		in.To = *d
	}
	if err := f.err(); err != nil {
		return nil, statusFor(log, "appointments list", err)
	}

	appts, err := s.svc.ListForStore(ctx, in)
	if err != nil {
		return nil, statusFor(log, "appointments list", err, slog.String("store_id", in.StoreID.String()))
	}

	log.Debug("appointments listed", slog.String("store_id", in.StoreID.String()), slog.Int("count", len(appts)))
	return toStruct(appointmentList(appts))
}
