package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/outbox"
	"nailsdash/backend/internal/store"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

var _ store.AppointmentRepository = (*AppointmentRepo)(nil)

// bookedRow is an appointment joined to the current duration of its service.
type bookedRow struct {
	domain.Appointment `bun:",extend"`

	DurationMinutes int `bun:"duration_minutes,scanonly"`
}

type schedulingTx struct {
	tx bun.Tx
}

func (r *AppointmentRepo) GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	return getStore(ctx, r.db, id)
}

func (r *AppointmentRepo) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	return getService(ctx, r.db, id)
}

func (r *AppointmentRepo) GetTechnician(ctx context.Context, id uuid.UUID) (domain.Technician, error) {
	return getTechnician(ctx, r.db, id)
}

func (r *AppointmentRepo) ListActiveOnDate(ctx context.Context, date domain.Date, filter store.ActiveFilter) ([]domain.BookedAppointment, error) {
	return listActiveOnDate(ctx, r.db, date, filter)
}

func (r *AppointmentRepo) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := r.db.NewSelect().Model(&a).Where("a.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return domain.Appointment{}, notFound(err)
	}
	return a, nil
}

func (r *AppointmentRepo) ListAppointments(ctx context.Context, filter store.ListFilter) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := r.db.NewSelect().Model(&rows)
	if filter.CustomerID != "" {
		q = q.Where("a.customer_id = ?", filter.CustomerID)
	}
	if filter.StoreID != nil {
		q = q.Where("a.store_id = ?", *filter.StoreID)
	}
	if filter.TechnicianID != nil {
		q = q.Where("a.technician_id = ?", *filter.TechnicianID)
	}
	if filter.Status != "" {
		q = q.Where("a.status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		q = q.Where("a.appointment_date >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("a.appointment_date <= ?", filter.To)
	}
	if filter.NewestFirst {
		q = q.OrderExpr("a.appointment_date DESC, a.appointment_time DESC, a.id DESC")
	} else {
		q = q.OrderExpr("a.appointment_date ASC, a.appointment_time ASC, a.id ASC")
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, classifyError(err)
	}
	return rows, nil
}

func (r *AppointmentRepo) InSchedulingTransaction(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, key := range store.NormalizeLockKeys(lockKeys) {
			if err := lockKey(ctx, tx, key); err != nil {
				return err
			}
		}
		return fn(ctx, schedulingTx{tx: tx})
	})
	return classifyError(err)
}

func lockKey(ctx context.Context, tx bun.Tx, key string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", key).Exec(ctx)
	return err
}

func (t schedulingTx) GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	return getStore(ctx, t.tx, id)
}

func (t schedulingTx) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	return getService(ctx, t.tx, id)
}

func (t schedulingTx) GetTechnician(ctx context.Context, id uuid.UUID) (domain.Technician, error) {
	return getTechnician(ctx, t.tx, id)
}

func (t schedulingTx) ListActiveOnDate(ctx context.Context, date domain.Date, filter store.ActiveFilter) ([]domain.BookedAppointment, error) {
	return listActiveOnDate(ctx, t.tx, date, filter)
}

func (t schedulingTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := t.tx.NewSelect().
		Model(&a).
		Where("a.id = ?", id).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, notFound(err)
	}
	return a, nil
}

func (t schedulingTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Appointment{}, classifyInsertError(err)
	}
	return m, nil
}

func (t schedulingTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	res, err := t.tx.NewUpdate().
		Model(&m).
		Column("technician_id", "appointment_date", "appointment_time", "notes", "status", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, classifyInsertError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		return domain.Appointment{}, store.ErrNotFound
	}
	return m, nil
}

func (t schedulingTx) EnqueueEvent(ctx context.Context, evt outbox.Event) error {
	_, err := t.tx.NewInsert().Model(&evt).Exec(ctx)
	return err
}

func getStore(ctx context.Context, db bun.IDB, id uuid.UUID) (domain.Store, error) {
	var s domain.Store
	if err := db.NewSelect().Model(&s).Where("st.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return domain.Store{}, notFound(err)
	}
	return s, nil
}

func getService(ctx context.Context, db bun.IDB, id uuid.UUID) (domain.Service, error) {
	var s domain.Service
	if err := db.NewSelect().Model(&s).Where("s.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return domain.Service{}, notFound(err)
	}
	return s, nil
}

func getTechnician(ctx context.Context, db bun.IDB, id uuid.UUID) (domain.Technician, error) {
	var t domain.Technician
	if err := db.NewSelect().Model(&t).Where("t.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return domain.Technician{}, notFound(err)
	}
	return t, nil
}

// listActiveOnDate joins every active appointment to its service so the duration reflects
// the service as it is now.
func listActiveOnDate(ctx context.Context, db bun.IDB, date domain.Date, filter store.ActiveFilter) ([]domain.BookedAppointment, error) {
	var rows []bookedRow
	q := db.NewSelect().
		Model(&rows).
		ColumnExpr("a.*").
		ColumnExpr("s.duration_minutes").
		Join("JOIN services AS s ON s.id = a.service_id").
		Where("a.appointment_date = ?", date).
		Where("a.status IN (?)", bun.In(domain.ActiveStatuses))

	if filter.TechnicianID != nil || filter.CustomerID != "" {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			if filter.TechnicianID != nil {
				q = q.WhereOr("a.technician_id = ?", *filter.TechnicianID)
			}
			if filter.CustomerID != "" {
				q = q.WhereOr("a.customer_id = ?", filter.CustomerID)
			}
			return q
		})
	}
	if filter.ExcludeID != uuid.Nil {
		q = q.Where("a.id <> ?", filter.ExcludeID)
	}

	if err := q.OrderExpr("a.appointment_time ASC").Scan(ctx); err != nil {
		return nil, classifyError(err)
	}

	out := make([]domain.BookedAppointment, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.BookedAppointment{Appointment: r.Appointment, DurationMinutes: r.DurationMinutes})
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return classifyError(err)
}
