package appointments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/outbox"
	"nailsdash/backend/internal/store"
)

type fakeRepo struct {
	getStoreFn         func(ctx context.Context, id uuid.UUID) (domain.Store, error)
	getServiceFn       func(ctx context.Context, id uuid.UUID) (domain.Service, error)
	getTechnicianFn    func(ctx context.Context, id uuid.UUID) (domain.Technician, error)
	listActiveOnDateFn func(ctx context.Context, date domain.Date, filter store.ActiveFilter) ([]domain.BookedAppointment, error)
	getAppointmentFn   func(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	listAppointmentsFn func(ctx context.Context, filter store.ListFilter) ([]domain.Appointment, error)
	inTxFn             func(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx store.SchedulingTx) error) error
}

func (f *fakeRepo) GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	if f.getStoreFn == nil {
		panic("GetStore not configured")
	}
	return f.getStoreFn(ctx, id)
}

func (f *fakeRepo) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	if f.getServiceFn == nil {
		panic("GetService not configured")
	}
	return f.getServiceFn(ctx, id)
}

func (f *fakeRepo) GetTechnician(ctx context.Context, id uuid.UUID) (domain.Technician, error) {
	if f.getTechnicianFn == nil {
		panic("GetTechnician not configured")
	}
	return f.getTechnicianFn(ctx, id)
}

func (f *fakeRepo) ListActiveOnDate(ctx context.Context, date domain.Date, filter store.ActiveFilter) ([]domain.BookedAppointment, error) {
	if f.listActiveOnDateFn == nil {
		panic("ListActiveOnDate not configured")
	}
	return f.listActiveOnDateFn(ctx, date, filter)
}

func (f *fakeRepo) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if f.getAppointmentFn == nil {
		panic("GetAppointment not configured")
	}
	return f.getAppointmentFn(ctx, id)
}

func (f *fakeRepo) ListAppointments(ctx context.Context, filter store.ListFilter) ([]domain.Appointment, error) {
	if f.listAppointmentsFn == nil {
		panic("ListAppointments not configured")
	}
	return f.listAppointmentsFn(ctx, filter)
}

func (f *fakeRepo) InSchedulingTransaction(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	if f.inTxFn == nil {
		panic("InSchedulingTransaction not configured")
	}
	return f.inTxFn(ctx, lockKeys, fn)
}

// fakeTx serves catalog reads from fixed values and delegates writes to function fields.
type fakeTx struct {
	store      domain.Store
	service    domain.Service
	technician domain.Technician
	booked     []domain.BookedAppointment

	getForUpdateFn func(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	insertFn       func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	updateFn       func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	events         []outbox.Event
}

func (f *fakeTx) GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	if id != f.store.ID {
		return domain.Store{}, store.ErrNotFound
	}
	return f.store, nil
}

func (f *fakeTx) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	if id != f.service.ID {
		return domain.Service{}, store.ErrNotFound
	}
	return f.service, nil
}

func (f *fakeTx) GetTechnician(ctx context.Context, id uuid.UUID) (domain.Technician, error) {
	if id != f.technician.ID {
		return domain.Technician{}, store.ErrNotFound
	}
	return f.technician, nil
}

func (f *fakeTx) ListActiveOnDate(ctx context.Context, date domain.Date, filter store.ActiveFilter) ([]domain.BookedAppointment, error) {
	return f.booked, nil
}

func (f *fakeTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if f.getForUpdateFn == nil {
		panic("GetAppointmentForUpdate not configured")
	}
	return f.getForUpdateFn(ctx, id)
}

func (f *fakeTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if f.insertFn == nil {
		panic("InsertAppointment not configured")
	}
	return f.insertFn(ctx, appt)
}

func (f *fakeTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if f.updateFn == nil {
		panic("UpdateAppointment not configured")
	}
	return f.updateFn(ctx, appt)
}

func (f *fakeTx) EnqueueEvent(ctx context.Context, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func newFakeTx() *fakeTx {
	st := domain.Store{ID: uuid.New(), Name: "Downtown", IsActive: true}
	return &fakeTx{
		store:      st,
		service:    domain.Service{ID: uuid.New(), StoreID: st.ID, Name: "Manicure", DurationMinutes: 30},
		technician: domain.Technician{ID: uuid.New(), StoreID: st.ID, Name: "Anh", IsActive: true},
	}
}

func repoWithTx(tx *fakeTx, keys *[]string) *fakeRepo {
	return &fakeRepo{
		inTxFn: func(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
			if keys != nil {
				*keys = lockKeys
			}
			return fn(ctx, tx)
		},
	}
}

func createInput(tx *fakeTx) CreateInput {
	return CreateInput{
		CustomerID:   "cust-1",
		StoreID:      tx.store.ID,
		ServiceID:    tx.service.ID,
		TechnicianID: &tx.technician.ID,
		Date:         domain.Date{Year: 2026, Month: time.January, Day: 10},
		Time:         domain.NewTimeOfDay(10, 0),
	}
}

func TestServiceCreate_ValidationErrorType(t *testing.T) {
	svc := NewService(&fakeRepo{})

	tests := []struct {
		name    string
		mutate  func(in *CreateInput)
		wantErr string
	}{
		{name: "missing customer", mutate: func(in *CreateInput) { in.CustomerID = "  " }, wantErr: "customer_id is required"},
		{name: "missing store", mutate: func(in *CreateInput) { in.StoreID = uuid.Nil }, wantErr: "store_id is required"},
		{name: "missing service", mutate: func(in *CreateInput) { in.ServiceID = uuid.Nil }, wantErr: "service_id is required"},
		{name: "missing date", mutate: func(in *CreateInput) { in.Date = domain.Date{} }, wantErr: "appointment_date is required"},
		{name: "long idempotency key", mutate: func(in *CreateInput) { in.IdempotencyKey = strings.Repeat("k", 257) }, wantErr: "idempotency_key too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := createInput(newFakeTx())
			tt.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error type = %T (%v), want *ValidationError", err, err)
			}
			if vErr.Error() != tt.wantErr {
				t.Fatalf("error = %q, want %q", vErr.Error(), tt.wantErr)
			}
		})
	}
}

func TestServiceCreate_LocksTechnicianAndCustomerDay(t *testing.T) {
	tx := newFakeTx()
	tx.insertFn = func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
		appt.ID = uuid.New()
		appt.Status = domain.StatusPending
		return appt, nil
	}
	var keys []string
	svc := NewService(repoWithTx(tx, &keys))

	in := createInput(tx)
	got, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}

	want := map[string]bool{
		store.CustomerDayKey("cust-1", in.Date):           false,
		store.TechnicianDayKey(tx.technician.ID, in.Date): false,
	}
	for _, k := range keys {
		want[k] = true
	}
	for k, seen := range want {
		if !seen {
			t.Fatalf("lock key %q not requested; got %v", k, keys)
		}
	}

	if len(tx.events) != 1 || tx.events[0].EventType != outbox.AppointmentCreated {
		t.Fatalf("events = %+v, want one %s", tx.events, outbox.AppointmentCreated)
	}
}

func TestServiceCreate_IdempotencyKeyDeterministicUUID(t *testing.T) {
	tx := newFakeTx()
	var ids []uuid.UUID
	tx.getForUpdateFn = func(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
		return domain.Appointment{}, store.ErrNotFound
	}
	tx.insertFn = func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
		ids = append(ids, appt.ID)
		return appt, nil
	}
	svc := NewService(repoWithTx(tx, nil))

	for _, key := range []string{"k1", "k1", "k2"} {
		in := createInput(tx)
		in.IdempotencyKey = key
		if _, err := svc.Create(context.Background(), in); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if ids[0] == uuid.Nil || ids[0] != ids[1] {
		t.Fatalf("same key produced ids %s and %s", ids[0], ids[1])
	}
	if ids[0] == ids[2] {
		t.Fatalf("different keys produced the same id %s", ids[0])
	}
	if ids[0].Version() != 5 {
		t.Fatalf("idempotent id version = %d, want 5", ids[0].Version())
	}
}

func TestServiceCreate_IdempotentReplay(t *testing.T) {
	tx := newFakeTx()
	in := createInput(tx)
	in.IdempotencyKey = "retry-1"

	existing := domain.Appointment{
		CustomerID:   in.CustomerID,
		StoreID:      in.StoreID,
		ServiceID:    in.ServiceID,
		TechnicianID: in.TechnicianID,
		Date:         in.Date,
		Time:         in.Time,
		Status:       domain.StatusConfirmed,
	}
	tx.getForUpdateFn = func(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
		existing.ID = id
		return existing, nil
	}
	svc := NewService(repoWithTx(tx, nil))

	got, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if got.Status != domain.StatusConfirmed || len(tx.events) != 0 {
		t.Fatalf("replay should return the stored appointment without new events, got %+v", got)
	}

	in.Notes = "different"
	_, err = svc.Create(context.Background(), in)
	if !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("error = %v, want %v", err, store.ErrIdempotencyConflict)
	}
}

func TestServiceCreate_ConflictStopsInsert(t *testing.T) {
	tx := newFakeTx()
	tx.booked = []domain.BookedAppointment{{
		Appointment: domain.Appointment{
			ID: uuid.New(), CustomerID: "someone", StoreID: tx.store.ID, ServiceID: tx.service.ID,
			TechnicianID: &tx.technician.ID, Date: domain.Date{Year: 2026, Month: time.January, Day: 10},
			Time: domain.NewTimeOfDay(9, 45), Status: domain.StatusPending,
		},
		DurationMinutes: 30,
	}}
	svc := NewService(repoWithTx(tx, nil))

	_, err := svc.Create(context.Background(), createInput(tx))
	var cErr *domain.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("error type = %T (%v), want *domain.ConflictError", err, err)
	}
	if cErr.Dimension != domain.DimensionTechnician || cErr.Message != "the technician is already booked from 09:45 to 10:15" {
		t.Fatalf("conflict = %+v", cErr)
	}
}

func TestServiceCreate_UniqueIndexViolationReportsWinner(t *testing.T) {
	tx := newFakeTx()
	tx.insertFn = func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
		return domain.Appointment{}, store.ErrConflict
	}
	in := createInput(tx)
	winner := domain.BookedAppointment{
		Appointment: domain.Appointment{
			ID: uuid.New(), CustomerID: "someone", StoreID: tx.store.ID, ServiceID: tx.service.ID,
			TechnicianID: &tx.technician.ID, Date: in.Date, Time: domain.NewTimeOfDay(9, 45), Status: domain.StatusPending,
		},
		DurationMinutes: 30,
	}
	repo := repoWithTx(tx, nil)
	var filter store.ActiveFilter
	repo.listActiveOnDateFn = func(ctx context.Context, date domain.Date, f store.ActiveFilter) ([]domain.BookedAppointment, error) {
		filter = f
		return []domain.BookedAppointment{winner}, nil
	}
	svc := NewService(repo)

	_, err := svc.Create(context.Background(), in)
	var cErr *domain.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("error type = %T (%v), want *domain.ConflictError", err, err)
	}
	if !errors.Is(err, domain.ErrTimeConflict) {
		t.Fatalf("error = %v, want ErrTimeConflict", err)
	}
	if cErr.Message != "the technician is already booked from 09:45 to 10:15" {
		t.Fatalf("message = %q, want the winning booking's window", cErr.Message)
	}
	if filter.TechnicianID == nil || *filter.TechnicianID != tx.technician.ID || filter.CustomerID != "cust-1" {
		t.Fatalf("winner lookup filter = %+v", filter)
	}
}

func TestServiceCreate_UniqueIndexViolationWithoutVisibleWinner(t *testing.T) {
	tx := newFakeTx()
	tx.insertFn = func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
		return domain.Appointment{}, store.ErrConflict
	}
	repo := repoWithTx(tx, nil)
	repo.listActiveOnDateFn = func(ctx context.Context, date domain.Date, f store.ActiveFilter) ([]domain.BookedAppointment, error) {
		return nil, nil
	}
	svc := NewService(repo)

	_, err := svc.Create(context.Background(), createInput(tx))
	var cErr *domain.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("error type = %T (%v), want *domain.ConflictError", err, err)
	}
	if cErr.Message != "the technician is already booked from 10:00 to 10:30" {
		t.Fatalf("message = %q", cErr.Message)
	}
}

func TestServiceCreate_ReferenceChecks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tx *fakeTx, in *CreateInput)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unknown service",
			mutate: func(tx *fakeTx, in *CreateInput) { in.ServiceID = uuid.New() },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, domain.ErrInvalidService) {
					t.Fatalf("error = %v, want ErrInvalidService", err)
				}
			},
		},
		{
			name:   "unknown store",
			mutate: func(tx *fakeTx, in *CreateInput) { in.StoreID = uuid.New() },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, store.ErrNotFound) {
					t.Fatalf("error = %v, want ErrNotFound", err)
				}
			},
		},
		{
			name: "technician from another store",
			mutate: func(tx *fakeTx, in *CreateInput) {
				tx.technician.StoreID = uuid.New()
			},
			check: func(t *testing.T, err error) {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("error = %v, want *ValidationError", err)
				}
			},
		},
		{
			name: "service from another store",
			mutate: func(tx *fakeTx, in *CreateInput) {
				tx.service.StoreID = uuid.New()
			},
			check: func(t *testing.T, err error) {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("error = %v, want *ValidationError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newFakeTx()
			in := createInput(tx)
			tt.mutate(tx, &in)
			svc := NewService(repoWithTx(tx, nil))
			_, err := svc.Create(context.Background(), in)
			tt.check(t, err)
		})
	}
}

func TestServiceCreate_PropagatesStoreErrors(t *testing.T) {
	svc := NewService(&fakeRepo{
		inTxFn: func(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
			return store.ErrTransient
		},
	})

	_, err := svc.Create(context.Background(), createInput(newFakeTx()))
	if !errors.Is(err, store.ErrTransient) {
		t.Fatalf("error = %v, want %v", err, store.ErrTransient)
	}
}

func TestServiceCheckConflict_UnknownServiceIsNotAnError(t *testing.T) {
	svc := NewService(&fakeRepo{
		getServiceFn: func(ctx context.Context, id uuid.UUID) (domain.Service, error) {
			return domain.Service{}, store.ErrNotFound
		},
	})

	res, err := svc.CheckConflict(context.Background(), CheckInput{
		Date:      domain.Date{Year: 2026, Month: time.January, Day: 10},
		Time:      domain.NewTimeOfDay(10, 0),
		ServiceID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("CheckConflict error: %v", err)
	}
	if !res.HasConflict || res.Dimension != domain.DimensionInvalidService || res.Message != "service not found" {
		t.Fatalf("result = %+v", res)
	}
}

func TestServiceCheckConflict_PassesExclusionToStore(t *testing.T) {
	exclude := uuid.New()
	tech := uuid.New()
	var got store.ActiveFilter
	svc := NewService(&fakeRepo{
		getServiceFn: func(ctx context.Context, id uuid.UUID) (domain.Service, error) {
			return domain.Service{ID: id, DurationMinutes: 30}, nil
		},
		listActiveOnDateFn: func(ctx context.Context, date domain.Date, filter store.ActiveFilter) ([]domain.BookedAppointment, error) {
			got = filter
			return nil, nil
		},
	})

	res, err := svc.CheckConflict(context.Background(), CheckInput{
		Date:                 domain.Date{Year: 2026, Month: time.January, Day: 10},
		Time:                 domain.NewTimeOfDay(10, 0),
		ServiceID:            uuid.New(),
		TechnicianID:         &tech,
		CustomerID:           "cust-1",
		ExcludeAppointmentID: exclude,
	})
	if err != nil || res.HasConflict {
		t.Fatalf("CheckConflict = %+v, %v", res, err)
	}
	if got.ExcludeID != exclude || got.CustomerID != "cust-1" || got.TechnicianID == nil || *got.TechnicianID != tech {
		t.Fatalf("filter = %+v", got)
	}
}

func TestServiceTransition_InvalidEvent(t *testing.T) {
	svc := NewService(&fakeRepo{})
	_, err := svc.Transition(context.Background(), TransitionInput{AppointmentID: uuid.New(), Event: "archive", StoreAdmin: true})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Error() != "invalid event" {
		t.Fatalf("error = %v, want invalid event", err)
	}
}

func TestServiceListForCustomer_Paging(t *testing.T) {
	var got store.ListFilter
	svc := NewService(&fakeRepo{
		listAppointmentsFn: func(ctx context.Context, filter store.ListFilter) ([]domain.Appointment, error) {
			got = filter
			return nil, nil
		},
	})

	if _, err := svc.ListForCustomer(context.Background(), "cust-1", Page{}); err != nil {
		t.Fatalf("ListForCustomer error: %v", err)
	}
	if got.Limit != 100 || !got.NewestFirst || got.CustomerID != "cust-1" {
		t.Fatalf("filter = %+v", got)
	}

	_, err := svc.ListForCustomer(context.Background(), "cust-1", Page{Limit: 101})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
}
