package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/outbox"
	"nailsdash/backend/internal/store"
	"nailsdash/backend/internal/store/memory"
)

var scenarioDay = domain.Date{Year: 2026, Month: time.January, Day: 10}

type salon struct {
	mem      *memory.Store
	svc      *Service
	storeX   domain.Store
	storeY   domain.Store
	manicure domain.Service
	pedicure domain.Service
	techA    domain.Technician
	techB    domain.Technician
	techY    domain.Technician
}

func newSalon(t *testing.T, opts ...Option) *salon {
	t.Helper()
	mem := memory.New()
	s := &salon{
		mem:    mem,
		storeX: domain.Store{ID: uuid.New(), Name: "Downtown", IsActive: true},
		storeY: domain.Store{ID: uuid.New(), Name: "Riverside", IsActive: true},
	}
	s.manicure = domain.Service{ID: uuid.New(), StoreID: s.storeX.ID, Name: "Manicure", DurationMinutes: 30}
	s.pedicure = domain.Service{ID: uuid.New(), StoreID: s.storeY.ID, Name: "Pedicure", DurationMinutes: 30}
	s.techA = domain.Technician{ID: uuid.New(), StoreID: s.storeX.ID, Name: "Anh", IsActive: true}
	s.techB = domain.Technician{ID: uuid.New(), StoreID: s.storeX.ID, Name: "Binh", IsActive: true}
	s.techY = domain.Technician{ID: uuid.New(), StoreID: s.storeY.ID, Name: "Yen", IsActive: true}

	mem.PutStore(s.storeX)
	mem.PutStore(s.storeY)
	mem.PutService(s.manicure)
	mem.PutService(s.pedicure)
	mem.PutTechnician(s.techA)
	mem.PutTechnician(s.techB)
	mem.PutTechnician(s.techY)

	s.svc = NewService(mem, opts...)
	return s
}

func (s *salon) book(t *testing.T, customer string, tech domain.Technician, svc domain.Service, at domain.TimeOfDay) domain.Appointment {
	t.Helper()
	techID := tech.ID
	appt, err := s.svc.Create(context.Background(), CreateInput{
		CustomerID:   customer,
		StoreID:      tech.StoreID,
		ServiceID:    svc.ID,
		TechnicianID: &techID,
		Date:         scenarioDay,
		Time:         at,
	})
	if err != nil {
		t.Fatalf("book %s at %s: %v", customer, at, err)
	}
	return appt
}

func TestScenario_TechnicianDoubleBooking(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))

	techID := s.techA.ID
	res, err := s.svc.CheckConflict(ctx, CheckInput{
		Date: scenarioDay, Time: domain.NewTimeOfDay(10, 15), ServiceID: s.manicure.ID, TechnicianID: &techID,
	})
	if err != nil {
		t.Fatalf("CheckConflict error: %v", err)
	}
	if !res.HasConflict || res.Message != "the technician is already booked from 10:00 to 10:30" {
		t.Fatalf("result = %+v", res)
	}

	_, err = s.svc.Create(ctx, CreateInput{
		CustomerID: "c2", StoreID: s.storeX.ID, ServiceID: s.manicure.ID, TechnicianID: &techID,
		Date: scenarioDay, Time: domain.NewTimeOfDay(10, 15),
	})
	if !errors.Is(err, domain.ErrTimeConflict) {
		t.Fatalf("error = %v, want time conflict", err)
	}

	// back-to-back is allowed
	s.book(t, "c2", s.techA, s.manicure, domain.NewTimeOfDay(10, 30))
	// same time with another technician is allowed
	s.book(t, "c3", s.techB, s.manicure, domain.NewTimeOfDay(10, 0))
}

func TestScenario_CustomerAcrossStores(t *testing.T) {
	s := newSalon(t)
	s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))

	techID := s.techY.ID
	_, err := s.svc.Create(context.Background(), CreateInput{
		CustomerID: "c1", StoreID: s.storeY.ID, ServiceID: s.pedicure.ID, TechnicianID: &techID,
		Date: scenarioDay, Time: domain.NewTimeOfDay(10, 15),
	})
	var cErr *domain.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("error = %v, want *domain.ConflictError", err)
	}
	if cErr.Dimension != domain.DimensionCustomer || cErr.Message != "you already have an appointment from 10:00 to 10:30" {
		t.Fatalf("conflict = %+v", cErr)
	}
}

func TestScenario_StatusLifecycle(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	appt := s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))

	_, err := s.svc.Transition(ctx, TransitionInput{AppointmentID: appt.ID, Event: domain.EventConfirm, CustomerID: "c1"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("customer confirm error = %v, want ErrForbidden", err)
	}

	confirmed, err := s.svc.Transition(ctx, TransitionInput{AppointmentID: appt.ID, Event: domain.EventConfirm, StoreAdmin: true})
	if err != nil || confirmed.Status != domain.StatusConfirmed {
		t.Fatalf("confirm = %+v, %v", confirmed.Status, err)
	}

	completed, err := s.svc.Transition(ctx, TransitionInput{AppointmentID: appt.ID, Event: domain.EventComplete, StoreAdmin: true})
	if err != nil || completed.Status != domain.StatusCompleted {
		t.Fatalf("complete = %+v, %v", completed.Status, err)
	}

	_, err = s.svc.Transition(ctx, TransitionInput{AppointmentID: appt.ID, Event: domain.EventCancel, StoreAdmin: true})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("cancel completed error = %v, want ErrInvalidTransition", err)
	}

	got, err := s.svc.Get(ctx, appt.ID, "c1", false)
	if err != nil || got.Status != domain.StatusCompleted {
		t.Fatalf("status after rejected cancel = %q, %v", got.Status, err)
	}
}

func TestScenario_CancelOwnership(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	appt := s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))

	_, err := s.svc.Transition(ctx, TransitionInput{AppointmentID: appt.ID, Event: domain.EventCancel, CustomerID: "c2"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("other customer cancel error = %v, want ErrForbidden", err)
	}

	cancelled, err := s.svc.Transition(ctx, TransitionInput{AppointmentID: appt.ID, Event: domain.EventCancel, CustomerID: "c1"})
	if err != nil || cancelled.Status != domain.StatusCancelled {
		t.Fatalf("owner cancel = %q, %v", cancelled.Status, err)
	}

	_, err = s.svc.Transition(ctx, TransitionInput{AppointmentID: appt.ID, Event: domain.EventCancel, CustomerID: "c1"})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double cancel error = %v, want ErrInvalidTransition", err)
	}

	// the cancelled slot is free again
	s.book(t, "c2", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))
}

func TestScenario_RescheduleExcludesItself(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	appt := s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))
	s.book(t, "c2", s.techA, s.manicure, domain.NewTimeOfDay(11, 0))

	later := domain.NewTimeOfDay(10, 15)
	moved, err := s.svc.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, CustomerID: "c1", Time: &later})
	if err != nil {
		t.Fatalf("reschedule onto own range: %v", err)
	}
	if moved.Time != later || moved.Status != domain.StatusPending {
		t.Fatalf("moved = %+v", moved)
	}

	clash := domain.NewTimeOfDay(10, 45)
	_, err = s.svc.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, CustomerID: "c1", Time: &clash})
	if !errors.Is(err, domain.ErrTimeConflict) {
		t.Fatalf("reschedule into 11:00 booking error = %v, want time conflict", err)
	}

	other := domain.NewTimeOfDay(14, 0)
	_, err = s.svc.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, CustomerID: "c9", Time: &other})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign reschedule error = %v, want ErrForbidden", err)
	}
}

func TestScenario_RescheduleTerminalRejected(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	appt := s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))
	if _, err := s.svc.Transition(ctx, TransitionInput{AppointmentID: appt.ID, Event: domain.EventCancel, CustomerID: "c1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	at := domain.NewTimeOfDay(12, 0)
	_, err := s.svc.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, CustomerID: "c1", Time: &at})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestScenario_NotesEditableAfterDeactivation(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	appt := s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))

	inactive := s.techA
	inactive.IsActive = false
	s.mem.PutTechnician(inactive)
	closed := s.storeX
	closed.IsActive = false
	s.mem.PutStore(closed)

	notes := "gel removal first"
	edited, err := s.svc.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, CustomerID: "c1", Notes: &notes})
	if err != nil {
		t.Fatalf("notes edit error: %v", err)
	}
	if edited.Notes != notes || edited.Time != appt.Time || edited.Status != domain.StatusPending {
		t.Fatalf("edited = %+v", edited)
	}

	// same values spelled out explicitly are still a notes-only edit
	sameTime := appt.Time
	techID := s.techA.ID
	if _, err := s.svc.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, CustomerID: "c1", Time: &sameTime, TechnicianID: &techID}); err != nil {
		t.Fatalf("unchanged slot edit error: %v", err)
	}

	later := domain.NewTimeOfDay(12, 0)
	_, err = s.svc.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, CustomerID: "c1", Time: &later})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("move while store closed error = %v, want *ValidationError", err)
	}

	s.mem.PutStore(s.storeX)
	_, err = s.svc.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, CustomerID: "c1", Time: &later})
	if !errors.As(err, &vErr) || vErr.Error() != "technician is not taking bookings" {
		t.Fatalf("move with inactive technician error = %v", err)
	}
}

func TestScenario_RetriedConflictingCreateIsStable(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))

	techID := s.techA.ID
	in := CreateInput{
		CustomerID: "c2", StoreID: s.storeX.ID, ServiceID: s.manicure.ID, TechnicianID: &techID,
		Date: scenarioDay, Time: domain.NewTimeOfDay(10, 15), IdempotencyKey: "retry-1",
	}
	var first *domain.ConflictError
	for i := 0; i < 3; i++ {
		_, err := s.svc.Create(ctx, in)
		var cErr *domain.ConflictError
		if !errors.As(err, &cErr) {
			t.Fatalf("attempt %d error = %v, want *domain.ConflictError", i, err)
		}
		if first == nil {
			first = cErr
			continue
		}
		if cErr.Message != first.Message || cErr.Dimension != first.Dimension || cErr.Window != first.Window {
			t.Fatalf("attempt %d conflict = %+v, want %+v", i, cErr, first)
		}
	}
	if first.Message != "the technician is already booked from 10:00 to 10:30" {
		t.Fatalf("message = %q", first.Message)
	}
	if got := len(s.mem.Events()); got != 1 {
		t.Fatalf("events = %d, want only the original booking", got)
	}
}

func TestScenario_DurationResolvedLive(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))

	techID := s.techA.ID
	check := CheckInput{Date: scenarioDay, Time: domain.NewTimeOfDay(10, 45), ServiceID: s.manicure.ID, TechnicianID: &techID}
	if res, err := s.svc.CheckConflict(ctx, check); err != nil || res.HasConflict {
		t.Fatalf("before change: %+v, %v", res, err)
	}

	longer := s.manicure
	longer.DurationMinutes = 60
	s.mem.PutService(longer)

	res, err := s.svc.CheckConflict(ctx, check)
	if err != nil || !res.HasConflict || res.Message != "the technician is already booked from 10:00 to 11:00" {
		t.Fatalf("after change: %+v, %v", res, err)
	}
}

func TestScenario_InvalidService(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	techID := s.techA.ID
	missing := uuid.New()

	res, err := s.svc.CheckConflict(ctx, CheckInput{Date: scenarioDay, Time: domain.NewTimeOfDay(10, 0), ServiceID: missing, TechnicianID: &techID})
	if err != nil || res.Dimension != domain.DimensionInvalidService {
		t.Fatalf("check = %+v, %v", res, err)
	}

	_, err = s.svc.Create(ctx, CreateInput{
		CustomerID: "c1", StoreID: s.storeX.ID, ServiceID: missing, TechnicianID: &techID,
		Date: scenarioDay, Time: domain.NewTimeOfDay(10, 0),
	})
	if !errors.Is(err, domain.ErrInvalidService) || errors.Is(err, domain.ErrTimeConflict) {
		t.Fatalf("create error = %v, want invalid service only", err)
	}
}

func TestScenario_SlotsStopBeforeClosing(t *testing.T) {
	s := newSalon(t)
	long := domain.Service{ID: uuid.New(), StoreID: s.storeX.ID, Name: "Gel set", DurationMinutes: 45}
	s.mem.PutService(long)

	slots, err := s.svc.AvailableSlots(context.Background(), SlotsInput{TechnicianID: s.techA.ID, ServiceID: long.ID, Date: scenarioDay})
	if err != nil {
		t.Fatalf("AvailableSlots error: %v", err)
	}
	last := slots[len(slots)-1]
	if last.Start.String() != "17:00" || last.End.String() != "17:45" {
		t.Fatalf("last slot = %s-%s, want 17:00-17:45", last.Start, last.End)
	}

	fine := domain.DefaultSlotConfig()
	fine.Step = 15 * time.Minute
	s15 := NewService(s.mem, WithSlotConfig(fine))
	slots, err = s15.AvailableSlots(context.Background(), SlotsInput{TechnicianID: s.techA.ID, ServiceID: long.ID, Date: scenarioDay})
	if err != nil {
		t.Fatalf("AvailableSlots error: %v", err)
	}
	last = slots[len(slots)-1]
	if last.Start.String() != "17:15" || last.End.String() != "18:00" {
		t.Fatalf("last slot = %s-%s, want 17:15-18:00", last.Start, last.End)
	}
}

func TestScenario_SlotsAgreeWithCreate(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(9, 45))
	s.book(t, "c2", s.techA, s.manicure, domain.NewTimeOfDay(13, 10))

	slots, err := s.svc.AvailableSlots(ctx, SlotsInput{TechnicianID: s.techA.ID, ServiceID: s.manicure.ID, Date: scenarioDay})
	if err != nil {
		t.Fatalf("AvailableSlots error: %v", err)
	}
	for _, slot := range []string{"09:30", "10:00", "13:00"} {
		if containsSlot(slots, slot) {
			t.Fatalf("slot %s overlaps a booking", slot)
		}
	}

	techID := s.techA.ID
	for _, slot := range slots {
		res, err := s.svc.CheckConflict(ctx, CheckInput{Date: scenarioDay, Time: slot.Start, ServiceID: s.manicure.ID, TechnicianID: &techID})
		if err != nil || res.HasConflict {
			t.Fatalf("slot %s: %+v, %v", slot.Start, res, err)
		}
	}
}

func containsSlot(slots []domain.Slot, start string) bool {
	for _, s := range slots {
		if s.Start.String() == start {
			return true
		}
	}
	return false
}

func TestScenario_SlotsUnknownTechnician(t *testing.T) {
	s := newSalon(t)
	_, err := s.svc.AvailableSlots(context.Background(), SlotsInput{TechnicianID: uuid.New(), ServiceID: s.manicure.ID, Date: scenarioDay})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestScenario_ConcurrentCreatesOneWinner(t *testing.T) {
	s := newSalon(t)
	techID := s.techA.ID

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.svc.Create(context.Background(), CreateInput{
				CustomerID:   "racer-" + string(rune('a'+i)),
				StoreID:      s.storeX.ID,
				ServiceID:    s.manicure.ID,
				TechnicianID: &techID,
				Date:         scenarioDay,
				// staggered starts that all overlap 10:00-10:30
				Time: domain.NewTimeOfDay(10, i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrTimeConflict):
				conflicts++
			default:
				t.Errorf("worker %d: unexpected error %v", i, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if succeeded != 1 || conflicts != workers-1 {
		t.Fatalf("succeeded = %d, conflicts = %d, want 1 and %d", succeeded, conflicts, workers-1)
	}
}

func TestScenario_EventsFollowChanges(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	appt := s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))
	if _, err := s.svc.Transition(ctx, TransitionInput{AppointmentID: appt.ID, Event: domain.EventConfirm, StoreAdmin: true}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// a rejected change leaves no event behind
	techID := s.techA.ID
	_, _ = s.svc.Create(ctx, CreateInput{
		CustomerID: "c2", StoreID: s.storeX.ID, ServiceID: s.manicure.ID, TechnicianID: &techID,
		Date: scenarioDay, Time: domain.NewTimeOfDay(10, 0),
	})

	events := s.mem.Events()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].EventType != outbox.AppointmentCreated || events[1].EventType != outbox.AppointmentConfirmed {
		t.Fatalf("event types = %s, %s", events[0].EventType, events[1].EventType)
	}
	for _, e := range events {
		if e.AggregateID != appt.ID.String() {
			t.Fatalf("aggregate id = %s, want %s", e.AggregateID, appt.ID)
		}
	}
}

func TestScenario_Stats(t *testing.T) {
	s := newSalon(t, WithClock(func() time.Time { return time.Date(2026, time.January, 10, 8, 0, 0, 0, time.UTC) }))
	ctx := context.Background()
	a := s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))
	s.book(t, "c2", s.techB, s.manicure, domain.NewTimeOfDay(10, 0))
	s.book(t, "c3", s.techY, s.pedicure, domain.NewTimeOfDay(10, 0))
	if _, err := s.svc.Transition(ctx, TransitionInput{AppointmentID: a.ID, Event: domain.EventCancel, CustomerID: "c1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stats, err := s.svc.Stats(ctx, s.storeX.ID, domain.Date{})
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	want := domain.StatusCounts{Total: 2, Pending: 1}
	if stats.Today != want || stats.ThisWeek != want || stats.ThisMonth != want {
		t.Fatalf("stats = %+v, want %+v in every window", stats, want)
	}

	_, err = s.svc.Stats(ctx, uuid.New(), scenarioDay)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown store error = %v, want ErrNotFound", err)
	}

	closed := s.storeX
	closed.IsActive = false
	s.mem.PutStore(closed)
	stats, err = s.svc.Stats(ctx, s.storeX.ID, scenarioDay)
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Error() != "store is not active" {
		t.Fatalf("inactive store error = %v, want validation error", err)
	}
	if stats != (domain.StoreStats{}) {
		t.Fatalf("inactive store stats = %+v, want zero", stats)
	}
}

func TestScenario_ListsAndVisibility(t *testing.T) {
	s := newSalon(t)
	ctx := context.Background()
	first := s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(10, 0))
	s.book(t, "c1", s.techA, s.manicure, domain.NewTimeOfDay(14, 0))
	s.book(t, "c2", s.techB, s.manicure, domain.NewTimeOfDay(10, 0))

	mine, err := s.svc.ListForCustomer(ctx, "c1", Page{})
	if err != nil || len(mine) != 2 {
		t.Fatalf("ListForCustomer = %d, %v", len(mine), err)
	}
	if mine[0].Time.String() != "14:00" {
		t.Fatalf("customer list must be newest first, got %s first", mine[0].Time)
	}

	if _, err := s.svc.ListForTechnician(ctx, TechnicianListInput{TechnicianID: s.techA.ID, Date: scenarioDay}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin technician list error = %v, want ErrForbidden", err)
	}
	day, err := s.svc.ListForTechnician(ctx, TechnicianListInput{TechnicianID: s.techA.ID, Date: scenarioDay, StoreAdmin: true})
	if err != nil || len(day) != 2 {
		t.Fatalf("ListForTechnician = %d, %v", len(day), err)
	}

	if _, err := s.svc.ListForStore(ctx, StoreListInput{StoreID: s.storeX.ID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin store list error = %v, want ErrForbidden", err)
	}
	all, err := s.svc.ListForStore(ctx, StoreListInput{StoreID: s.storeX.ID, StoreAdmin: true})
	if err != nil || len(all) != 3 {
		t.Fatalf("ListForStore = %d, %v", len(all), err)
	}

	if _, err := s.svc.Get(ctx, first.ID, "c2", false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign Get error = %v, want ErrForbidden", err)
	}
	if _, err := s.svc.Get(ctx, first.ID, "", true); err != nil {
		t.Fatalf("admin Get error: %v", err)
	}
}
