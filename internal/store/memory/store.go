// Package memory is an in-process implementation of the scheduling store used for local
// development and tests. Writers are serialized; readers share a read lock.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/outbox"
	"nailsdash/backend/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	stores       map[uuid.UUID]domain.Store
	services     map[uuid.UUID]domain.Service
	technicians  map[uuid.UUID]domain.Technician
	appointments map[uuid.UUID]domain.Appointment
	events       []outbox.Event
	nextEventID  int64

	publishMu sync.Mutex
}

var (
	_ store.AppointmentRepository = (*Store)(nil)
	_ outbox.Store                = (*Store)(nil)
)

func New() *Store {
	return &Store{
		stores:       map[uuid.UUID]domain.Store{},
		services:     map[uuid.UUID]domain.Service{},
		technicians:  map[uuid.UUID]domain.Technician{},
		appointments: map[uuid.UUID]domain.Appointment{},
	}
}

func (s *Store) PutStore(st domain.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[st.ID] = st
}

// PutService inserts or replaces a service. Replacing one changes the reserved range of
// every appointment that references it.
func (s *Store) PutService(svc domain.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

func (s *Store) PutTechnician(t domain.Technician) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.technicians[t.ID] = t
}

func (s *Store) GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[id]
	if !ok {
		return domain.Store{}, store.ErrNotFound
	}
	return st, nil
}

func (s *Store) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return domain.Service{}, store.ErrNotFound
	}
	return svc, nil
}

func (s *Store) GetTechnician(ctx context.Context, id uuid.UUID) (domain.Technician, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.technicians[id]
	if !ok {
		return domain.Technician{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListActiveOnDate(ctx context.Context, date domain.Date, filter store.ActiveFilter) ([]domain.BookedAppointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listActiveOnDate(s.appointments, s.services, date, filter), nil
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAppointments(ctx context.Context, filter store.ListFilter) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Appointment
	for _, a := range s.appointments {
		if matches(a, filter) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filter.NewestFirst {
			a, b = b, a
		}
		if !startOf(a).Equal(startOf(b)) {
			return startOf(a).Before(startOf(b))
		}
		// same ordering as the uuid column in postgres
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// InSchedulingTransaction holds the write lock for the whole of fn, which subsumes any set
// of lock keys. Changes are staged and applied only when fn succeeds.
func (s *Store) InSchedulingTransaction(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:      s,
		staged: make(map[uuid.UUID]domain.Appointment),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, a := range tx.staged {
		s.appointments[id] = a
	}
	for _, e := range tx.events {
		s.nextEventID++
		e.ID = s.nextEventID
		s.events = append(s.events, e)
	}
	return nil
}

// ProcessUnpublished hands out unpublished events in insertion order. Publishing is
// serialized so a batch is never handed out twice.
func (s *Store) ProcessUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, events []outbox.Event) error) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.RLock()
	var batch []outbox.Event
	for _, e := range s.events {
		if e.PublishedAt != nil {
			continue
		}
		batch = append(batch, e)
		if limit > 0 && len(batch) == limit {
			break
		}
	}
	s.mu.RUnlock()

	if len(batch) == 0 {
		return nil
	}
	if err := fn(ctx, batch); err != nil {
		return err
	}

	published := make(map[int64]struct{}, len(batch))
	for _, e := range batch {
		published[e.ID] = struct{}{}
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if _, ok := published[s.events[i].ID]; ok {
			s.events[i].PublishedAt = &now
		}
	}
	return nil
}

// Events returns a copy of every enqueued event.
func (s *Store) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Event(nil), s.events...)
}

type memTx struct {
	s      *Store
	staged map[uuid.UUID]domain.Appointment
	events []outbox.Event
}

func (t *memTx) GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	st, ok := t.s.stores[id]
	if !ok {
		return domain.Store{}, store.ErrNotFound
	}
	return st, nil
}

func (t *memTx) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	svc, ok := t.s.services[id]
	if !ok {
		return domain.Service{}, store.ErrNotFound
	}
	return svc, nil
}

func (t *memTx) GetTechnician(ctx context.Context, id uuid.UUID) (domain.Technician, error) {
	tech, ok := t.s.technicians[id]
	if !ok {
		return domain.Technician{}, store.ErrNotFound
	}
	return tech, nil
}

func (t *memTx) ListActiveOnDate(ctx context.Context, date domain.Date, filter store.ActiveFilter) ([]domain.BookedAppointment, error) {
	return listActiveOnDate(t.view(), t.s.services, date, filter), nil
}

func (t *memTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if a, ok := t.staged[id]; ok {
		return a, nil
	}
	a, ok := t.s.appointments[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (t *memTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	now := time.Now().UTC()
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	if appt.Status == "" {
		appt.Status = domain.StatusPending
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	if appt.UpdatedAt.IsZero() {
		appt.UpdatedAt = now
	}

	if _, err := t.GetAppointmentForUpdate(ctx, appt.ID); err == nil {
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}
	if t.slotTaken(appt) {
		return domain.Appointment{}, store.ErrConflict
	}
	t.staged[appt.ID] = appt
	return appt, nil
}

func (t *memTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	current, err := t.GetAppointmentForUpdate(ctx, appt.ID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if t.slotTaken(appt) {
		return domain.Appointment{}, store.ErrConflict
	}

	current.TechnicianID = appt.TechnicianID
	current.Date = appt.Date
	current.Time = appt.Time
	current.Notes = appt.Notes
	current.Status = appt.Status
	current.UpdatedAt = time.Now().UTC()
	t.staged[current.ID] = current
	return current, nil
}

func (t *memTx) EnqueueEvent(ctx context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

// slotTaken mirrors the unique index on active (technician, date, time).
func (t *memTx) slotTaken(appt domain.Appointment) bool {
	if appt.TechnicianID == nil || !appt.Status.Active() {
		return false
	}
	for id, a := range t.view() {
		if id == appt.ID || !a.Status.Active() {
			continue
		}
		if a.HasTechnician(*appt.TechnicianID) && a.Date == appt.Date && a.Time == appt.Time {
			return true
		}
	}
	return false
}

func (t *memTx) view() map[uuid.UUID]domain.Appointment {
	if len(t.staged) == 0 {
		return t.s.appointments
	}
	out := make(map[uuid.UUID]domain.Appointment, len(t.s.appointments)+len(t.staged))
	for id, a := range t.s.appointments {
		out[id] = a
	}
	for id, a := range t.staged {
		out[id] = a
	}
	return out
}

func listActiveOnDate(appts map[uuid.UUID]domain.Appointment, services map[uuid.UUID]domain.Service, date domain.Date, filter store.ActiveFilter) []domain.BookedAppointment {
	anyone := filter.TechnicianID == nil && filter.CustomerID == ""

	var out []domain.BookedAppointment
	for _, a := range appts {
		if a.Date != date || !a.Status.Active() {
			continue
		}
		if filter.ExcludeID != uuid.Nil && a.ID == filter.ExcludeID {
			continue
		}
		byTech := filter.TechnicianID != nil && a.HasTechnician(*filter.TechnicianID)
		byCustomer := filter.CustomerID != "" && a.CustomerID == filter.CustomerID
		if !anyone && !byTech && !byCustomer {
			continue
		}
		// an appointment whose service has been removed cannot be joined
		svc, ok := services[a.ServiceID]
		if !ok {
			continue
		}
		out = append(out, domain.BookedAppointment{Appointment: a, DurationMinutes: svc.DurationMinutes})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Appointment.Time.Before(out[j].Appointment.Time)
	})
	return out
}

func matches(a domain.Appointment, f store.ListFilter) bool {
	if f.CustomerID != "" && a.CustomerID != f.CustomerID {
		return false
	}
	if f.StoreID != nil && a.StoreID != *f.StoreID {
		return false
	}
	if f.TechnicianID != nil && !a.HasTechnician(*f.TechnicianID) {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && a.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.Date.After(f.To) {
		return false
	}
	return true
}

func startOf(a domain.Appointment) time.Time {
	return a.Time.On(a.Date)
}
