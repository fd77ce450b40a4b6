package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory ReservationStore. Transactions are serialized
// and are not rolled back on failure, which is sufficient for tests and
// local development without a database.
type MemoryStore struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	reservations map[uuid.UUID]*Reservation
	canceled     map[uuid.UUID]*CanceledReservation
	slotBookings map[string]uuid.UUID // slot key -> reservation ID (prevents double-booking)
	now          func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations: make(map[uuid.UUID]*Reservation),
		canceled:     make(map[uuid.UUID]*CanceledReservation),
		slotBookings: make(map[string]uuid.UUID),
		now:          time.Now,
	}
}

func slotKey(providerID uuid.UUID, date, hhmm string) string {
	return providerID.String() + "|" + date + "|" + hhmm
}

func (m *MemoryStore) FindReservationTimes(_ context.Context, providerID uuid.UUID, date string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var times []string
	for _, r := range m.reservations {
		if r.ProviderID == providerID && r.Date == date {
			times = append(times, r.Time)
		}
	}
	sort.Strings(times)
	return times, nil
}

func (m *MemoryStore) ReservationExists(_ context.Context, providerID uuid.UUID, date, hhmm string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.slotBookings[slotKey(providerID, date, hhmm)]
	return ok, nil
}

func (m *MemoryStore) InsertReservation(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := slotKey(r.ProviderID, r.Date, r.Time)
	if _, booked := m.slotBookings[key]; booked {
		return ErrDuplicateSlot
	}
	r.ID = uuid.New()
	r.CreatedAt = m.now()
	stored := *r
	m.reservations[r.ID] = &stored
	m.slotBookings[key] = r.ID
	return nil
}

func (m *MemoryStore) FindReservation(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	out := *r
	return &out, nil
}

func (m *MemoryStore) DeleteReservation(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	delete(m.slotBookings, slotKey(r.ProviderID, r.Date, r.Time))
	delete(m.reservations, id)
	return nil
}

func (m *MemoryStore) InsertCanceled(_ context.Context, c *CanceledReservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CanceledAt.IsZero() {
		c.CanceledAt = m.now()
	}
	stored := *c
	m.canceled[c.ID] = &stored
	return nil
}

// Canceled returns the archived reservation with the given original ID.
func (m *MemoryStore) Canceled(id uuid.UUID) (*CanceledReservation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.canceled[id]
	if !ok {
		return nil, false
	}
	out := *c
	return &out, true
}

func (m *MemoryStore) ListByPatient(_ context.Context, patientID uuid.UUID, fromDate string, limit, offset int) ([]*Reservation, int, error) {
	m.mu.RLock()
	var items []*Reservation
	for _, r := range m.reservations {
		if r.PatientID == patientID && r.Date >= fromDate {
			out := *r
			items = append(items, &out)
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		return items[i].Time < items[j].Time
	})
	return page(items, limit, offset), len(items), nil
}

func (m *MemoryStore) ListCanceledByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*CanceledReservation, int, error) {
	m.mu.RLock()
	var items []*CanceledReservation
	for _, c := range m.canceled {
		if c.PatientID == patientID {
			out := *c
			items = append(items, &out)
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].CanceledAt.After(items[j].CanceledAt)
	})
	return page(items, limit, offset), len(items), nil
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
