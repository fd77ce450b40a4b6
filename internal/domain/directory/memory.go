package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

// Memory is an in-memory directory for development and tests.
type Memory struct {
	mu        sync.RWMutex
	schedules map[scheduling.ProviderKind]map[uuid.UUID][]byte
	patients  map[uuid.UUID]*Patient
}

func NewMemory() *Memory {
	return &Memory{
		schedules: map[scheduling.ProviderKind]map[uuid.UUID][]byte{
			scheduling.KindDoctor:      {},
			scheduling.KindMedicalTest: {},
		},
		patients: make(map[uuid.UUID]*Patient),
	}
}

// PutProvider stores a provider of kind with its raw schedule text. A nil
// schedule records a provider without one.
func (m *Memory) PutProvider(kind scheduling.ProviderKind, id uuid.UUID, schedule []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[kind][id] = schedule
}

func (m *Memory) PutPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = &p
}

func (m *Memory) ProviderSchedule(_ context.Context, kind scheduling.ProviderKind, id uuid.UUID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[kind][id]
	if !ok {
		return nil, scheduling.ErrProviderNotFound
	}
	return s, nil
}

func (m *Memory) ProviderExists(_ context.Context, kind scheduling.ProviderKind, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.schedules[kind][id]
	return ok, nil
}

func (m *Memory) FindPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	out := *p
	return &out, nil
}

func (m *Memory) PatientEmail(ctx context.Context, id uuid.UUID) (string, error) {
	return patientEmail(ctx, m, id)
}
