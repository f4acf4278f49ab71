package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process journal for tests and the memory store driver.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AppendEvents(_ context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.versionLocked(aggregateID) != expectedVersion {
		return ErrConcurrencyConflict
	}

	now := time.Now().UTC()
	for i, event := range events {
		m.nextID++
		event.ID = m.nextID
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.CreatedAt = now
		m.events = append(m.events, event)
	}
	return nil
}

func (m *MemoryStore) LoadEvents(_ context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events {
		if e.AggregateID != aggregateID || e.Version < fromVersion {
			continue
		}
		if toVersion > 0 && e.Version > toVersion {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) GetCurrentVersion(_ context.Context, aggregateID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versionLocked(aggregateID), nil
}

func (m *MemoryStore) StreamEvents(_ context.Context, fromID int64, batchSize int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events {
		if e.ID <= fromID {
			continue
		}
		out = append(out, e)
		if batchSize > 0 && len(out) == batchSize {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) versionLocked(aggregateID uuid.UUID) int {
	version := 0
	for _, e := range m.events {
		if e.AggregateID == aggregateID && e.Version > version {
			version = e.Version
		}
	}
	return version
}
