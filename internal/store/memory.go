package store

import (
	"context"
	"sync"

	"github.com/mochaeng/payment-router/internal/models"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.PaymentRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.PaymentRecord)}
}

func (m *MemoryStore) Get(_ context.Context, correlationID string) (*models.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[correlationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (m *MemoryStore) UpsertIfAbsent(_ context.Context, record models.PaymentRecord) (InsertResult, error) {
	if err := checkSource(record); err != nil {
		return AlreadyPresent, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[record.CorrelationID]; ok {
		return AlreadyPresent, nil
	}
	m.records[record.CorrelationID] = record
	return Inserted, nil
}

func (m *MemoryStore) RangeScan(_ context.Context, filter models.RecordFilter) ([]models.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PaymentRecord
	for _, record := range m.records {
		if filter.Match(record) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (m *MemoryStore) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.records)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
