package retention

import (
	"context"
	"sync"
)

// Memory is the in-process backend. It backs tests and single-shot CLI
// invocations; anything long-lived wants the sqlite backend.
type Memory struct {
	mu       sync.RWMutex
	consents []ConsentRecord
	records  map[string]DataRecord
}

var _ Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: map[string]DataRecord{}}
}

func (m *Memory) Initialize(ctx context.Context) error {
	_ = ctx
	return nil
}

func (m *Memory) AppendConsent(ctx context.Context, record ConsentRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents = append(m.consents, record)
	return nil
}

func (m *Memory) LatestConsent(ctx context.Context, userID, category string) (ConsentRecord, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.consents) - 1; i >= 0; i-- {
		c := m.consents[i]
		if c.UserID == userID && c.DataCategory == category {
			return c, true, nil
		}
	}
	return ConsentRecord{}, false, nil
}

func (m *Memory) AddRecord(ctx context.Context, record DataRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	return nil
}

func (m *Memory) ScanRecords(ctx context.Context, fn func(DataRecord) error) error {
	m.mu.RLock()
	snapshot := make([]DataRecord, 0, len(m.records))
	for _, record := range m.records {
		snapshot = append(snapshot, record)
	}
	m.mu.RUnlock()

	for _, record := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) DeleteRecord(ctx context.Context, id string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

func (m *Memory) DeleteUser(ctx context.Context, userID string) (int, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	kept := m.consents[:0]
	for _, c := range m.consents {
		if c.UserID == userID {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	m.consents = kept

	for id, record := range m.records {
		if record.UserID == userID {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalRecords:      len(m.records),
		RecordsByCategory: map[string]int{},
		RecordsByUser:     map[string]int{},
	}
	for _, record := range m.records {
		stats.RecordsByCategory[record.Category]++
		stats.RecordsByUser[record.UserID]++
		created := record.CreatedAt
		if stats.OldestRecord == nil || created.Before(*stats.OldestRecord) {
			c := created
			stats.OldestRecord = &c
		}
		if stats.NewestRecord == nil || created.After(*stats.NewestRecord) {
			c := created
			stats.NewestRecord = &c
		}
	}
	return stats, nil
}

func (m *Memory) Close() error {
	return nil
}
