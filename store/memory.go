package store

import (
	"context"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-cars/models"
)

// Memory keeps records in a map. It backs tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Exists(_ context.Context, url string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[url]
	return ok, nil
}

func (m *Memory) Upsert(_ context.Context, l *models.Listing, batchID string) (bool, error) {
	if err := validate(l); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[l.URL]; ok {
		return false, nil
	}
	copied := *l
	m.records[l.URL] = Record{Listing: &copied, BatchID: batchID, StoredAt: time.Now()}
	m.order = append(m.order, l.URL)
	return true, nil
}

// Records returns stored records in insertion order.
func (m *Memory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.order))
	for _, url := range m.order {
		out = append(out, m.records[url])
	}
	return out
}

func (m *Memory) Close() error { return nil }
