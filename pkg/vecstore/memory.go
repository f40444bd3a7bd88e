package vecstore

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Index implementation using brute-force cosine
// similarity. Intended for testing and small-scale use (< 1000 vectors).
//
// It is safe for concurrent use; Insert is atomic under the index mutex.
type Memory struct {
	mu     sync.RWMutex
	points map[string]memoryPoint
}

type memoryPoint struct {
	vector  []float32
	payload Payload
}

var _ Index = (*Memory)(nil)

// NewMemory creates a new in-memory vector index.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]memoryPoint)}
}

// Ensure is a no-op: the in-memory collection always exists.
func (m *Memory) Ensure(_ context.Context) error {
	return nil
}

func (m *Memory) Exists(_ context.Context, itemID string) (bool, error) {
	m.mu.RLock()
	_, ok := m.points[itemID]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Memory) Insert(_ context.Context, itemID string, vector []float32, payload Payload) error {
	cp := make([]float32, len(vector))
	copy(cp, vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.points[itemID]; ok {
		return ErrExists
	}
	m.points[itemID] = memoryPoint{vector: cp, payload: payload}
	return nil
}

func (m *Memory) Search(_ context.Context, query []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.points) == 0 || topK <= 0 {
		return nil, nil
	}

	results := make([]Match, 0, len(m.points))
	for id, p := range m.points {
		results = append(results, Match{
			ItemID:  id,
			Score:   CosineSimilarity(query, p.vector),
			Payload: p.payload,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *Memory) DeleteByID(_ context.Context, itemID string) ([]Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[itemID]
	if !ok {
		return nil, nil
	}
	delete(m.points, itemID)
	return []Payload{p.payload}, nil
}

func (m *Memory) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	m.points = make(map[string]memoryPoint)
	m.mu.Unlock()
	return nil
}

// Len returns the number of points in the index.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func (m *Memory) Close() error {
	return nil
}
