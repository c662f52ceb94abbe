package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process fake satisfying Index, used by tests in place of
// the Postgres/Qdrant backends.
type Memory struct {
	mu   sync.Mutex
	vecs map[string]map[string][]float32 // runID -> chunkID -> embedding
}

func NewMemory() *Memory {
	return &Memory{vecs: make(map[string]map[string][]float32)}
}

func (m *Memory) Upsert(_ context.Context, runID, chunkID string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vecs[runID] == nil {
		m.vecs[runID] = make(map[string][]float32)
	}
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	m.vecs[runID][chunkID] = cp
	return nil
}

func (m *Memory) Delete(_ context.Context, runID, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vecs[runID], chunkID)
	return nil
}

func (m *Memory) Search(_ context.Context, runID string, embedding []float32, k int) ([]Neighbor, error) {
	k = clampK(k)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Neighbor, 0, len(m.vecs[runID]))
	for chunkID, vec := range m.vecs[runID] {
		out = append(out, Neighbor{ChunkID: chunkID, Distance: cosineDistance(embedding, vec)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cos
}
