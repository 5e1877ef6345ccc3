// Package memory is an in-process vector store for development and tests.
// Points live in a map; search is brute-force cosine similarity.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	registryvector "github.com/openmem/openmem/internal/registry/vector"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registryvector.VectorStore, error) {
			return New(), nil
		},
	})
}

type point struct {
	vector  []float32
	payload map[string]interface{}
}

// Store is an in-memory VectorStore.
type Store struct {
	mu     sync.RWMutex
	points map[uuid.UUID]point
}

// New creates an empty Store.
func New() *Store {
	return &Store{points: map[uuid.UUID]point{}}
}

func (s *Store) IsEnabled() bool { return true }
func (s *Store) Name() string    { return "memory" }

func (s *Store) Upsert(_ context.Context, id uuid.UUID, vector []float32, payload map[string]interface{}) error {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	cloned := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		cloned[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[id] = point{vector: vec, payload: cloned}
	return nil
}

func (s *Store) Search(_ context.Context, vector []float32, limit int, filters map[string]interface{}) ([]registryvector.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []registryvector.Point
	for id, p := range s.points {
		if !registryvector.MatchesFilters(p.payload, filters) {
			continue
		}
		results = append(results, registryvector.Point{
			ID:      id,
			Score:   cosineSimilarity(vector, p.vector),
			Payload: p.payload,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*registryvector.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[id]
	if !ok {
		return nil, nil
	}
	return &registryvector.Point{ID: id, Vector: p.vector, Payload: p.payload}, nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.points, id)
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
