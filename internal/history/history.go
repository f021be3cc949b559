package history

import (
	"sync"

	"example.com/backstage/services/telemetry/internal/mapper"
	"example.com/backstage/services/telemetry/internal/models"
)

const DefaultMaxPoints = 100

// Store keeps a bounded, chronological window of points per element
type Store struct {
	mu        sync.Mutex
	maxPoints int
	rings     map[string][]models.HistoryPoint
}

// NewStore creates a history store. A non-positive maxPoints uses DefaultMaxPoints.
func NewStore(maxPoints int) *Store {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &Store{
		maxPoints: maxPoints,
		rings:     make(map[string][]models.HistoryPoint),
	}
}

// Append records one snapshot for an element, evicting the oldest points beyond capacity
func (s *Store) Append(elementID string, snap models.TooltipSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := append(s.rings[elementID], mapper.HistoryPoint(snap))
	s.rings[elementID] = trim(ring, s.maxPoints)
}

// Get returns a copy of the element's points, oldest first
func (s *Store) Get(elementID string) []models.HistoryPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := s.rings[elementID]
	out := make([]models.HistoryPoint, len(ring))
	copy(out, ring)
	return out
}

// Clear drops the history of one element
func (s *Store) Clear(elementID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rings, elementID)
}

// ClearAll drops every element's history
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rings = make(map[string][]models.HistoryPoint)
}

// SetMaxPoints changes the capacity and trims existing rings to it
func (s *Store) SetMaxPoints(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxPoints = n
	for id, ring := range s.rings {
		s.rings[id] = trim(ring, n)
	}
}

// MaxPoints returns the current capacity
func (s *Store) MaxPoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPoints
}

func trim(ring []models.HistoryPoint, n int) []models.HistoryPoint {
	if len(ring) <= n {
		return ring
	}
	// copy so the evicted prefix can be collected
	out := make([]models.HistoryPoint, n)
	copy(out, ring[len(ring)-n:])
	return out
}
