package store

import (
	"context"
	"encoding/json"
	"sync"

	"example.com/backstage/services/telemetry/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Listener is notified after an update has been written
type Listener func(update models.PropertyUpdate)

// WriteResult aggregates the outcome of a batch write
type WriteResult struct {
	Written           int
	PersistenceErrors []error
}

// Err joins the persistence errors of the batch, or returns nil
func (r WriteResult) Err() error {
	if len(r.PersistenceErrors) == 0 {
		return nil
	}
	return errors.Wrapf(r.PersistenceErrors[0], "%d of %d writes not persisted", len(r.PersistenceErrors), r.Written)
}

// PropertyStore holds the latest property set per element.
// Memory is authoritative for the session; the KV backend is best-effort.
type PropertyStore struct {
	mu        sync.RWMutex
	kv        KV
	namespace string
	data      map[string]models.PropertyUpdate
	listeners []Listener
}

// New creates a property store persisting under namespace. A nil kv keeps everything in memory.
func New(kv KV, namespace string) *PropertyStore {
	if kv == nil {
		kv = NewMemoryKV()
	}
	return &PropertyStore{
		kv:        kv,
		namespace: namespace,
		data:      make(map[string]models.PropertyUpdate),
	}
}

// Key returns the persisted key of an element
func (s *PropertyStore) Key(elementID string) string {
	return s.namespace + elementID
}

// AddListener registers fn to run after every write
func (s *PropertyStore) AddListener(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Write replaces the stored property set of the update's element and persists it.
// A returned error wraps models.ErrPersistence; the in-memory value is kept regardless.
func (s *PropertyStore) Write(ctx context.Context, update models.PropertyUpdate) error {
	update = clone(update)

	s.mu.Lock()
	s.data[update.ElementID] = update
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(clone(update))
	}

	data, err := json.Marshal(update)
	if err != nil {
		return errors.Wrapf(models.ErrPersistence, "element %s: marshal: %v", update.ElementID, err)
	}
	if err := s.kv.Set(ctx, s.Key(update.ElementID), data); err != nil {
		log.Warn().Err(err).Str("element_id", update.ElementID).Msg("Failed to persist properties")
		return errors.Wrapf(models.ErrPersistence, "element %s: %v", update.ElementID, err)
	}
	return nil
}

// WriteBatch writes every update and collects the persistence failures
func (s *PropertyStore) WriteBatch(ctx context.Context, updates []models.PropertyUpdate) WriteResult {
	var res WriteResult
	for _, u := range updates {
		if err := s.Write(ctx, u); err != nil {
			res.PersistenceErrors = append(res.PersistenceErrors, err)
		}
		res.Written++
	}
	return res
}

// Read returns the property set of an element, falling back to the KV backend
func (s *PropertyStore) Read(ctx context.Context, elementID string) (models.PropertyUpdate, bool) {
	s.mu.RLock()
	u, ok := s.data[elementID]
	s.mu.RUnlock()
	if ok {
		return clone(u), true
	}

	data, err := s.kv.Get(ctx, s.Key(elementID))
	if err != nil {
		if !errors.Is(err, models.ErrKeyNotFound) {
			log.Warn().Err(err).Str("element_id", elementID).Msg("Failed to read persisted properties")
		}
		return models.PropertyUpdate{}, false
	}
	if err := json.Unmarshal(data, &u); err != nil {
		log.Warn().Err(err).Str("element_id", elementID).Msg("Discarding unreadable persisted properties")
		return models.PropertyUpdate{}, false
	}

	s.mu.Lock()
	if _, exists := s.data[elementID]; !exists {
		s.data[elementID] = u
	}
	s.mu.Unlock()
	return clone(u), true
}

// Clear drops all in-memory state and every persisted key of this namespace
func (s *PropertyStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.data = make(map[string]models.PropertyUpdate)
	s.mu.Unlock()

	n, err := s.kv.DeleteByPrefix(ctx, s.namespace)
	if err != nil {
		return errors.Wrapf(models.ErrPersistence, "clear %q: %v", s.namespace, err)
	}
	log.Info().Str("namespace", s.namespace).Int64("deleted", n).Msg("Cleared persisted properties")
	return nil
}

// Len returns the number of elements held in memory
func (s *PropertyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func clone(u models.PropertyUpdate) models.PropertyUpdate {
	props := make(map[string]any, len(u.Properties))
	for k, v := range u.Properties {
		props[k] = v
	}
	u.Properties = props
	if u.Units != nil {
		units := make(map[string]string, len(u.Units))
		for k, v := range u.Units {
			units[k] = v
		}
		u.Units = units
	}
	return u
}
