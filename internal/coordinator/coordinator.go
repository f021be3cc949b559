package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/backstage/services/telemetry/internal/catalog"
	"example.com/backstage/services/telemetry/internal/history"
	"example.com/backstage/services/telemetry/internal/mapper"
	"example.com/backstage/services/telemetry/internal/metrics"
	"example.com/backstage/services/telemetry/internal/models"
	"example.com/backstage/services/telemetry/internal/scheduler"
	"example.com/backstage/services/telemetry/internal/store"
	"example.com/backstage/services/telemetry/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// UpdateListener receives one element update per element per cycle
type UpdateListener func(update models.ElementUpdate) error

// StatusListener receives the sync status on every transition and cycle
type StatusListener func(status models.SyncStatus) error

// Options wires the coordinator's collaborators
type Options struct {
	Source    scheduler.Fetcher
	KV        store.KV
	Namespace string
	Prefix    string
	Specs     []models.EquipmentSpec
	Sync      scheduler.Config
	History   *history.Store
	Metrics   *metrics.Metrics
	Tracer    tracing.Tracer
	Clock     func() time.Time
}

// Coordinator connects the catalog, scheduler, property store and history,
// and serves the latest telemetry to consumers.
type Coordinator struct {
	opts    Options
	history *history.Store

	lifecycle sync.Mutex
	catalog   *catalog.Catalog
	store     *store.PropertyStore
	scheduler *scheduler.Scheduler

	mu              sync.RWMutex
	initialized     bool
	cache           map[string]models.TooltipSnapshot
	aliases         map[string]string
	updateListeners map[uuid.UUID]UpdateListener
	statusListeners map[uuid.UUID]StatusListener
	listenerOrder   []uuid.UUID
}

// New creates an uninitialized coordinator
func New(opts Options) *Coordinator {
	if opts.History == nil {
		opts.History = history.NewStore(history.DefaultMaxPoints)
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Disabled()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Specs == nil {
		opts.Specs = catalog.DefaultSpecs()
	}
	return &Coordinator{
		opts:            opts,
		history:         opts.History,
		cache:           make(map[string]models.TooltipSnapshot),
		aliases:         make(map[string]string),
		updateListeners: make(map[uuid.UUID]UpdateListener),
		statusListeners: make(map[uuid.UUID]StatusListener),
	}
}

// Initialize extracts the equipment catalog and wires the sync pipeline. A second call is a no-op.
func (c *Coordinator) Initialize(ctx context.Context, q catalog.ModelQuery) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.IsInitialized() {
		return nil
	}
	if c.opts.Source == nil {
		return errors.New("telemetry source is required")
	}

	cat := catalog.New(c.opts.Prefix, c.opts.Specs)
	entries, err := cat.Build(ctx, q)
	if err != nil {
		return err
	}
	report := cat.Validate(entries)
	c.opts.Metrics.SetCatalog(categoryCounts(entries))

	ps := store.New(c.opts.KV, c.opts.Namespace)
	sched := scheduler.New(c.opts.Sync, c.opts.Source, cat, mapper.New(), ps,
		scheduler.WithMetrics(c.opts.Metrics),
		scheduler.WithTracer(c.opts.Tracer),
		scheduler.WithClock(c.opts.Clock),
	)
	sched.AddBatchListener(func(updates []scheduler.MatchedUpdate) { c.onBatch(sched, updates) })
	sched.AddStatusListener(func(status models.SyncStatus) { c.notifyStatus(sched, status) })

	c.mu.Lock()
	c.catalog = cat
	c.store = ps
	c.scheduler = sched
	c.aliases = cat.AliasMap()
	c.initialized = true
	c.mu.Unlock()

	log.Info().
		Int("equipment", len(entries)).
		Int("missing", len(report.Missing)).
		Msg("Integration coordinator initialized")
	return nil
}

// IsInitialized reports whether Initialize has completed
func (c *Coordinator) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

func (c *Coordinator) sched() (*scheduler.Scheduler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return nil, models.ErrNotInitialized
	}
	return c.scheduler, nil
}

// StartSync starts periodic synchronization
func (c *Coordinator) StartSync(ctx context.Context) error {
	s, err := c.sched()
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// StopSync stops periodic synchronization after the in-flight cycle
func (c *Coordinator) StopSync() error {
	s, err := c.sched()
	if err != nil {
		return err
	}
	return s.Stop()
}

// TriggerManualSync runs one cycle now and returns its error
func (c *Coordinator) TriggerManualSync(ctx context.Context) (scheduler.CycleResult, error) {
	s, err := c.sched()
	if err != nil {
		return scheduler.CycleResult{}, err
	}
	return s.TriggerManualSync(ctx)
}

// SyncStatus returns the scheduler status, or a zero status before initialization
func (c *Coordinator) SyncStatus() models.SyncStatus {
	s, err := c.sched()
	if err != nil {
		return models.SyncStatus{}
	}
	return s.Status()
}

// TelemetryForElement looks key up as a display label, then as a raw element id
func (c *Coordinator) TelemetryForElement(key string) (models.TooltipSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if snap, ok := c.cache[key]; ok {
		return snap, true
	}
	if label, ok := c.aliases[key]; ok {
		snap, ok := c.cache[label]
		return snap, ok
	}
	return models.TooltipSnapshot{}, false
}

// AllTelemetry returns one snapshot per element, ordered by label
func (c *Coordinator) AllTelemetry() []models.TooltipSnapshot {
	c.mu.RLock()
	seen := make(map[string]struct{}, len(c.cache)/2)
	out := make([]models.TooltipSnapshot, 0, len(c.cache)/2)
	for _, snap := range c.cache {
		if _, dup := seen[snap.ElementID]; dup {
			continue
		}
		seen[snap.ElementID] = struct{}{}
		out = append(out, snap)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DisplayLabel < out[j].DisplayLabel })
	return out
}

// History returns the chronological history of an element, addressed by id or label
func (c *Coordinator) History(key string) []models.HistoryPoint {
	c.mu.RLock()
	cat := c.catalog
	c.mu.RUnlock()

	if cat != nil {
		if e, ok := cat.Lookup(key); ok {
			key = e.ElementID
		}
	}
	return c.history.Get(key)
}

// Properties returns the full property set last written for an element, addressed by id or label
func (c *Coordinator) Properties(ctx context.Context, key string) (models.PropertyUpdate, bool) {
	c.mu.RLock()
	cat, ps := c.catalog, c.store
	c.mu.RUnlock()
	if ps == nil {
		return models.PropertyUpdate{}, false
	}
	if e, ok := cat.Lookup(key); ok {
		key = e.ElementID
	}
	return ps.Read(ctx, key)
}

// Reset drops every cached snapshot, history ring and persisted property of this namespace
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return models.ErrNotInitialized
	}
	ps := c.store
	c.cache = make(map[string]models.TooltipSnapshot)
	c.history.ClearAll()
	c.mu.Unlock()

	return ps.Clear(ctx)
}

// Catalog returns the extracted equipment
func (c *Coordinator) Catalog() ([]models.CatalogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return nil, models.ErrNotInitialized
	}
	return c.catalog.Entries(), nil
}

// ValidateCatalog compares the extracted equipment with the spec table
func (c *Coordinator) ValidateCatalog() (catalog.ValidationReport, error) {
	c.mu.RLock()
	cat := c.catalog
	initialized := c.initialized
	c.mu.RUnlock()
	if !initialized {
		return catalog.ValidationReport{}, models.ErrNotInitialized
	}
	return cat.Validate(cat.Entries()), nil
}

// AddUpdateListener registers fn and returns its handle
func (c *Coordinator) AddUpdateListener(fn UpdateListener) uuid.UUID {
	id := uuid.New()
	c.mu.Lock()
	c.updateListeners[id] = fn
	c.listenerOrder = append(c.listenerOrder, id)
	c.mu.Unlock()
	return id
}

// RemoveUpdateListener unregisters a listener. It reports whether the handle was known.
func (c *Coordinator) RemoveUpdateListener(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.updateListeners[id]; !ok {
		return false
	}
	delete(c.updateListeners, id)
	c.dropOrder(id)
	return true
}

// AddStatusListener registers fn and returns its handle
func (c *Coordinator) AddStatusListener(fn StatusListener) uuid.UUID {
	id := uuid.New()
	c.mu.Lock()
	c.statusListeners[id] = fn
	c.listenerOrder = append(c.listenerOrder, id)
	c.mu.Unlock()
	return id
}

// RemoveStatusListener unregisters a listener. It reports whether the handle was known.
func (c *Coordinator) RemoveStatusListener(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.statusListeners[id]; !ok {
		return false
	}
	delete(c.statusListeners, id)
	c.dropOrder(id)
	return true
}

func (c *Coordinator) dropOrder(id uuid.UUID) {
	for i, v := range c.listenerOrder {
		if v == id {
			c.listenerOrder = append(c.listenerOrder[:i], c.listenerOrder[i+1:]...)
			return
		}
	}
}

// Dispose stops sync and drops all state, returning to the uninitialized state
func (c *Coordinator) Dispose() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	sched := c.scheduler
	c.mu.RUnlock()

	var err error
	if sched != nil {
		err = sched.Stop()
	}

	c.mu.Lock()
	c.initialized = false
	c.catalog = nil
	c.store = nil
	c.scheduler = nil
	c.cache = make(map[string]models.TooltipSnapshot)
	c.aliases = make(map[string]string)
	c.updateListeners = make(map[uuid.UUID]UpdateListener)
	c.statusListeners = make(map[uuid.UUID]StatusListener)
	c.listenerOrder = nil
	c.history.ClearAll()
	c.mu.Unlock()

	log.Info().Msg("Integration coordinator disposed")
	return err
}

// onBatch applies a cycle's updates. Batches from a scheduler that has since been
// disposed or replaced are dropped.
func (c *Coordinator) onBatch(from *scheduler.Scheduler, updates []scheduler.MatchedUpdate) {
	events := make([]models.ElementUpdate, 0, len(updates))

	c.mu.Lock()
	if !c.initialized || c.scheduler != from {
		c.mu.Unlock()
		log.Debug().Int("updates", len(updates)).Msg("Dropping batch from a disposed sync cycle")
		return
	}
	for _, u := range updates {
		label := u.Entry.DisplayLabel
		snap := mapper.Snapshot(u.Update, label)
		c.cache[label] = snap
		c.cache[u.Entry.ElementID] = snap
		c.aliases[u.Entry.ElementID] = label
		events = append(events, models.ElementUpdate{
			ElementID:    u.Entry.ElementID,
			DisplayLabel: label,
			Snapshot:     snap,
			Properties:   u.Update,
		})
	}
	for _, ev := range events {
		c.history.Append(ev.ElementID, ev.Snapshot)
	}
	statuses := c.statusCountsLocked()
	listeners := c.updateListenersLocked()
	c.mu.Unlock()

	c.opts.Metrics.SetStatuses(statuses)

	for _, ev := range events {
		for _, fn := range listeners {
			c.invoke("update", func() error { return fn(ev) })
		}
	}
}

func (c *Coordinator) notifyStatus(from *scheduler.Scheduler, status models.SyncStatus) {
	c.mu.RLock()
	if c.scheduler != from {
		c.mu.RUnlock()
		return
	}
	listeners := make([]StatusListener, 0, len(c.statusListeners))
	for _, id := range c.listenerOrder {
		if fn, ok := c.statusListeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	c.mu.RUnlock()

	for _, fn := range listeners {
		c.invoke("status", func() error { return fn(status) })
	}
}

// invoke runs a listener, logging its error or panic without propagating it
func (c *Coordinator) invoke(kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.Metrics.IncListenerFailure(kind)
			log.Error().Str("listener", kind).Msgf("Listener panicked: %v", r)
		}
	}()
	if err := fn(); err != nil {
		c.opts.Metrics.IncListenerFailure(kind)
		log.Warn().Err(errors.Wrap(models.ErrListener, err.Error())).Str("listener", kind).Msg("Listener failed")
	}
}

func (c *Coordinator) updateListenersLocked() []UpdateListener {
	out := make([]UpdateListener, 0, len(c.updateListeners))
	for _, id := range c.listenerOrder {
		if fn, ok := c.updateListeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (c *Coordinator) statusCountsLocked() map[string]int {
	counts := make(map[string]int)
	seen := make(map[string]struct{}, len(c.cache)/2)
	for _, snap := range c.cache {
		if _, dup := seen[snap.ElementID]; dup {
			continue
		}
		seen[snap.ElementID] = struct{}{}
		counts[string(snap.Status)]++
	}
	return counts
}

func categoryCounts(entries []models.CatalogEntry) map[string]int {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[string(e.Category)]++
	}
	return counts
}
