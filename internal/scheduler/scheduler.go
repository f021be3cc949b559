package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"example.com/backstage/services/telemetry/internal/metrics"
	"example.com/backstage/services/telemetry/internal/models"
	"example.com/backstage/services/telemetry/internal/store"
	"example.com/backstage/services/telemetry/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPollInterval = 15 * time.Second

	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	stopTimeout = 30 * time.Second
)

// Fetcher returns the latest telemetry batch
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]models.TelemetryRecord, error)
}

// Catalog resolves telemetry to catalogued equipment
type Catalog interface {
	Entries() []models.CatalogEntry
	SpecFor(entry models.CatalogEntry) models.EquipmentSpec
}

// Mapper converts a matched record to a property update
type Mapper interface {
	Map(rec models.TelemetryRecord, entry models.CatalogEntry, spec models.EquipmentSpec) models.PropertyUpdate
}

// Writer stores property updates
type Writer interface {
	WriteBatch(ctx context.Context, updates []models.PropertyUpdate) store.WriteResult
}

// Config holds the scheduler settings
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// MatchedUpdate is one element written during a cycle
type MatchedUpdate struct {
	Entry  models.CatalogEntry
	Spec   models.EquipmentSpec
	Update models.PropertyUpdate
}

// CycleResult summarizes one sync cycle
type CycleResult struct {
	Trigger           string
	Fetched           int
	Unmatched         int
	Written           int
	PersistenceErrors int
	FetchFailed       bool
	Updates           []MatchedUpdate
	Duration          time.Duration
}

// BatchListener receives the updates of every successful cycle
type BatchListener func(updates []MatchedUpdate)

// StatusListener receives the sync status after each cycle and state transition
type StatusListener func(status models.SyncStatus)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMetrics records cycle metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer wraps every cycle in a transaction
func WithTracer(t tracing.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler periodically pulls telemetry and writes it to the property store.
// Cycles never overlap: a scheduled tick is skipped while another cycle runs,
// a manual sync waits for it.
type Scheduler struct {
	cfg     Config
	fetcher Fetcher
	catalog Catalog
	mapper  Mapper
	writer  Writer
	metrics *metrics.Metrics
	tracer  tracing.Tracer
	now     func() time.Time

	cycleMu sync.Mutex

	mu              sync.Mutex
	cron            gocron.Scheduler
	status          models.SyncStatus
	batchListeners  []BatchListener
	statusListeners []StatusListener
}

// New creates a stopped scheduler
func New(cfg Config, fetcher Fetcher, catalog Catalog, mapper Mapper, writer Writer, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	s := &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		catalog: catalog,
		mapper:  mapper,
		writer:  writer,
		tracer:  tracing.Disabled(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddBatchListener registers fn for successful cycles
func (s *Scheduler) AddBatchListener(fn BatchListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchListeners = append(s.batchListeners, fn)
}

// AddStatusListener registers fn for status changes
func (s *Scheduler) AddStatusListener(fn StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusListeners = append(s.statusListeners, fn)
}

// Start runs a cycle immediately and then every PollInterval. Starting a running scheduler is a no-op.
// Cycles keep ctx's values but not its cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return nil
	}

	cron, err := gocron.NewScheduler(
		gocron.WithStopTimeout(stopTimeout),
		gocron.WithLogger(cronLogger{}),
	)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "failed to create scheduler")
	}

	runCtx := context.WithoutCancel(ctx)
	_, err = cron.NewJob(
		gocron.DurationJob(s.cfg.PollInterval),
		gocron.NewTask(func() { s.tick(runCtx) }),
		gocron.WithName("telemetry-sync"),
		gocron.WithIdentifier(uuid.New()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.mu.Unlock()
		_ = cron.Shutdown()
		return errors.Wrap(err, "failed to schedule sync job")
	}

	cron.Start()
	s.cron = cron
	s.status.IsRunning = true
	status := s.status
	s.mu.Unlock()

	s.metrics.SetSyncRunning(true)
	log.Info().Dur("poll_interval", s.cfg.PollInterval).Str("source", s.fetcher.Name()).Msg("Telemetry sync started")
	s.notifyStatus(status)
	return nil
}

// Stop cancels future ticks and waits for an in-flight cycle to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cron := s.cron
	if cron == nil {
		s.mu.Unlock()
		return nil
	}
	s.cron = nil
	s.status.IsRunning = false
	status := s.status
	s.mu.Unlock()

	err := cron.Shutdown()
	s.metrics.SetSyncRunning(false)
	log.Info().Msg("Telemetry sync stopped")
	s.notifyStatus(status)
	if err != nil {
		return errors.Wrap(err, "failed to stop scheduler")
	}
	return nil
}

// IsRunning reports whether periodic sync is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Status returns a consistent copy of the sync status
func (s *Scheduler) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TriggerManualSync runs one cycle now and returns its error
func (s *Scheduler) TriggerManualSync(ctx context.Context) (CycleResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.runCycle(ctx, TriggerManual)
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.cycleMu.TryLock() {
		s.mu.Lock()
		s.status.SkippedTicks++
		s.mu.Unlock()
		s.metrics.IncSkippedTick()
		log.Debug().Msg("Sync cycle still in flight, skipping tick")
		return
	}
	defer s.cycleMu.Unlock()

	if _, err := s.runCycle(ctx, TriggerScheduled); err != nil {
		log.Error().Err(err).Msg("Scheduled sync cycle failed")
	}
}

func (s *Scheduler) runCycle(ctx context.Context, trigger string) (res CycleResult, err error) {
	started := time.Now()
	txn := s.tracer.StartTransaction("telemetry-sync")
	s.tracer.AddAttribute(txn, "trigger", trigger)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stack", string(debug.Stack())).Msgf("Sync cycle panicked: %v", r)
			err = errors.Errorf("sync cycle panicked: %v", r)
		}
		res.Trigger = trigger
		res.Duration = time.Since(started)

		s.tracer.AddAttribute(txn, "written", res.Written)
		s.tracer.RecordError(txn, err)
		s.tracer.EndTransaction(txn)

		status := s.complete(res, err)
		if err == nil && len(res.Updates) > 0 {
			s.fanOut(res.Updates)
		}
		s.notifyStatus(status)
	}()

	res, err = s.cycle(ctx, txn)
	return res, err
}

func (s *Scheduler) cycle(ctx context.Context, txn *newrelic.Transaction) (CycleResult, error) {
	var res CycleResult

	seg := s.tracer.StartSpan("fetch", txn)
	records, err := s.fetcher.Fetch(ctx)
	seg.End()
	if err != nil {
		// an unreachable or garbled source is an empty batch, not a failed cycle
		res.FetchFailed = true
		log.Warn().Err(err).Str("source", s.fetcher.Name()).Msg("Telemetry fetch failed")
		return res, nil
	}
	res.Fetched = len(records)
	if len(records) == 0 {
		return res, nil
	}
	if s.cfg.BatchSize > 0 && len(records) > s.cfg.BatchSize {
		log.Debug().Int("records", len(records)).Int("batch_size", s.cfg.BatchSize).Msg("Telemetry batch larger than configured size")
	}

	seg = s.tracer.StartSpan("match", txn)
	entries := s.catalog.Entries()
	latest := make(map[string]int)
	var matched []MatchedUpdate
	var recs []models.TelemetryRecord
	for _, rec := range records {
		entry, ok := FindMatchingElement(rec.DeviceID, entries)
		if !ok {
			res.Unmatched++
			log.Debug().Err(errors.Wrapf(models.ErrMatch, "device %s", rec.DeviceID)).Msg("Dropping unmatched telemetry")
			continue
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = s.now().UTC()
		}
		if i, seen := latest[entry.ElementID]; seen {
			if rec.Newer(recs[i]) {
				recs[i] = rec
			}
			continue
		}
		latest[entry.ElementID] = len(matched)
		matched = append(matched, MatchedUpdate{Entry: entry, Spec: s.catalog.SpecFor(entry)})
		recs = append(recs, rec)
	}
	seg.End()

	if err := ctx.Err(); err != nil {
		return res, errors.Wrap(err, "sync cycle cancelled")
	}
	if len(matched) == 0 {
		log.Warn().Int("records", len(records)).Msg("No telemetry matched the equipment catalog")
		return res, nil
	}

	seg = s.tracer.StartSpan("map", txn)
	updates := make([]models.PropertyUpdate, len(matched))
	for i := range matched {
		matched[i].Update = s.mapper.Map(recs[i], matched[i].Entry, matched[i].Spec)
		updates[i] = matched[i].Update
	}
	seg.End()

	seg = s.tracer.StartSpan("write", txn)
	written := s.writer.WriteBatch(ctx, updates)
	seg.End()

	res.Written = written.Written
	res.PersistenceErrors = len(written.PersistenceErrors)
	res.Updates = matched
	if err := written.Err(); err != nil {
		log.Warn().Err(err).Msg("Some property updates were not persisted")
	}
	return res, nil
}

// complete folds a cycle result into the status and returns a copy
func (s *Scheduler) complete(res CycleResult, err error) models.SyncStatus {
	result := metrics.ResultEmpty

	s.mu.Lock()
	st := &s.status
	st.UnmatchedRecords += int64(res.Unmatched)
	st.PersistenceErrors += int64(res.PersistenceErrors)
	if res.FetchFailed {
		st.FetchFailures++
	}
	switch {
	case err != nil:
		st.ErrorCount++
		st.LastError = err.Error()
		result = metrics.ResultError
	case len(res.Updates) > 0:
		st.SuccessCount++
		st.ElementsUpdated += int64(res.Written)
		st.CurrentBatch = len(res.Updates)
		st.LastSync = s.now().UTC()
		result = metrics.ResultSuccess
	}
	status := *st
	s.mu.Unlock()

	s.metrics.ObserveCycle(result, res.Trigger, res.Duration)
	s.metrics.AddElementsUpdated(res.Written)
	s.metrics.AddUnmatched(res.Unmatched)
	s.metrics.AddPersistenceErrors(res.PersistenceErrors)
	if res.FetchFailed {
		s.metrics.IncFetchFailure(s.fetcher.Name())
	}

	log.Info().
		Str("trigger", res.Trigger).
		Str("result", result).
		Int("fetched", res.Fetched).
		Int("written", res.Written).
		Int("unmatched", res.Unmatched).
		Dur("duration", res.Duration).
		Msg("Sync cycle complete")
	return status
}

func (s *Scheduler) fanOut(updates []MatchedUpdate) {
	s.mu.Lock()
	listeners := append([]BatchListener(nil), s.batchListeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.metrics.IncListenerFailure("batch")
					log.Error().Msgf("Batch listener panicked: %v", r)
				}
			}()
			fn(updates)
		}()
	}
}

func (s *Scheduler) notifyStatus(status models.SyncStatus) {
	s.mu.Lock()
	listeners := append([]StatusListener(nil), s.statusListeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.metrics.IncListenerFailure("status")
					log.Error().Msgf("Status listener panicked: %v", r)
				}
			}()
			fn(status)
		}()
	}
}

// FindMatchingElement resolves a device id to a catalog entry.
// An exact label match wins; otherwise the first entry, in model order, whose label
// contains the device's type (case-insensitive), sector and platform marker is used.
func FindMatchingElement(deviceID string, entries []models.CatalogEntry) (models.CatalogEntry, bool) {
	for _, e := range entries {
		if e.DisplayLabel == deviceID {
			return e, true
		}
	}

	segs := strings.Split(deviceID, "-")
	if len(segs) < 3 {
		return models.CatalogEntry{}, false
	}
	kind := strings.ToLower(segs[0])
	sector := segs[1]
	platform := "P2"
	if strings.Contains(segs[2], "P1") {
		platform = "P1"
	}
	if kind == "" || sector == "" {
		return models.CatalogEntry{}, false
	}

	for _, e := range entries {
		label := e.DisplayLabel
		if strings.Contains(strings.ToLower(label), kind) &&
			strings.Contains(label, sector) &&
			strings.Contains(label, platform) {
			return e, true
		}
	}
	return models.CatalogEntry{}, false
}
