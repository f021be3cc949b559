package sink

import (
	"context"
	"time"

	"example.com/backstage/services/telemetry/internal/metrics"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultBacklog = 512

// ErrBacklogFull is returned by Enqueue when the sink worker cannot keep up
var ErrBacklogFull = errors.New("sink backlog full")

// Handler delivers one event to an external system
type Handler[T any] func(ctx context.Context, event T) error

// Queue decouples a slow external sink from the sync cycle. Enqueue never blocks;
// a single worker started by Run delivers events in order, each bounded by the timeout.
type Queue[T any] struct {
	name    string
	events  chan T
	handle  Handler[T]
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewQueue creates a queue holding up to backlog pending events
func NewQueue[T any](name string, backlog int, timeout time.Duration, m *metrics.Metrics, handle func(ctx context.Context, event T) error) *Queue[T] {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Queue[T]{
		name:    name,
		events:  make(chan T, backlog),
		handle:  handle,
		timeout: timeout,
		metrics: m,
	}
}

// Enqueue hands event to the worker. It has the listener signature the coordinator expects.
func (q *Queue[T]) Enqueue(event T) error {
	select {
	case q.events <- event:
		q.metrics.SetSinkBacklog(q.name, len(q.events))
		return nil
	default:
		q.metrics.ObserveSink(q.name, metrics.SinkDropped)
		return errors.Wrapf(ErrBacklogFull, "sink %s", q.name)
	}
}

// Len returns the number of pending events
func (q *Queue[T]) Len() int {
	return len(q.events)
}

// Run delivers events until ctx is cancelled. Pending events are dropped on exit.
func (q *Queue[T]) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(q.events); n > 0 {
				log.Warn().Str("sink", q.name).Int("pending", n).Msg("Sink stopped with undelivered events")
			}
			return
		case event := <-q.events:
			q.metrics.SetSinkBacklog(q.name, len(q.events))
			q.deliver(ctx, event)
		}
	}
}

func (q *Queue[T]) deliver(ctx context.Context, event T) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.ObserveSink(q.name, metrics.SinkFailed)
			log.Error().Str("sink", q.name).Msgf("Sink handler panicked: %v", r)
		}
	}()

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := q.handle(ctx, event); err != nil {
		q.metrics.ObserveSink(q.name, metrics.SinkFailed)
		log.Warn().Err(err).Str("sink", q.name).Msg("Sink delivery failed")
		return
	}
	q.metrics.ObserveSink(q.name, metrics.SinkDelivered)
}
