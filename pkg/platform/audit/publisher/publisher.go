package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "kcc-issuer/pkg/domain-errors"
	audit "kcc-issuer/pkg/platform/audit"
	"kcc-issuer/pkg/platform/audit/metrics"
)

// ErrPublisherClosed is returned by Emit once Close has been called.
var ErrPublisherClosed = errors.New("audit publisher closed")

// Publisher captures structured audit events. It is append-only: events go to the
// store first and are then copied to every configured sink.
type Publisher struct {
	store   audit.Store
	sinks   []namedSink
	events  chan audit.Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
	async   bool
}

type namedSink struct {
	name string
	sink audit.Sink
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
// Events are queued and persisted in a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan audit.Event, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithSink adds a secondary destination. Sink failures are logged and counted,
// never returned to the emitter.
func WithSink(name string, sink audit.Sink) PublisherOption {
	return func(p *Publisher) {
		if sink != nil {
			p.sinks = append(p.sinks, namedSink{name: name, sink: sink})
		}
	}
}

func NewPublisher(store audit.Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

// processEvents runs in a goroutine and persists events from the channel.
func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.events)))
		}
		if err := p.persist(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("failed to persist audit event",
				"error", err,
				"action", string(event.Action),
				"request_id", event.RequestID,
			)
		}
	}
}

// Close shuts down the publisher and waits for pending events to drain.
// Emit fails with ErrPublisherClosed afterwards. Safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.async && p.events != nil {
		close(p.events)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) Emit(ctx context.Context, base audit.Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}
	if base.ID == uuid.Nil {
		base.ID = uuid.New()
	}

	// The read lock keeps Close from closing the channel mid-send; the send
	// below never blocks, so Close waits at most one select.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		if p.metrics != nil {
			p.metrics.EventsDropped.Inc()
		}
		return ErrPublisherClosed
	}
	if p.async {
		// Non-blocking send with context cancellation support
		select {
		case p.events <- base:
			if p.metrics != nil {
				p.metrics.EventsEnqueued.Inc()
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			if p.metrics != nil {
				p.metrics.EventsDropped.Inc()
			}
			if p.logger != nil {
				p.logger.Warn("audit buffer full, event dropped",
					"action", string(base.Action),
					"request_id", base.RequestID,
				)
			}
			return dErrors.New(dErrors.CodeInternal, "audit buffer full")
		}
	}
	return p.persist(ctx, base)
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	start := time.Now()
	err := p.store.Append(ctx, event)
	if p.metrics != nil {
		p.metrics.PersistDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			p.metrics.PersistFailures.Inc()
		}
	}
	if err != nil {
		return err
	}

	for _, s := range p.sinks {
		if sinkErr := s.sink.Publish(ctx, event); sinkErr != nil {
			if p.metrics != nil {
				p.metrics.SinkFailures.WithLabelValues(s.name).Inc()
			}
			if p.logger != nil {
				p.logger.Warn("audit sink delivery failed",
					"sink", s.name,
					"error", sinkErr,
					"action", string(event.Action),
				)
			}
		}
	}
	return nil
}

// ListBySubject returns the ledger entries for a subject DID.
func (p *Publisher) ListBySubject(ctx context.Context, subjectDID string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subjectDID)
}
