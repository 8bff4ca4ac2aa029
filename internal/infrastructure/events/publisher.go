package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/config"
)

// EventKind distinguishes the payloads carried by an Envelope.
type EventKind string

const (
	KindAlert    EventKind = "alert"
	KindAnalysis EventKind = "analysis"
)

// Envelope is the wire shape delivered to subscribers. Exactly one of
// Alert or Analysis is set, matching Kind.
type Envelope struct {
	ID         uuid.UUID                `json:"id"`
	Kind       EventKind                `json:"kind"`
	PatientID  uuid.UUID                `json:"patient_id"`
	OccurredAt time.Time                `json:"occurred_at"`
	Alert      *alert.Event             `json:"alert,omitempty"`
	Analysis   *analysis.CompletedEvent `json:"analysis,omitempty"`
}

// SubscriptionFilter narrows which envelopes a subscriber receives. Nil
// fields match everything.
type SubscriptionFilter struct {
	PatientID   *uuid.UUID
	MinSeverity *rule.Severity
	Kinds       []EventKind
}

// Matches reports whether the envelope passes the filter.
func (f SubscriptionFilter) Matches(env Envelope) bool {
	if f.PatientID != nil && *f.PatientID != env.PatientID {
		return false
	}

	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == env.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.MinSeverity != nil {
		if env.Kind != KindAlert || env.Alert == nil || env.Alert.Alert == nil {
			return false
		}
		if env.Alert.Alert.Severity < *f.MinSeverity {
			return false
		}
	}

	return true
}

// Subscription is an in-process event stream consumer. Envelopes arrive
// on C; a consumer that stops draining loses events rather than
// stalling the pipeline.
type Subscription struct {
	ID        string
	Filter    SubscriptionFilter
	CreatedAt time.Time

	ch chan Envelope

	mu            sync.RWMutex
	eventsSent    int64
	eventsDropped int64
	lastEventAt   time.Time
}

// C returns the subscriber's delivery channel.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// DeliveryStats reports per-subscription delivery counters.
func (s *Subscription) DeliveryStats() (sent, dropped int64, lastEventAt time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventsSent, s.eventsDropped, s.lastEventAt
}

// PublisherConfig configures the alert event publisher
type PublisherConfig struct {
	// Queue sizes
	QueueSize         int
	CriticalQueueSize int

	// Worker configuration
	Workers         int
	CriticalWorkers int

	// Retry configuration for full subscriber buffers
	MaxRetries   int
	RetryBackoff time.Duration

	// Subscriber channel depth
	SubscriberBuffer int

	// Timeouts
	ShutdownTimeout time.Duration
}

// DefaultPublisherConfig returns default configuration
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		QueueSize:         1024,
		CriticalQueueSize: 256,
		Workers:           2,
		CriticalWorkers:   1,
		MaxRetries:        3,
		RetryBackoff:      100 * time.Millisecond,
		SubscriberBuffer:  64,
		ShutdownTimeout:   10 * time.Second,
	}
}

// PublisherConfigFrom maps the application events section onto the
// publisher, filling the rest from defaults.
func PublisherConfigFrom(cfg *config.EventsConfig) PublisherConfig {
	pc := DefaultPublisherConfig()
	if cfg == nil {
		return pc
	}
	if cfg.BufferSize > 0 {
		pc.QueueSize = cfg.BufferSize
		pc.CriticalQueueSize = cfg.BufferSize / 4
		if pc.CriticalQueueSize == 0 {
			pc.CriticalQueueSize = 1
		}
	}
	if cfg.Workers > 0 {
		pc.Workers = cfg.Workers
	}
	if cfg.MaxRetries >= 0 {
		pc.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryBackoff > 0 {
		pc.RetryBackoff = cfg.RetryBackoff
	}
	return pc
}

// publisherMetrics tracks publisher performance instruments
type publisherMetrics struct {
	eventsPublished metric.Int64Counter
	eventsDropped   metric.Int64Counter
	publishLatency  metric.Float64Histogram
	queueDepth      metric.Int64ObservableGauge
}

// PublisherStats is a point-in-time snapshot for health endpoints.
type PublisherStats struct {
	Published     int64
	Dropped       int64
	QueueDepth    int
	CriticalDepth int
	Subscriptions int
}

// AlertEventPublisher fans alert lifecycle and analysis completion
// events out to in-process subscribers. Critical and emergency alerts
// ride a dedicated queue so routine traffic cannot delay them.
type AlertEventPublisher struct {
	logger *zap.Logger
	cfg    PublisherConfig

	subscriptions   map[string]*Subscription
	subscriptionsMu sync.RWMutex

	queue         chan Envelope
	criticalQueue chan Envelope

	metrics publisherMetrics
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu   sync.RWMutex
	published int64
	dropped   int64
}

// NewAlertEventPublisher creates the publisher and starts its workers.
func NewAlertEventPublisher(ctx context.Context, logger *zap.Logger, cfg PublisherConfig) (*AlertEventPublisher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.QueueSize <= 0 || cfg.Workers <= 0 {
		return nil, fmt.Errorf("queue size and worker count must be positive")
	}
	if cfg.CriticalQueueSize <= 0 {
		cfg.CriticalQueueSize = 1
	}
	if cfg.CriticalWorkers <= 0 {
		cfg.CriticalWorkers = 1
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultPublisherConfig().SubscriberBuffer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultPublisherConfig().ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(ctx)

	p := &AlertEventPublisher{
		logger:        logger,
		cfg:           cfg,
		subscriptions: make(map[string]*Subscription),
		queue:         make(chan Envelope, cfg.QueueSize),
		criticalQueue: make(chan Envelope, cfg.CriticalQueueSize),
		tracer:        otel.Tracer("events.publisher"),
		ctx:           ctx,
		cancel:        cancel,
	}

	if err := p.initMetrics(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	p.startWorkers()

	logger.Info("alert event publisher started",
		zap.Int("workers", cfg.Workers),
		zap.Int("critical_workers", cfg.CriticalWorkers),
		zap.Int("queue_size", cfg.QueueSize))

	return p, nil
}

func (p *AlertEventPublisher) initMetrics() error {
	meter := otel.Meter("events.publisher")

	var err error
	p.metrics.eventsPublished, err = meter.Int64Counter(
		"cse.events.published_total",
		metric.WithDescription("Total events accepted for fan-out"),
	)
	if err != nil {
		return err
	}

	p.metrics.eventsDropped, err = meter.Int64Counter(
		"cse.events.dropped_total",
		metric.WithDescription("Total events dropped by backpressure or full subscribers"),
	)
	if err != nil {
		return err
	}

	p.metrics.publishLatency, err = meter.Float64Histogram(
		"cse.events.publish_latency",
		metric.WithDescription("Queue admission latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	p.metrics.queueDepth, err = meter.Int64ObservableGauge(
		"cse.events.queue_depth",
		metric.WithDescription("Current fan-out queue depth"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(len(p.queue)), metric.WithAttributes(attribute.String("queue", "regular")))
			o.Observe(int64(len(p.criticalQueue)), metric.WithAttributes(attribute.String("queue", "critical")))
			return nil
		}),
	)
	return err
}

// PublishAlertEvent queues one alert lifecycle event. Critical and
// emergency severities take the priority queue; when both queues are
// full the event is dropped and an error returned so the caller can
// log it, never block on it.
func (p *AlertEventPublisher) PublishAlertEvent(ctx context.Context, event alert.Event) error {
	env := Envelope{
		ID:         event.ID,
		Kind:       KindAlert,
		PatientID:  event.PatientID,
		OccurredAt: event.OccurredAt,
		Alert:      &event,
	}

	critical := event.Alert != nil && event.Alert.Severity >= rule.SeverityCritical
	return p.enqueue(ctx, env, critical)
}

// PublishAnalysisCompleted queues one per-patient analysis summary.
func (p *AlertEventPublisher) PublishAnalysisCompleted(ctx context.Context, event analysis.CompletedEvent) error {
	env := Envelope{
		ID:         event.ID,
		Kind:       KindAnalysis,
		PatientID:  event.PatientID,
		OccurredAt: event.AnalysisDate,
		Analysis:   &event,
	}
	return p.enqueue(ctx, env, false)
}

func (p *AlertEventPublisher) enqueue(ctx context.Context, env Envelope, critical bool) error {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "AlertEventPublisher.enqueue",
		trace.WithAttributes(
			attribute.String("event.id", env.ID.String()),
			attribute.String("event.kind", string(env.Kind)),
			attribute.Bool("event.critical", critical),
		),
	)
	defer span.End()

	select {
	case <-p.ctx.Done():
		return errors.NewInternalError("event publisher is shut down")
	default:
	}

	if critical {
		select {
		case p.criticalQueue <- env:
			span.SetAttributes(attribute.Bool("queued.critical", true))
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			return ctx.Err()
		default:
			// Critical queue full, fall back to the regular queue
			select {
			case p.queue <- env:
				span.SetAttributes(attribute.Bool("queued.regular", true))
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				return ctx.Err()
			default:
				p.recordDropped(ctx, "queue_full")
				return errors.NewInternalError("event queues full")
			}
		}
	} else {
		select {
		case p.queue <- env:
			span.SetAttributes(attribute.Bool("queued.regular", true))
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			return ctx.Err()
		default:
			p.recordDropped(ctx, "queue_full")
			return errors.NewInternalError("event queue full")
		}
	}

	p.statsMu.Lock()
	p.published++
	p.statsMu.Unlock()

	p.metrics.eventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(env.Kind)),
	))
	p.metrics.publishLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000.0)

	return nil
}

// Subscribe registers an in-process consumer. The returned subscription
// owns a buffered channel; Unsubscribe closes it.
func (p *AlertEventPublisher) Subscribe(filter SubscriptionFilter) (*Subscription, error) {
	select {
	case <-p.ctx.Done():
		return nil, errors.NewInternalError("event publisher is shut down")
	default:
	}

	sub := &Subscription{
		ID:        uuid.New().String(),
		Filter:    filter,
		CreatedAt: time.Now().UTC(),
		ch:        make(chan Envelope, p.cfg.SubscriberBuffer),
	}

	p.subscriptionsMu.Lock()
	p.subscriptions[sub.ID] = sub
	p.subscriptionsMu.Unlock()

	p.logger.Info("event subscription created",
		zap.String("subscription_id", sub.ID),
		zap.Bool("patient_scoped", filter.PatientID != nil))

	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (p *AlertEventPublisher) Unsubscribe(subscriptionID string) error {
	p.subscriptionsMu.Lock()
	sub, exists := p.subscriptions[subscriptionID]
	if exists {
		delete(p.subscriptions, subscriptionID)
	}
	p.subscriptionsMu.Unlock()

	if !exists {
		return errors.NewNotFoundError("subscription")
	}

	close(sub.ch)

	p.logger.Info("event subscription removed",
		zap.String("subscription_id", subscriptionID))

	return nil
}

// Health reports whether the publisher can still accept events.
func (p *AlertEventPublisher) Health() error {
	select {
	case <-p.ctx.Done():
		return errors.NewInternalError("event publisher is shut down")
	default:
	}

	if depth := len(p.queue); depth > p.cfg.QueueSize*9/10 {
		return errors.NewInternalError(fmt.Sprintf("event queue nearly full: %d/%d", depth, p.cfg.QueueSize))
	}

	return nil
}

// Stats returns a snapshot of publisher counters.
func (p *AlertEventPublisher) Stats() PublisherStats {
	p.statsMu.RLock()
	published, dropped := p.published, p.dropped
	p.statsMu.RUnlock()

	p.subscriptionsMu.RLock()
	subs := len(p.subscriptions)
	p.subscriptionsMu.RUnlock()

	return PublisherStats{
		Published:     published,
		Dropped:       dropped,
		QueueDepth:    len(p.queue),
		CriticalDepth: len(p.criticalQueue),
		Subscriptions: subs,
	}
}

// Close stops the workers, waits up to ShutdownTimeout for queued
// events to drain, and closes all subscriber channels.
func (p *AlertEventPublisher) Close() error {
	p.logger.Info("shutting down alert event publisher")

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("shutdown timeout reached, pending events lost",
			zap.Int("pending", len(p.queue)),
			zap.Int("pending_critical", len(p.criticalQueue)))
	}

	p.subscriptionsMu.Lock()
	for id, sub := range p.subscriptions {
		close(sub.ch)
		delete(p.subscriptions, id)
	}
	p.subscriptionsMu.Unlock()

	return nil
}

func (p *AlertEventPublisher) startWorkers() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i, p.queue)
	}
	for i := 0; i < p.cfg.CriticalWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i, p.criticalQueue)
	}
}

func (p *AlertEventPublisher) worker(id int, queue <-chan Envelope) {
	defer p.wg.Done()

	for {
		select {
		case env := <-queue:
			p.deliver(env)
		case <-p.ctx.Done():
			// Drain what is already queued before exiting
			for {
				select {
				case env := <-queue:
					p.deliver(env)
				default:
					return
				}
			}
		}
	}
}

func (p *AlertEventPublisher) deliver(env Envelope) {
	p.subscriptionsMu.RLock()
	matching := make([]*Subscription, 0, len(p.subscriptions))
	for _, sub := range p.subscriptions {
		if sub.Filter.Matches(env) {
			matching = append(matching, sub)
		}
	}
	p.subscriptionsMu.RUnlock()

	for _, sub := range matching {
		p.send(sub, env)
	}
}

// send attempts delivery with bounded retries; a persistently full
// subscriber loses the event rather than stalling the worker.
func (p *AlertEventPublisher) send(sub *Subscription, env Envelope) {
	backoff := p.cfg.RetryBackoff

	for attempt := 0; ; attempt++ {
		delivered := func() (ok bool) {
			// Unsubscribe may close the channel mid-send
			defer func() {
				if recover() != nil {
					ok = false
				}
			}()
			select {
			case sub.ch <- env:
				return true
			default:
				return false
			}
		}()

		if delivered {
			sub.mu.Lock()
			sub.eventsSent++
			sub.lastEventAt = time.Now().UTC()
			sub.mu.Unlock()
			return
		}

		if attempt >= p.cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-p.ctx.Done():
			return
		}
	}

	sub.mu.Lock()
	sub.eventsDropped++
	sub.mu.Unlock()

	p.recordDropped(context.Background(), "subscriber_full")
	p.logger.Warn("subscriber buffer full, event dropped",
		zap.String("subscription_id", sub.ID),
		zap.String("event_id", env.ID.String()),
		zap.String("kind", string(env.Kind)))
}

func (p *AlertEventPublisher) recordDropped(ctx context.Context, reason string) {
	p.statsMu.Lock()
	p.dropped++
	p.statsMu.Unlock()

	p.metrics.eventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}
