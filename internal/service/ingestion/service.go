package ingestion

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
	"github.com/vitalsense/clinical-signal-engine/internal/service/analysis"
)

// Config sizes the pipeline. Zero values pick up the defaults.
type Config struct {
	// Workers is the number of pipeline partitions; each patient maps to
	// exactly one, which is what serializes per-patient processing
	Workers int
	// QueueSize buffers each partition's channel
	QueueSize int
}

func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// task is one unit of partition work: a measurement to push through the
// pipeline, or a flush marking the end of a submission for one patient.
type task struct {
	m            *measurement.Measurement
	flush        bool
	flushPatient uuid.UUID
}

type service struct {
	store     MeasurementStore
	analyzer  Analyzer
	evaluator RuleEvaluator
	lifecycle AlertLifecycle
	publisher CompletedPublisher
	logger    *zap.Logger
	cfg       Config

	partitions []chan task
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	started bool
	mu      sync.Mutex

	ingested      int64
	analyzed      int64
	failed        int64
	alertsCreated int64
}

// NewService creates the ingestion pipeline. evaluator, lifecycle, and
// publisher may be nil in reduced deployments; the corresponding pipeline
// stages are then skipped.
func NewService(store MeasurementStore, analyzer Analyzer, evaluator RuleEvaluator, lifecycle AlertLifecycle, publisher CompletedPublisher, cfg Config) Service {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	partitions := make([]chan task, cfg.Workers)
	for i := range partitions {
		partitions[i] = make(chan task, cfg.QueueSize)
	}

	return &service{
		store:      store,
		analyzer:   analyzer,
		evaluator:  evaluator,
		lifecycle:  lifecycle,
		publisher:  publisher,
		logger:     zap.L().With(zap.String("component", "ingestion_pipeline")),
		cfg:        cfg,
		partitions: partitions,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.NewBusinessError("PIPELINE_RUNNING", "ingestion pipeline is already running")
	}
	if s.ctx.Err() != nil {
		return errors.NewBusinessError("PIPELINE_STOPPED", "ingestion pipeline cannot restart after stop")
	}
	s.started = true

	for i, ch := range s.partitions {
		s.wg.Add(1)
		go s.worker(i, ch)
	}
	s.logger.Info("pipeline started", zap.Int("workers", s.cfg.Workers))
	return nil
}

// Stop cancels intake, drains whatever each partition has buffered, and
// waits for the workers to finish.
func (s *service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("pipeline stopped",
		zap.Int64("ingested", atomic.LoadInt64(&s.ingested)),
		zap.Int64("analyzed", atomic.LoadInt64(&s.analyzed)),
	)
}

func (s *service) Ingest(ctx context.Context, sub Submission) (*measurement.Measurement, error) {
	m, err := buildMeasurement(sub)
	if err != nil {
		return nil, err
	}
	if err := s.store.Store(ctx, m); err != nil {
		return nil, errors.Wrap(err, "failed to store measurement")
	}
	atomic.AddInt64(&s.ingested, 1)

	if err := s.enqueue(ctx, task{m: m}, m.PatientID); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, task{flush: true, flushPatient: m.PatientID}, m.PatientID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *service) IngestBatch(ctx context.Context, subs []Submission) (*BatchResult, error) {
	if len(subs) == 0 {
		return nil, errors.NewValidationError("EMPTY_BATCH", "batch contains no measurements")
	}

	result := &BatchResult{}
	patients := make(map[uuid.UUID]bool)

	for i, sub := range subs {
		m, err := buildMeasurement(sub)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedSubmission{Index: i, Error: err.Error()})
			continue
		}
		if err := s.store.Store(ctx, m); err != nil {
			result.Rejected = append(result.Rejected, RejectedSubmission{Index: i, Error: err.Error()})
			continue
		}
		atomic.AddInt64(&s.ingested, 1)

		if err := s.enqueue(ctx, task{m: m}, m.PatientID); err != nil {
			return result, err
		}
		result.Accepted = append(result.Accepted, m)
		patients[m.PatientID] = true
	}

	for patientID := range patients {
		if err := s.enqueue(ctx, task{flush: true, flushPatient: patientID}, patientID); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *service) Stats() PipelineStats {
	queued := 0
	for _, ch := range s.partitions {
		queued += len(ch)
	}
	return PipelineStats{
		Ingested:      atomic.LoadInt64(&s.ingested),
		Analyzed:      atomic.LoadInt64(&s.analyzed),
		Failed:        atomic.LoadInt64(&s.failed),
		AlertsCreated: atomic.LoadInt64(&s.alertsCreated),
		QueuedTasks:   queued,
	}
}

// buildMeasurement rejects malformed submissions before anything is stored.
func buildMeasurement(sub Submission) (*measurement.Measurement, error) {
	category, err := measurement.ParseCategory(sub.Category)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_MEASUREMENT", err.Error())
	}
	refRange, err := values.NewReferenceRange(sub.ReferenceLow, sub.ReferenceHigh)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_MEASUREMENT", err.Error())
	}
	m, err := measurement.NewMeasurement(
		sub.PatientID, sub.TestCode, sub.TestName, sub.Value, sub.Unit,
		refRange, sub.ObservedAt, category,
	)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_MEASUREMENT", err.Error())
	}
	return m, nil
}

// partition maps a patient to a fixed worker, which serializes that
// patient's pipeline work.
func (s *service) partition(patientID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(patientID[:])
	return int(h.Sum32() % uint32(len(s.partitions)))
}

// enqueue blocks until the partition accepts the task, the caller gives up,
// or the pipeline stops. Backpressure reaches the submitter instead of
// dropping clinical data.
func (s *service) enqueue(ctx context.Context, t task, patientID uuid.UUID) error {
	// checked before the send so a stopped pipeline refuses work even when
	// the partition buffer still has room
	if s.ctx.Err() != nil {
		return errors.NewBusinessError("PIPELINE_STOPPED", "ingestion pipeline is stopped")
	}
	ch := s.partitions[s.partition(patientID)]
	select {
	case ch <- t:
		return nil
	case <-ctx.Done():
		return errors.NewTimeoutError("measurement enqueue")
	case <-s.ctx.Done():
		return errors.NewBusinessError("PIPELINE_STOPPED", "ingestion pipeline is stopped")
	}
}

func (s *service) worker(id int, ch <-chan task) {
	defer s.wg.Done()

	logger := s.logger.With(zap.Int("worker_id", id))
	logger.Debug("worker started")

	// analysis results held back until the submission's flush task
	pending := make(map[uuid.UUID][]*analysis.Result)

	for {
		select {
		case <-s.ctx.Done():
			// drain buffered tasks so accepted measurements finish
			for {
				select {
				case t := <-ch:
					s.handle(t, pending, logger)
				default:
					logger.Debug("worker stopping")
					return
				}
			}
		case t := <-ch:
			s.handle(t, pending, logger)
		}
	}
}

func (s *service) handle(t task, pending map[uuid.UUID][]*analysis.Result, logger *zap.Logger) {
	// pipeline work carries on independently of request contexts
	ctx := context.Background()

	if t.flush {
		s.emitCompleted(ctx, t.flushPatient, pending, logger)
		return
	}
	if t.m == nil {
		return
	}
	s.process(ctx, t.m, pending, logger)
}

func (s *service) process(ctx context.Context, m *measurement.Measurement, pending map[uuid.UUID][]*analysis.Result, logger *zap.Logger) {
	result, err := s.analyzer.AnalyzeMeasurement(ctx, m)
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		logger.Error("analysis failed",
			zap.String("patient_id", m.PatientID.String()),
			zap.String("test_code", m.TestCode),
			zap.Error(err),
		)
		return
	}
	atomic.AddInt64(&s.analyzed, 1)
	pending[m.PatientID] = append(pending[m.PatientID], result)

	if s.evaluator == nil {
		return
	}
	requests, err := s.evaluator.Evaluate(ctx, m, result.Trend, result.Anomaly)
	if err != nil {
		logger.Error("rule evaluation failed",
			zap.String("patient_id", m.PatientID.String()),
			zap.String("test_code", m.TestCode),
			zap.Error(err),
		)
		return
	}
	if s.lifecycle == nil {
		return
	}
	for _, req := range requests {
		if _, err := s.lifecycle.HandleCreationRequest(ctx, req); err != nil {
			logger.Error("alert creation failed",
				zap.String("patient_id", req.PatientID.String()),
				zap.String("rule_id", req.RuleID.String()),
				zap.Error(err),
			)
			continue
		}
		atomic.AddInt64(&s.alertsCreated, 1)
	}
}

// emitCompleted publishes the analysis summary for everything processed for
// the patient since their last flush.
func (s *service) emitCompleted(ctx context.Context, patientID uuid.UUID, pending map[uuid.UUID][]*analysis.Result, logger *zap.Logger) {
	results := pending[patientID]
	delete(pending, patientID)
	if len(results) == 0 || s.publisher == nil {
		return
	}

	event := s.analyzer.BuildCompletedEvent(patientID, results)
	if err := s.publisher.PublishAnalysisCompleted(ctx, event); err != nil {
		logger.Error("analysis completed publish failed",
			zap.String("patient_id", patientID.String()),
			zap.Error(err),
		)
	}
}
