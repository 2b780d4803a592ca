package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/metrics"
	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/catalog"
	"github.com/jsndz/petbus/pkg/dedup"
	"github.com/jsndz/petbus/pkg/notify"
	"github.com/jsndz/petbus/pkg/policy"
	"github.com/jsndz/petbus/pkg/types"
)

type Config struct {
	ID                 string
	Group              string
	RequestsQueue      string
	ResultsQueue       string
	NotificationsQueue string
	ProcessTimeout     time.Duration
	MaxRetries         int
	Verbosity          Verbosity
	Backoff            func(attempt int) time.Duration
}

func (c *Config) setDefaults() {
	if c.ID == "" {
		c.ID = "worker-1"
	}
	if c.Group == "" {
		c.Group = "validation-workers"
	}
	if c.RequestsQueue == "" {
		c.RequestsQueue = "adoption_requests"
	}
	if c.ResultsQueue == "" {
		c.ResultsQueue = "adoption_results"
	}
	if c.NotificationsQueue == "" {
		c.NotificationsQueue = "notifications"
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 30 * time.Second
	}
	if c.Verbosity == "" {
		c.Verbosity = VerbosityOutcome
	}
}

// Worker validates adoption requests one at a time and publishes a result
// for each of them.
type Worker struct {
	cfg     Config
	broker  broker.Broker
	policy  *policy.Policy
	catalog catalog.Catalog
	rand    policy.Rand
	dedup   dedup.Store
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	delay   func(ctx context.Context) error
	onState func(requestID string, s State)
}

type Option func(*Worker)

func WithRand(r policy.Rand) Option              { return func(w *Worker) { w.rand = r } }
func WithDedup(s dedup.Store) Option             { return func(w *Worker) { w.dedup = s } }
func WithLogger(l *zap.Logger) Option            { return func(w *Worker) { w.logger = l } }
func WithClock(now func() time.Time) Option      { return func(w *Worker) { w.now = now } }
func WithStateHook(f func(string, State)) Option { return func(w *Worker) { w.onState = f } }

// WithDelay installs a hook run before validation. It stands in for the
// time a real review would take; returning an error fails the attempt.
func WithDelay(f func(ctx context.Context) error) Option {
	return func(w *Worker) { w.delay = f }
}

// FixedDelay waits d or until ctx is done.
func FixedDelay(d time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return broker.Sleep(ctx, d)
	}
}

func New(cfg Config, b broker.Broker, p *policy.Policy, c catalog.Catalog, opts ...Option) *Worker {
	cfg.setDefaults()
	w := &Worker{
		cfg:     cfg,
		broker:  b,
		policy:  p,
		catalog: c,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("validation-worker"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	if w.rand == nil {
		w.rand = policy.NewRand(uint64(w.now().UnixNano()))
	}
	if w.dedup == nil {
		w.dedup = dedup.NewMemoryStore(dedup.DefaultTTL)
	}
	w.logger = w.logger.With(zap.String("worker_id", w.cfg.ID))
	return w
}

func (w *Worker) ID() string { return w.cfg.ID }

func (w *Worker) source() string { return "validation-worker/" + w.cfg.ID }

func (w *Worker) transition(requestID string, s State) {
	w.logger.Debug("request state", zap.String("request_id", requestID), zap.String("state", string(s)))
	if w.onState != nil {
		w.onState(requestID, s)
	}
}

// Run consumes the requests queue until ctx is cancelled. Each delivery goes
// through the retry ceiling before reaching Handle.
func (w *Worker) Run(ctx context.Context) error {
	h := broker.WithRetryLimit(w.broker, broker.RetryPolicy{
		MaxRetries:      w.cfg.MaxRetries,
		DeadLetterQueue: broker.DeadLetterQueue(w.cfg.RequestsQueue),
		Counter:         w.dedup,
		Logger:          w.logger,
		OnDeadLetter:    w.onDeadLetter,
	}, w.Handle)

	w.logger.Info("Starting validation worker",
		zap.String("queue", w.cfg.RequestsQueue),
		zap.String("policy", w.policy.Name),
		zap.String("verbosity", string(w.cfg.Verbosity)),
	)
	err := w.broker.Consume(ctx, w.cfg.RequestsQueue, broker.ConsumeOptions{
		Group:    w.cfg.Group,
		Prefetch: 1,
		Backoff:  w.cfg.Backoff,
	}, h)
	if errors.Is(err, context.Canceled) {
		w.logger.Info("Shutting down validation worker")
		return nil
	}
	return err
}

func processedKey(requestID string) string { return "processed:" + requestID }

// Handle runs one delivery through RECEIVED, VALIDATING, APPROVED or
// REJECTED, PUBLISHED and ACKNOWLEDGED. Any error leaves the delivery
// unacknowledged.
func (w *Worker) Handle(ctx context.Context, d *broker.Delivery) error {
	ctx = broker.ExtractTrace(ctx, d)
	ctx, span := w.tracer.Start(ctx, "validate-adoption")
	defer span.End()

	var req types.AdoptionRequest
	if err := d.Decode(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode request")
		w.logger.Error("Failed to unmarshal adoption request",
			zap.ByteString("raw", d.Body),
			zap.Error(err),
		)
		w.transition(d.ID, StateFailed)
		return fmt.Errorf("decode request %s: %w", d.ID, err)
	}
	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("pet_id", req.PetID),
		attribute.Int("attempt", d.Attempt),
	)
	w.transition(req.RequestID, StateReceived)

	seen, err := w.dedup.Seen(ctx, processedKey(req.RequestID))
	if err != nil {
		w.logger.Warn("dedup lookup failed, processing anyway", zap.String("request_id", req.RequestID), zap.Error(err))
	}
	if seen {
		metrics.DuplicateDeliveriesTotal.WithLabelValues(d.Queue).Inc()
		w.logger.Info("Request already processed, acknowledging duplicate",
			zap.String("request_id", req.RequestID),
			zap.Int("attempt", d.Attempt),
		)
		d.Ack()
		w.transition(req.RequestID, StateAcknowledged)
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, w.cfg.ProcessTimeout)
	defer cancel()

	if err := w.process(pctx, d, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.transition(req.RequestID, StateFailed)
		return err
	}
	return nil
}

func (w *Worker) process(ctx context.Context, d *broker.Delivery, req types.AdoptionRequest) error {
	in := policy.NewInput(req, w.catalog)

	if w.cfg.Verbosity.progress() {
		w.notify(ctx, notify.NewMessage(types.CategoryProcessing,
			"Processing request",
			fmt.Sprintf("Reviewing your request to adopt %s", in.Pet.Name),
			req.RequestID, w.source()))
	}

	if w.delay != nil {
		if err := w.delay(ctx); err != nil {
			return fmt.Errorf("processing %s: %w", req.RequestID, err)
		}
	}

	w.transition(req.RequestID, StateValidating)
	start := time.Now()
	decision, err := w.policy.Evaluate(in, w.rand)
	metrics.ValidationDuration.WithLabelValues(w.policy.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", req.RequestID, err)
	}

	outcome := "rejected"
	state := StateRejected
	if decision.Approved {
		outcome = "approved"
		state = StateApproved
	}
	w.transition(req.RequestID, state)

	now := w.now().UTC()
	duration := now.Sub(req.SubmittedAt)
	if req.SubmittedAt.IsZero() || duration < 0 {
		duration = 0
	}
	result := types.ValidationResult{
		RequestID:            req.RequestID,
		PetID:                req.PetID,
		Approved:             decision.Approved,
		Score:                decision.Score,
		Criteria:             decision.Criteria,
		Message:              decision.Message,
		ProcessedAt:          now,
		ProcessingDurationMs: duration.Milliseconds(),
		Policy:               w.policy.Name,
		WorkerID:             w.cfg.ID,
	}

	msg, err := broker.NewMessage(req.RequestID, result)
	if err != nil {
		return err
	}
	broker.InjectTrace(ctx, &msg)
	if err := w.broker.Publish(ctx, w.cfg.ResultsQueue, msg); err != nil {
		w.logger.Error("Failed to publish validation result",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return fmt.Errorf("publish result %s: %w", req.RequestID, err)
	}
	w.transition(req.RequestID, StatePublished)
	metrics.ValidationsTotal.WithLabelValues(w.policy.Name, outcome).Inc()
	metrics.AdoptionLatency.Observe(duration.Seconds())

	if _, err := w.dedup.Mark(ctx, processedKey(req.RequestID)); err != nil {
		w.logger.Warn("failed to record processed request", zap.String("request_id", req.RequestID), zap.Error(err))
	}

	if w.cfg.Verbosity.outcomes() {
		category, title := types.CategoryRejected, "Adoption rejected"
		if decision.Approved {
			category, title = types.CategoryApproved, "Adoption approved"
		}
		w.notify(ctx, notify.NewMessage(category, title, decision.Message, req.RequestID, w.source()))
	}

	d.Ack()
	w.transition(req.RequestID, StateAcknowledged)
	w.logger.Info("Adoption request processed",
		zap.String("request_id", req.RequestID),
		zap.String("pet_id", req.PetID),
		zap.String("outcome", outcome),
		zap.Int("score", decision.Score),
		zap.Int64("duration_ms", result.ProcessingDurationMs),
	)
	return nil
}

// notify publishes a feed notification. Failures are logged only: the
// result is already on the results queue at this point.
func (w *Worker) notify(ctx context.Context, n types.NotificationMessage) {
	if err := notify.Publish(ctx, w.broker, w.cfg.NotificationsQueue, n); err != nil {
		w.logger.Warn("failed to publish notification",
			zap.String("request_id", n.RequestID),
			zap.String("category", string(n.Category)),
			zap.Error(err),
		)
	}
}

func (w *Worker) onDeadLetter(ctx context.Context, d *broker.Delivery) {
	var req types.AdoptionRequest
	requestID := d.Key
	if err := d.Decode(&req); err == nil && req.RequestID != "" {
		requestID = req.RequestID
	}
	w.transition(requestID, StateDeadLettered)
	w.notify(ctx, notify.NewMessage(types.CategoryError,
		"Processing failed",
		"Your request could not be processed and was set aside for review",
		requestID, w.source()))
}
