// Package consumer displays validation results and feed notifications as
// they arrive.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jsndz/petbus/metrics"
	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/dedup"
	"github.com/jsndz/petbus/pkg/types"
)

type Config struct {
	ResultsQueue       string
	NotificationsQueue string
	ResultsGroup       string
	NotificationsGroup string
	MaxRetries         int
	Backoff            func(attempt int) time.Duration
}

func (c *Config) setDefaults() {
	if c.ResultsQueue == "" {
		c.ResultsQueue = "adoption_results"
	}
	if c.NotificationsQueue == "" {
		c.NotificationsQueue = "notifications"
	}
	if c.ResultsGroup == "" {
		c.ResultsGroup = "result-consumer"
	}
	if c.NotificationsGroup == "" {
		c.NotificationsGroup = "notification-consumer"
	}
}

type Consumer struct {
	cfg    Config
	broker broker.Broker
	dedup  dedup.Store
	logger *zap.Logger
	// OnResult and OnNotification receive the rendered text.
	OnResult       func(types.ValidationResult, string)
	OnNotification func(types.NotificationMessage, string)
}

func New(cfg Config, b broker.Broker, store dedup.Store, logger *zap.Logger) *Consumer {
	cfg.setDefaults()
	if store == nil {
		store = dedup.NewMemoryStore(dedup.DefaultTTL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{cfg: cfg, broker: b, dedup: store, logger: logger}
}

func (c *Consumer) retry(queue string, next broker.Handler) broker.Handler {
	return broker.WithRetryLimit(c.broker, broker.RetryPolicy{
		MaxRetries:      c.cfg.MaxRetries,
		DeadLetterQueue: broker.DeadLetterQueue(queue),
		Counter:         c.dedup,
		Logger:          c.logger,
	}, next)
}

// Run subscribes to both queues independently; a failure on one stops the
// other.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.consume(ctx, c.cfg.ResultsQueue, c.cfg.ResultsGroup, c.HandleResult)
	})
	g.Go(func() error {
		return c.consume(ctx, c.cfg.NotificationsQueue, c.cfg.NotificationsGroup, c.HandleNotification)
	})
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, queue, group string, h broker.Handler) error {
	c.logger.Info("Starting consumer", zap.String("queue", queue), zap.String("group", group))
	err := c.broker.Consume(ctx, queue, broker.ConsumeOptions{
		Group:    group,
		Prefetch: 1,
		Backoff:  c.cfg.Backoff,
	}, c.retry(queue, h))
	if errors.Is(err, context.Canceled) {
		c.logger.Info("Shutting down consumer", zap.String("queue", queue))
		return nil
	}
	return err
}

func renderedKey(requestID string) string { return "rendered:" + requestID }

// HandleResult renders one validation result. A result already rendered
// for the same request id is acknowledged without rendering it again.
func (c *Consumer) HandleResult(ctx context.Context, d *broker.Delivery) error {
	var r types.ValidationResult
	if err := d.Decode(&r); err != nil {
		c.logger.Error("Failed to unmarshal validation result",
			zap.ByteString("raw", d.Body),
			zap.Error(err),
		)
		return fmt.Errorf("decode result %s: %w", d.ID, err)
	}

	seen, err := c.dedup.Seen(ctx, renderedKey(r.RequestID))
	if err != nil {
		c.logger.Warn("dedup lookup failed, rendering anyway", zap.String("request_id", r.RequestID), zap.Error(err))
	}
	if seen {
		metrics.DuplicateDeliveriesTotal.WithLabelValues(d.Queue).Inc()
		c.logger.Info("Duplicate result ignored", zap.String("request_id", r.RequestID))
		d.Ack()
		return nil
	}

	text := RenderResult(r)
	outcome := "rejected"
	if r.Approved {
		outcome = "approved"
	}
	c.logger.Info("Adoption result",
		zap.String("request_id", r.RequestID),
		zap.String("pet_id", r.PetID),
		zap.Bool("approved", r.Approved),
		zap.Int("score", r.Score),
		zap.Any("criteria", r.Criteria),
		zap.String("message", r.Message),
		zap.Int64("processing_duration_ms", r.ProcessingDurationMs),
		zap.String("summary", text),
	)
	if c.OnResult != nil {
		c.OnResult(r, text)
	}
	metrics.ResultsRenderedTotal.WithLabelValues(outcome).Inc()
	if _, err := c.dedup.Mark(ctx, renderedKey(r.RequestID)); err != nil {
		c.logger.Warn("failed to record rendered result", zap.String("request_id", r.RequestID), zap.Error(err))
	}
	d.Ack()
	return nil
}

func (c *Consumer) HandleNotification(ctx context.Context, d *broker.Delivery) error {
	var n types.NotificationMessage
	if err := d.Decode(&n); err != nil {
		c.logger.Error("Failed to unmarshal notification",
			zap.ByteString("raw", d.Body),
			zap.Error(err),
		)
		return fmt.Errorf("decode notification %s: %w", d.ID, err)
	}

	label := string(n.Category)
	if !n.Category.Valid() {
		label = "unknown"
		c.logger.Warn("Notification has an unknown category",
			zap.String("message_id", d.ID),
			zap.String("category", string(n.Category)),
		)
	}

	t := TreatmentFor(n.Category)
	text := RenderNotification(n)
	if ce := c.logger.Check(t.Level, text); ce != nil {
		ce.Write(
			zap.String("category", string(n.Category)),
			zap.String("request_id", n.RequestID),
			zap.String("source", n.Source),
		)
	}
	if c.OnNotification != nil {
		c.OnNotification(n, text)
	}
	metrics.NotificationsRenderedTotal.WithLabelValues(label).Inc()
	d.Ack()
	return nil
}
