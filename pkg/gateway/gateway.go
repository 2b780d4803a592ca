// Package gateway accepts adoption requests and owns the notification feed
// shown to users.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jsndz/petbus/metrics"
	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/dedup"
	"github.com/jsndz/petbus/pkg/notify"
	"github.com/jsndz/petbus/pkg/types"
)

var (
	ErrInvalidRequest = errors.New("invalid adoption request")
	ErrThrottled      = errors.New("submission rate exceeded")
)

const source = "gateway"

type Config struct {
	RequestsQueue      string
	ResultsQueue       string
	NotificationsQueue string
	FeedGroup          string
	// Rate is the sustained submissions per second accepted; zero means
	// unlimited.
	Rate  float64
	Burst int
}

func (c *Config) setDefaults() {
	if c.RequestsQueue == "" {
		c.RequestsQueue = "adoption_requests"
	}
	if c.ResultsQueue == "" {
		c.ResultsQueue = "adoption_results"
	}
	if c.NotificationsQueue == "" {
		c.NotificationsQueue = "notifications"
	}
	if c.FeedGroup == "" {
		c.FeedGroup = "gateway-feed"
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

type SubmitInput struct {
	PetID         string
	RequesterID   string
	RequesterName string
	Attributes    map[string]string
}

type Service struct {
	cfg     Config
	broker  broker.Broker
	store   *notify.Store
	limiter *rate.Limiter
	feed    *dedup.MemoryStore
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func New(cfg Config, b broker.Broker, logger *zap.Logger) *Service {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Service{
		cfg:     cfg,
		broker:  b,
		store:   notify.NewStore(notify.DefaultCapacity),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		feed:    dedup.NewMemoryStore(time.Hour),
		logger:  logger,
		tracer:  otel.Tracer("gateway"),
		now:     time.Now,
	}
}

// Close stops background cleanup of the feed dedup keys.
func (s *Service) Close() {
	s.feed.Stop()
}

// Declare makes sure every queue the pipeline uses exists.
func (s *Service) Declare(ctx context.Context) error {
	return broker.DeclareAll(ctx, s.broker,
		s.cfg.RequestsQueue,
		s.cfg.ResultsQueue,
		s.cfg.NotificationsQueue,
		broker.DeadLetterQueue(s.cfg.RequestsQueue),
		broker.DeadLetterQueue(s.cfg.ResultsQueue),
		broker.DeadLetterQueue(s.cfg.NotificationsQueue),
	)
}

// Submit validates the input and enqueues it. It returns as soon as the
// broker confirmed the publish; validation happens asynchronously.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (types.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "submit-adoption")
	defer span.End()

	petID := strings.TrimSpace(in.PetID)
	if petID == "" {
		metrics.AdoptionsSubmittedTotal.WithLabelValues("invalid").Inc()
		return types.Receipt{}, fmt.Errorf("%w: pet_id is required", ErrInvalidRequest)
	}
	attrs, err := ParseAttributes(in.Attributes)
	if err != nil {
		metrics.AdoptionsSubmittedTotal.WithLabelValues("invalid").Inc()
		return types.Receipt{}, err
	}
	if !s.limiter.Allow() {
		metrics.AdoptionsSubmittedTotal.WithLabelValues("throttled").Inc()
		return types.Receipt{}, ErrThrottled
	}

	req := types.AdoptionRequest{
		RequestID:     uuid.NewString(),
		PetID:         petID,
		RequesterID:   strings.TrimSpace(in.RequesterID),
		RequesterName: strings.TrimSpace(in.RequesterName),
		Attributes:    attrs,
		SubmittedAt:   s.now().UTC(),
	}
	span.SetAttributes(attribute.String("request_id", req.RequestID), attribute.String("pet_id", req.PetID))

	msg, err := broker.NewMessage(req.RequestID, req)
	if err != nil {
		return types.Receipt{}, err
	}
	broker.InjectTrace(ctx, &msg)

	if err := s.broker.Publish(ctx, s.cfg.RequestsQueue, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		metrics.AdoptionsSubmittedTotal.WithLabelValues("broker_error").Inc()
		s.logger.Error("Failed to enqueue adoption request",
			zap.String("request_id", req.RequestID),
			zap.String("pet_id", req.PetID),
			zap.Error(err),
		)
		s.announce(ctx, notify.NewMessage(types.CategoryError,
			"Submission failed",
			fmt.Sprintf("Your request to adopt %s could not be sent. Please try again later.", req.PetID),
			req.RequestID, source), false)
		if !errors.Is(err, broker.ErrBrokerUnavailable) {
			err = fmt.Errorf("%w: %w", broker.ErrBrokerUnavailable, err)
		}
		return types.Receipt{}, fmt.Errorf("submit %s: %w", req.RequestID, err)
	}

	metrics.AdoptionsSubmittedTotal.WithLabelValues("accepted").Inc()
	s.announce(ctx, notify.NewMessage(types.CategorySubmitted,
		"Request submitted",
		fmt.Sprintf("Your request to adopt %s was received and is being reviewed", req.PetID),
		req.RequestID, source), true)
	s.logger.Info("Adoption request accepted",
		zap.String("request_id", req.RequestID),
		zap.String("pet_id", req.PetID),
	)

	return types.Receipt{
		RequestID:   req.RequestID,
		Status:      types.StatusAccepted,
		SubmittedAt: req.SubmittedAt,
	}, nil
}

// announce appends n to the local feed and, when broadcast is set, also
// publishes it so the result consumer sees it. The follower skips it later
// because its id is already recorded.
func (s *Service) announce(ctx context.Context, n types.NotificationMessage, broadcast bool) {
	s.append(ctx, n)
	if !broadcast {
		return
	}
	if err := notify.Publish(ctx, s.broker, s.cfg.NotificationsQueue, n); err != nil {
		s.logger.Warn("failed to broadcast notification",
			zap.String("notification_id", n.NotificationID),
			zap.Error(err),
		)
	}
}

func (s *Service) append(ctx context.Context, n types.NotificationMessage) {
	if _, err := s.feed.Mark(ctx, n.NotificationID); err != nil {
		s.logger.Warn("feed dedup failed", zap.String("notification_id", n.NotificationID), zap.Error(err))
	}
	s.store.Append(notify.FromMessage(n))
	metrics.NotificationStoreSize.Set(float64(s.store.Len()))
}

func (s *Service) ListNotifications() []notify.Notification {
	return s.store.List()
}

func (s *Service) ClearNotifications() {
	s.store.Clear()
	metrics.NotificationStoreSize.Set(0)
}

// ResetPipeline discards every unconsumed request and result and empties the
// feed.
func (s *Service) ResetPipeline(ctx context.Context) error {
	err := s.broker.PurgeAndRecreate(ctx, s.cfg.RequestsQueue, s.cfg.ResultsQueue)
	if err != nil {
		metrics.PipelineResetsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("Pipeline reset failed", zap.Error(err))
		s.announce(ctx, notify.NewMessage(types.CategoryError,
			"Reset failed",
			"The pipeline could not be reset: "+err.Error(),
			"", source), false)
		if !errors.Is(err, broker.ErrBrokerUnavailable) {
			err = fmt.Errorf("%w: %w", broker.ErrBrokerUnavailable, err)
		}
		return fmt.Errorf("reset pipeline: %w", err)
	}

	s.store.Clear()
	metrics.PipelineResetsTotal.WithLabelValues("ok").Inc()
	s.logger.Warn("Pipeline reset",
		zap.String("requests_queue", s.cfg.RequestsQueue),
		zap.String("results_queue", s.cfg.ResultsQueue),
	)
	s.announce(ctx, notify.NewMessage(types.CategorySystem,
		"Pipeline reset",
		"All pending requests and results were discarded",
		"", source), false)
	return nil
}

// FollowNotifications appends every message of the notifications queue to
// the local feed until ctx is cancelled. It uses its own consumer group so
// the result consumer still sees every notification.
func (s *Service) FollowNotifications(ctx context.Context) error {
	err := s.broker.Consume(ctx, s.cfg.NotificationsQueue, broker.ConsumeOptions{
		Group:    s.cfg.FeedGroup,
		Prefetch: 16,
	}, s.handleFeed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) handleFeed(ctx context.Context, d *broker.Delivery) error {
	var n types.NotificationMessage
	if err := d.Decode(&n); err != nil {
		// Nothing can ever make this payload readable.
		s.logger.Error("Dropping undecodable notification", zap.String("message_id", d.ID), zap.Error(err))
		d.Ack()
		return nil
	}
	if !n.Category.Valid() {
		s.logger.Warn("Dropping notification with unknown category",
			zap.String("message_id", d.ID),
			zap.String("category", string(n.Category)),
		)
		d.Ack()
		return nil
	}
	if n.NotificationID == "" {
		n.NotificationID = d.ID
	}
	first, err := s.feed.Mark(ctx, n.NotificationID)
	if err != nil {
		return err
	}
	if first {
		s.store.Append(notify.FromMessage(n))
		metrics.NotificationStoreSize.Set(float64(s.store.Len()))
	}
	d.Ack()
	return nil
}
