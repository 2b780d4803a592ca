package broker

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/jsndz/petbus/metrics"
)

// AttemptCounter tracks how many times a message has been delivered. A
// shared implementation (redis) keeps the count across process restarts.
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

type RetryPolicy struct {
	// MaxRetries is the number of failed deliveries tolerated. The next
	// delivery is routed to DeadLetterQueue instead of the handler. Zero
	// disables dead-lettering.
	MaxRetries      int
	DeadLetterQueue string
	Counter         AttemptCounter
	Logger          *zap.Logger
	// OnDeadLetter runs after a message was moved to the dead-letter queue.
	OnDeadLetter func(ctx context.Context, d *Delivery)
}

func attemptKey(d *Delivery) string {
	return "attempts:" + d.Queue + ":" + d.ID
}

// WithRetryLimit wraps next with a per-message redelivery ceiling. Failed
// deliveries stay unacknowledged so the broker redelivers them; once the
// ceiling is exceeded the message is copied to the dead-letter queue and
// acknowledged.
func WithRetryLimit(pub Publisher, p RetryPolicy, next Handler) Handler {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, d *Delivery) error {
		attempt := d.Attempt
		if p.Counter != nil {
			n, err := p.Counter.Incr(ctx, attemptKey(d))
			if err != nil {
				log.Warn("attempt counter unavailable, using broker attempt",
					zap.String("queue", d.Queue),
					zap.String("message_id", d.ID),
					zap.Error(err),
				)
			} else if n > attempt {
				attempt = n
			}
		}
		if attempt > 1 {
			metrics.MessageRedeliveriesTotal.WithLabelValues(d.Queue).Inc()
		}

		if p.MaxRetries > 0 && attempt > p.MaxRetries {
			return deadLetter(ctx, pub, p, log, d, attempt)
		}

		err := SafeInvoke(ctx, next, d)
		if d.Acked() {
			if p.Counter != nil {
				if rerr := p.Counter.Reset(ctx, attemptKey(d)); rerr != nil {
					log.Warn("failed to reset attempt counter", zap.String("message_id", d.ID), zap.Error(rerr))
				}
			}
			return err
		}

		metrics.HandlerFailuresTotal.WithLabelValues(d.Queue).Inc()
		log.Error("handler failed, message left unacknowledged",
			zap.String("queue", d.Queue),
			zap.String("message_id", d.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err == nil {
			err = fmt.Errorf("delivery %s not acknowledged", d.ID)
		}
		return err
	}
}

func deadLetter(ctx context.Context, pub Publisher, p RetryPolicy, log *zap.Logger, d *Delivery, attempt int) error {
	dlq := p.DeadLetterQueue
	if dlq == "" {
		dlq = DeadLetterQueue(d.Queue)
	}
	reason := "max_retries_exceeded"

	msg := d.Message.clone()
	msg.Headers[HeaderDeadLetterReason] = reason
	msg.Headers[HeaderOriginalQueue] = d.Queue
	msg.Headers[HeaderAttempts] = strconv.Itoa(attempt - 1)

	if err := pub.Publish(ctx, dlq, msg); err != nil {
		log.Error("failed to publish to dead-letter queue",
			zap.String("queue", d.Queue),
			zap.String("dlq", dlq),
			zap.String("message_id", d.ID),
			zap.Error(err),
		)
		return fmt.Errorf("dead-letter %s: %w", d.ID, err)
	}

	d.Ack()
	metrics.MessagesDeadLetteredTotal.WithLabelValues(d.Queue, reason).Inc()
	log.Error("permanent failure - message sent to DLQ",
		zap.String("queue", d.Queue),
		zap.String("dlq", dlq),
		zap.String("message_id", d.ID),
		zap.Int("failed_attempts", attempt-1),
	)
	if p.Counter != nil {
		if err := p.Counter.Reset(ctx, attemptKey(d)); err != nil {
			log.Warn("failed to reset attempt counter", zap.String("message_id", d.ID), zap.Error(err))
		}
	}
	if p.OnDeadLetter != nil {
		p.OnDeadLetter(ctx, d)
	}
	return nil
}
