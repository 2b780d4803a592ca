package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/metrics"
	"github.com/jsndz/petbus/pkg/broker"
)

func fromKafka(m kafka.Message) broker.Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	id := headers[broker.HeaderMessageID]
	if id == "" {
		id = string(m.Key)
	}
	return broker.Message{
		ID:        id,
		Key:       string(m.Key),
		Body:      m.Value,
		Headers:   headers,
		Timestamp: m.Time,
	}
}

func groupFor(queue string, opts broker.ConsumeOptions) string {
	if opts.Group != "" {
		return opts.Group
	}
	return "petbus-" + queue
}

func (b *Broker) newReader(queue, group string, prefetch int) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           b.cfg.Brokers,
		Topic:             queue,
		GroupID:           group,
		Dialer:            b.dialer,
		MinBytes:          1,
		MaxBytes:          10e6, // 10MB
		MaxWait:           500 * time.Millisecond,
		QueueCapacity:     prefetch,
		HeartbeatInterval: b.cfg.HeartbeatInterval,
		SessionTimeout:    b.cfg.SessionTimeout,
		StartOffset:       kafka.FirstOffset,
	})
}

// Consume fetches one message at a time and commits its offset only after
// the handler acknowledged it. An unacknowledged message is redelivered to
// the same handler after a backoff; if the process stops first, the
// uncommitted offset hands it to the next member of the group.
func (b *Broker) Consume(ctx context.Context, queue string, opts broker.ConsumeOptions, h broker.Handler) error {
	group := groupFor(queue, opts)
	reader := b.newReader(queue, group, opts.EffectivePrefetch())
	if !b.track(reader) {
		reader.Close()
		return broker.ErrClosed
	}
	defer func() {
		b.untrack(reader)
		if err := reader.Close(); err != nil {
			b.logger.Warn("failed to close reader", zap.String("topic", queue), zap.Error(err))
		}
	}()

	lagCtx, stopLag := context.WithCancel(ctx)
	defer stopLag()
	go reportLag(lagCtx, reader, group, queue)

	b.logger.Info("Starting Kafka consumer", zap.String("topic", queue), zap.String("group", group))

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || b.isClosed() {
				return broker.ErrClosed
			}
			metrics.BrokerConsumeFailureTotal.WithLabelValues(queue).Inc()
			b.logger.Error("Error reading Kafka message", zap.String("topic", queue), zap.Error(err))
			if err := broker.Sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		msg := fromKafka(m)
		for attempt := 1; ; attempt++ {
			d := broker.NewDelivery(queue, msg, attempt)
			_ = broker.SafeInvoke(ctx, h, d)
			if d.Acked() {
				if err := reader.CommitMessages(ctx, m); err != nil {
					b.logger.Error("failed to commit offset",
						zap.String("topic", queue),
						zap.Int64("offset", m.Offset),
						zap.Error(err),
					)
				}
				break
			}
			if err := broker.Sleep(ctx, opts.BackoffFor(attempt)); err != nil {
				return err
			}
		}
	}
}

func reportLag(ctx context.Context, r *kafka.Reader, group, topic string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.KafkaConsumerLag.WithLabelValues(group, topic).Set(float64(r.Stats().Lag))
		}
	}
}
