package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/metrics"
	"github.com/jsndz/petbus/pkg/broker"
)

func toKafka(queue string, msg broker.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	headers = append(headers, kafka.Header{Key: broker.HeaderMessageID, Value: []byte(msg.ID)})
	for k, v := range msg.Headers {
		if k == broker.HeaderMessageID {
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	key := msg.Key
	if key == "" {
		key = msg.ID
	}
	return kafka.Message{
		Topic:   queue,
		Key:     []byte(key),
		Value:   msg.Body,
		Headers: headers,
		Time:    msg.Timestamp,
	}
}

// Publish writes msg and waits for acknowledgement from all in-sync
// replicas.
func (b *Broker) Publish(ctx context.Context, queue string, msg broker.Message) error {
	if b.isClosed() {
		return broker.ErrClosed
	}
	err := b.writer.WriteMessages(ctx, toKafka(queue, msg))
	if err != nil {
		b.logger.Error("failed to write message",
			zap.String("topic", queue),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		metrics.BrokerPublishFailureTotal.WithLabelValues(queue).Inc()
		return fmt.Errorf("%w: publish to %s: %v", broker.ErrBrokerUnavailable, queue, err)
	}
	metrics.BrokerPublishSuccessTotal.WithLabelValues(queue).Inc()
	return nil
}
