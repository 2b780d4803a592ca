package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/pkg/broker"
)

func (b *Broker) withController(ctx context.Context, fn func(*kafka.Conn) error) error {
	if b.isClosed() {
		return broker.ErrClosed
	}
	conn, err := b.dialer.DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", broker.ErrBrokerUnavailable, b.cfg.Brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("%w: find controller: %v", broker.ErrBrokerUnavailable, err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	cc, err := b.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial controller %s: %v", broker.ErrBrokerUnavailable, addr, err)
	}
	defer cc.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = cc.SetDeadline(deadline)
	}
	return fn(cc)
}

func (b *Broker) topicConfig(queue string) kafka.TopicConfig {
	return kafka.TopicConfig{
		Topic:             queue,
		NumPartitions:     b.cfg.Partitions,
		ReplicationFactor: b.cfg.ReplicationFactor,
	}
}

// Declare creates the topic when it does not exist yet.
func (b *Broker) Declare(ctx context.Context, queue string) error {
	return b.withController(ctx, func(conn *kafka.Conn) error {
		err := conn.CreateTopics(b.topicConfig(queue))
		if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("%w: create topic %s: %v", broker.ErrBrokerUnavailable, queue, err)
		}
		b.logger.Info("Topic declared", zap.String("topic", queue))
		return nil
	})
}

// PurgeAndRecreate deletes the topics and creates them again. Topic deletion
// is asynchronous on the broker side, so creation is retried while the old
// topic is still being removed.
func (b *Broker) PurgeAndRecreate(ctx context.Context, queues ...string) error {
	return b.withController(ctx, func(conn *kafka.Conn) error {
		if err := conn.DeleteTopics(queues...); err != nil && !errors.Is(err, kafka.UnknownTopicOrPartition) {
			return fmt.Errorf("%w: delete topics: %v", broker.ErrBrokerUnavailable, err)
		}
		for _, q := range queues {
			if err := b.recreate(ctx, conn, q); err != nil {
				return err
			}
			b.logger.Warn("Topic purged and recreated", zap.String("topic", q))
		}
		return nil
	})
}

func (b *Broker) recreate(ctx context.Context, conn *kafka.Conn, queue string) error {
	const attempts = 20
	var err error
	for i := 0; i < attempts; i++ {
		err = conn.CreateTopics(b.topicConfig(queue))
		if err == nil {
			return nil
		}
		if !errors.Is(err, kafka.TopicAlreadyExists) {
			break
		}
		if serr := broker.Sleep(ctx, 500*time.Millisecond); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%w: recreate topic %s: %v", broker.ErrBrokerUnavailable, queue, err)
}
