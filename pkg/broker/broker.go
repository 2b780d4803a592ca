// Package broker defines the queue contract shared by the gateway, the
// validation worker and the result consumer, plus an in-process
// implementation. The Kafka-backed implementation lives in pkg/kafka.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrQueueNotDeclared  = errors.New("queue not declared")
	ErrClosed            = fmt.Errorf("%w: broker is closed", ErrBrokerUnavailable)
	ErrHandlerPanic      = errors.New("handler panicked")
)

const (
	HeaderMessageID        = "message-id"
	HeaderDeadLetterReason = "x-dead-letter-reason"
	HeaderOriginalQueue    = "x-original-queue"
	HeaderAttempts         = "x-attempts"

	DeadLetterSuffix = ".dlq"
)

type Message struct {
	ID        string
	Key       string
	Body      []byte
	Headers   map[string]string
	Timestamp time.Time
}

// NewMessage JSON encodes v into a message with a fresh id.
func NewMessage(key string, v any) (Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("marshal message: %w", err)
	}
	return Message{
		ID:        uuid.NewString(),
		Key:       key,
		Body:      body,
		Headers:   map[string]string{},
		Timestamp: time.Now().UTC(),
	}, nil
}

func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Body, v)
}

func (m Message) clone() Message {
	c := m
	c.Body = append([]byte(nil), m.Body...)
	c.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		c.Headers[k] = v
	}
	return c
}

// Delivery is one delivery of a message to a consumer. A handler must call
// Ack once it has fully processed the message; deliveries that are not
// acknowledged are redelivered.
type Delivery struct {
	Message
	Queue       string
	Attempt     int
	Redelivered bool

	acked atomic.Bool
}

func NewDelivery(queue string, msg Message, attempt int) *Delivery {
	return &Delivery{Message: msg, Queue: queue, Attempt: attempt, Redelivered: attempt > 1}
}

func (d *Delivery) Ack()        { d.acked.Store(true) }
func (d *Delivery) Acked() bool { return d.acked.Load() }

type Handler func(ctx context.Context, d *Delivery) error

type ConsumeOptions struct {
	// Group identifies a set of competing consumers. Different groups each
	// receive every message of the queue.
	Group string
	// Prefetch caps the number of unacknowledged messages held by this
	// consumer. Values below 1 are treated as 1.
	Prefetch int
	// Backoff returns the wait before redelivering an unacknowledged
	// message. Nil means DefaultBackoff.
	Backoff func(attempt int) time.Duration
}

// EffectivePrefetch is Prefetch clamped to at least 1.
func (o ConsumeOptions) EffectivePrefetch() int {
	if o.Prefetch < 1 {
		return 1
	}
	return o.Prefetch
}

func (o ConsumeOptions) BackoffFor(attempt int) time.Duration {
	if o.Backoff != nil {
		return o.Backoff(attempt)
	}
	return DefaultBackoff(attempt)
}

type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
}

type Broker interface {
	Publisher
	Declare(ctx context.Context, queue string) error
	Consume(ctx context.Context, queue string, opts ConsumeOptions, h Handler) error
	PurgeAndRecreate(ctx context.Context, queues ...string) error
	Close() error
}

// DeclareAll declares every queue, stopping at the first failure.
func DeclareAll(ctx context.Context, b Broker, queues ...string) error {
	for _, q := range queues {
		if err := b.Declare(ctx, q); err != nil {
			return fmt.Errorf("declare %s: %w", q, err)
		}
	}
	return nil
}

func DeadLetterQueue(queue string) string {
	return queue + DeadLetterSuffix
}

// DefaultBackoff doubles from 100ms and caps at 5s.
func DefaultBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 7 {
		return 5 * time.Second
	}
	d := 100 * time.Millisecond * time.Duration(1<<(attempt-1))
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func NoBackoff(int) time.Duration { return 0 }

// SafeInvoke runs h and converts a panic into an error so a single bad
// message cannot stop a consume loop.
func SafeInvoke(ctx context.Context, h Handler, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
