package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pending struct {
	msg     Message
	attempt int
	// q is the queue instance the message was claimed from. A purge
	// replaces the instance, which orphans anything still in flight.
	q *memQueue
}

type memGroup struct {
	next     int
	requeued []pending
}

type memQueue struct {
	log    []Message
	groups map[string]*memGroup
}

func (q *memQueue) group(name string) *memGroup {
	g, ok := q.groups[name]
	if !ok {
		g = &memGroup{}
		q.groups[name] = g
	}
	return g
}

// MemoryBroker is a single-process Broker. Each queue keeps an append-only
// log; every consumer group reads it through its own cursor, so consumers in
// one group compete while separate groups each see every message.
type MemoryBroker struct {
	mu      sync.Mutex
	queues  map[string]*memQueue
	closed  bool
	changed chan struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:  make(map[string]*memQueue),
		changed: make(chan struct{}),
	}
}

// broadcast wakes every waiting consumer. Callers hold b.mu.
func (b *MemoryBroker) broadcast() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func (b *MemoryBroker) Declare(ctx context.Context, queue string) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = &memQueue{groups: make(map[string]*memGroup)}
	}
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, queue string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotDeclared, queue)
	}

	m := msg.clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	m.Headers[HeaderMessageID] = m.ID
	q.log = append(q.log, m)
	b.broadcast()
	return nil
}

// claim hands out the next message for group. When nothing is available it
// returns a channel that is closed on the next state change.
func (b *MemoryBroker) claim(queue, group string) (pending, bool, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return pending{}, false, nil, ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return pending{}, false, nil, fmt.Errorf("%w: %s", ErrQueueNotDeclared, queue)
	}
	g := q.group(group)
	if len(g.requeued) > 0 {
		p := g.requeued[0]
		g.requeued = g.requeued[1:]
		return p, true, nil, nil
	}
	if g.next < len(q.log) {
		p := pending{msg: q.log[g.next].clone(), attempt: 1, q: q}
		g.next++
		return p, true, nil, nil
	}
	return pending{}, false, b.changed, nil
}

func (b *MemoryBroker) requeue(queue, group string, ps ...pending) {
	if len(ps) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok || b.closed {
		return
	}
	live := make([]pending, 0, len(ps))
	for _, p := range ps {
		if p.q == q {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return
	}
	g := q.group(group)
	g.requeued = append(live, g.requeued...)
	b.broadcast()
}

// Consume delivers messages of queue to h one at a time until ctx is done
// or the broker is closed. Unacknowledged deliveries go back to the front of
// the group with their attempt counter incremented.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, opts ConsumeOptions, h Handler) error {
	prefetch := opts.EffectivePrefetch()
	var buf []pending
	defer func() { b.requeue(queue, opts.Group, buf...) }()

	for {
		for len(buf) < prefetch {
			p, ok, wait, err := b.claim(queue, opts.Group)
			if err != nil {
				return err
			}
			if !ok {
				if len(buf) == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-wait:
					}
					continue
				}
				break
			}
			buf = append(buf, p)
		}

		p := buf[0]
		buf = buf[1:]
		d := NewDelivery(queue, p.msg, p.attempt)
		_ = SafeInvoke(ctx, h, d)
		if d.Acked() {
			continue
		}

		p.attempt++
		if err := Sleep(ctx, opts.BackoffFor(p.attempt-1)); err != nil {
			b.requeue(queue, opts.Group, p)
			return err
		}
		b.requeue(queue, opts.Group, p)
	}
}

func (b *MemoryBroker) PurgeAndRecreate(ctx context.Context, queues ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	for _, name := range queues {
		b.queues[name] = &memQueue{groups: make(map[string]*memGroup)}
	}
	b.broadcast()
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.broadcast()
	return nil
}

// Pending reports how many messages of queue have not been acknowledged by
// group. A group that never consumed sees the whole log.
func (b *MemoryBroker) Pending(queue, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return 0
	}
	g, ok := q.groups[group]
	if !ok {
		return len(q.log)
	}
	return len(q.log) - g.next + len(g.requeued)
}

// Messages returns a copy of everything published to queue since it was
// last (re)created.
func (b *MemoryBroker) Messages(queue string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	out := make([]Message, len(q.log))
	for i, m := range q.log {
		out[i] = m.clone()
	}
	return out
}
