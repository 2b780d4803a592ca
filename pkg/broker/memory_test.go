package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueue = "adoption_requests"

func newDeclared(t *testing.T, queues ...string) *MemoryBroker {
	t.Helper()
	b := NewMemoryBroker()
	t.Cleanup(func() { b.Close() })
	require.NoError(t, DeclareAll(context.Background(), b, queues...))
	return b
}

func publishN(t *testing.T, b Broker, queue string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		msg, err := NewMessage(fmt.Sprintf("k%d", i), map[string]int{"n": i})
		require.NoError(t, err)
		require.NoError(t, b.Publish(context.Background(), queue, msg))
	}
}

func consumeAsync(ctx context.Context, b Broker, queue string, opts ConsumeOptions, h Handler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Consume(ctx, queue, opts, h) }()
	return done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestMemoryBroker_PublishConsumeAck(t *testing.T) {
	b := newDeclared(t, testQueue)
	publishN(t, b, testQueue, 3)
	assert.Equal(t, 3, b.Pending(testQueue, "worker"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got atomic.Int32
	done := consumeAsync(ctx, b, testQueue, ConsumeOptions{Group: "worker", Prefetch: 1}, func(ctx context.Context, d *Delivery) error {
		var body map[string]int
		assert.NoError(t, d.Decode(&body))
		assert.Equal(t, 1, d.Attempt)
		assert.False(t, d.Redelivered)
		assert.Equal(t, d.ID, d.Headers[HeaderMessageID])
		got.Add(1)
		d.Ack()
		return nil
	})

	waitFor(t, func() bool { return got.Load() == 3 })
	assert.Equal(t, 0, b.Pending(testQueue, "worker"))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMemoryBroker_CompetingConsumersShareWork(t *testing.T) {
	b := newDeclared(t, testQueue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]int{}
	perConsumer := [2]atomic.Int32{}
	for i := 0; i < 2; i++ {
		i := i
		consumeAsync(ctx, b, testQueue, ConsumeOptions{Group: "worker", Prefetch: 1}, func(ctx context.Context, d *Delivery) error {
			mu.Lock()
			seen[d.ID]++
			mu.Unlock()
			perConsumer[i].Add(1)
			time.Sleep(time.Millisecond)
			d.Ack()
			return nil
		})
	}

	publishN(t, b, testQueue, 20)
	waitFor(t, func() bool { return perConsumer[0].Load()+perConsumer[1].Load() == 20 })

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s delivered more than once", id)
	}
}

func TestMemoryBroker_GroupsEachReceiveEveryMessage(t *testing.T) {
	b := newDeclared(t, "notifications")
	publishN(t, b, "notifications", 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var a, c atomic.Int32
	consumeAsync(ctx, b, "notifications", ConsumeOptions{Group: "feed"}, func(ctx context.Context, d *Delivery) error {
		a.Add(1)
		d.Ack()
		return nil
	})
	consumeAsync(ctx, b, "notifications", ConsumeOptions{Group: "renderer"}, func(ctx context.Context, d *Delivery) error {
		c.Add(1)
		d.Ack()
		return nil
	})

	waitFor(t, func() bool { return a.Load() == 4 && c.Load() == 4 })
}

func TestMemoryBroker_UnackedIsRedelivered(t *testing.T) {
	b := newDeclared(t, testQueue)
	publishN(t, b, testQueue, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan *Delivery, 4)
	consumeAsync(ctx, b, testQueue, ConsumeOptions{Group: "worker", Backoff: NoBackoff}, func(ctx context.Context, d *Delivery) error {
		attempts <- d
		if d.Attempt < 3 {
			return fmt.Errorf("transient")
		}
		d.Ack()
		return nil
	})

	var last *Delivery
	for i := 1; i <= 3; i++ {
		select {
		case last = <-attempts:
			assert.Equal(t, i, last.Attempt)
			assert.Equal(t, i > 1, last.Redelivered)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for attempt %d", i)
		}
	}
	waitFor(t, func() bool { return b.Pending(testQueue, "worker") == 0 })
}

func TestMemoryBroker_PanicDoesNotStopLoop(t *testing.T) {
	b := newDeclared(t, testQueue)
	publishN(t, b, testQueue, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	consumeAsync(ctx, b, testQueue, ConsumeOptions{Group: "worker", Backoff: NoBackoff}, func(ctx context.Context, d *Delivery) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		d.Ack()
		return nil
	})

	waitFor(t, func() bool { return b.Pending(testQueue, "worker") == 0 })
	assert.Equal(t, int32(3), calls.Load())
}

func TestMemoryBroker_PublishErrors(t *testing.T) {
	b := NewMemoryBroker()
	msg, err := NewMessage("k", "v")
	require.NoError(t, err)

	assert.ErrorIs(t, b.Publish(context.Background(), "missing", msg), ErrQueueNotDeclared)

	require.NoError(t, b.Declare(context.Background(), testQueue))
	require.NoError(t, b.Declare(context.Background(), testQueue))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), testQueue, msg), ErrBrokerUnavailable)
	assert.ErrorIs(t, b.Declare(context.Background(), testQueue), ErrBrokerUnavailable)
}

func TestMemoryBroker_CloseStopsConsumers(t *testing.T) {
	b := newDeclared(t, testQueue)
	done := consumeAsync(context.Background(), b, testQueue, ConsumeOptions{Group: "worker"}, func(ctx context.Context, d *Delivery) error {
		d.Ack()
		return nil
	})

	require.NoError(t, b.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after Close")
	}
}

func TestMemoryBroker_PurgeAndRecreateDiscardsBacklog(t *testing.T) {
	b := newDeclared(t, testQueue, "adoption_results")
	publishN(t, b, testQueue, 5)
	publishN(t, b, "adoption_results", 2)

	require.NoError(t, b.PurgeAndRecreate(context.Background(), testQueue, "adoption_results"))

	assert.Equal(t, 0, b.Pending(testQueue, "worker"))
	assert.Equal(t, 0, b.Pending("adoption_results", "renderer"))
	assert.Empty(t, b.Messages(testQueue))

	publishN(t, b, testQueue, 1)
	assert.Equal(t, 1, b.Pending(testQueue, "worker"))
}

func TestMemoryBroker_InFlightMessageDoesNotSurvivePurge(t *testing.T) {
	b := newDeclared(t, testQueue)
	publishN(t, b, testQueue, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []string
	)
	done := consumeAsync(ctx, b, testQueue, ConsumeOptions{Group: "worker", Backoff: NoBackoff}, func(ctx context.Context, d *Delivery) error {
		mu.Lock()
		seen = append(seen, fmt.Sprintf("%s/%d", d.Key, d.Attempt))
		first := len(seen) == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
			return fmt.Errorf("failed mid-flight")
		}
		d.Ack()
		return nil
	})

	<-started
	require.NoError(t, b.PurgeAndRecreate(context.Background(), testQueue))
	close(release)

	waitFor(t, func() bool { return b.Pending(testQueue, "worker") == 0 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, b.Pending(testQueue, "worker"))

	msg, err := NewMessage("fresh", map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), testQueue, msg))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"k0/1", "fresh/1"}, seen)
	mu.Unlock()

	cancel()
	<-done
}

func TestDefaultBackoffCaps(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, DefaultBackoff(0))
	assert.Equal(t, 400*time.Millisecond, DefaultBackoff(3))
	assert.Equal(t, 5*time.Second, DefaultBackoff(30))
}
