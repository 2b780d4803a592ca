package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/catalog"
	"github.com/jsndz/petbus/pkg/policy"
	"github.com/jsndz/petbus/pkg/types"
)

const (
	requestsQ      = "adoption_requests"
	resultsQ       = "adoption_results"
	notificationsQ = "notifications"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type stateLog struct {
	mu     sync.Mutex
	states map[string][]State
}

func (s *stateLog) record(id string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = map[string][]State{}
	}
	s.states[id] = append(s.states[id], st)
}

func (s *stateLog) get(id string) []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states[id]...)
}

func newBroker(t *testing.T, queues ...string) *broker.MemoryBroker {
	t.Helper()
	b := broker.NewMemoryBroker()
	require.NoError(t, broker.DeclareAll(context.Background(), b, queues...))
	t.Cleanup(func() { b.Close() })
	return b
}

func allQueues() []string {
	return []string{requestsQ, resultsQ, notificationsQ, broker.DeadLetterQueue(requestsQ)}
}

func newWorker(t *testing.T, b broker.Broker, cfg Config, opts ...Option) (*Worker, *stateLog) {
	t.Helper()
	p, err := policy.New(policy.Options{Variant: policy.IncomeThreshold})
	require.NoError(t, err)
	states := &stateLog{}
	opts = append([]Option{
		WithRand(policy.Fixed{}),
		WithClock(func() time.Time { return fixedNow }),
		WithStateHook(states.record),
	}, opts...)
	return New(cfg, b, p, catalog.Default(), opts...), states
}

func incomeOf(n int64) *int64 { return &n }

func requestDelivery(t *testing.T, id string, income int64) *broker.Delivery {
	t.Helper()
	req := types.AdoptionRequest{
		RequestID:     id,
		PetID:         "Luna_002",
		RequesterID:   "user-1",
		RequesterName: "Maria",
		Attributes:    types.Attributes{DeclaredIncome: incomeOf(income)},
		SubmittedAt:   fixedNow.Add(-1500 * time.Millisecond),
	}
	msg, err := broker.NewMessage(id, req)
	require.NoError(t, err)
	return broker.NewDelivery(requestsQ, msg, 1)
}

func results(t *testing.T, b *broker.MemoryBroker) []types.ValidationResult {
	t.Helper()
	var out []types.ValidationResult
	for _, m := range b.Messages(resultsQ) {
		var r types.ValidationResult
		require.NoError(t, m.Decode(&r))
		out = append(out, r)
	}
	return out
}

func notifications(t *testing.T, b *broker.MemoryBroker) []types.NotificationMessage {
	t.Helper()
	var out []types.NotificationMessage
	for _, m := range b.Messages(notificationsQ) {
		var n types.NotificationMessage
		require.NoError(t, m.Decode(&n))
		out = append(out, n)
	}
	return out
}

func TestHandle_PublishesResultBeforeAck(t *testing.T) {
	b := newBroker(t, allQueues()...)
	w, states := newWorker(t, b, Config{ID: "w-1"})

	d := requestDelivery(t, "req-1", 2000000)
	require.NoError(t, w.Handle(context.Background(), d))
	assert.True(t, d.Acked())

	res := results(t, b)
	require.Len(t, res, 1)
	assert.Equal(t, "req-1", res[0].RequestID)
	assert.True(t, res[0].Approved)
	assert.Equal(t, 2, res[0].Score)
	assert.Equal(t, int64(1500), res[0].ProcessingDurationMs)
	assert.Equal(t, policy.IncomeThreshold, res[0].Policy)
	assert.Equal(t, "w-1", res[0].WorkerID)

	assert.Equal(t, []State{
		StateReceived, StateValidating, StateApproved, StatePublished, StateAcknowledged,
	}, states.get("req-1"))

	ns := notifications(t, b)
	require.Len(t, ns, 1)
	assert.Equal(t, types.CategoryApproved, ns[0].Category)
	assert.Equal(t, "req-1", ns[0].RequestID)
}

func TestHandle_RejectionIsNotAnError(t *testing.T) {
	b := newBroker(t, allQueues()...)
	w, states := newWorker(t, b, Config{})

	d := requestDelivery(t, "req-2", 500000)
	require.NoError(t, w.Handle(context.Background(), d))
	assert.True(t, d.Acked())

	res := results(t, b)
	require.Len(t, res, 1)
	assert.False(t, res[0].Approved)
	assert.Contains(t, res[0].Message, "1,600,000")
	assert.Contains(t, states.get("req-2"), StateRejected)
}

func TestHandle_PublishFailureLeavesUnacked(t *testing.T) {
	b := newBroker(t, requestsQ, notificationsQ)
	w, states := newWorker(t, b, Config{})

	d := requestDelivery(t, "req-3", 2000000)
	err := w.Handle(context.Background(), d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrQueueNotDeclared))
	assert.False(t, d.Acked())
	assert.Equal(t, StateFailed, states.get("req-3")[len(states.get("req-3"))-1])

	seen, err := w.dedup.Seen(context.Background(), processedKey("req-3"))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestHandle_DuplicateIsAcknowledgedOnce(t *testing.T) {
	b := newBroker(t, allQueues()...)
	w, _ := newWorker(t, b, Config{})

	first := requestDelivery(t, "req-4", 2000000)
	require.NoError(t, w.Handle(context.Background(), first))

	again := requestDelivery(t, "req-4", 2000000)
	require.NoError(t, w.Handle(context.Background(), again))
	assert.True(t, again.Acked())

	assert.Len(t, results(t, b), 1)
}

func TestHandle_Verbosity(t *testing.T) {
	cases := []struct {
		verbosity Verbosity
		want      []types.Category
	}{
		{VerbosityNone, nil},
		{VerbosityOutcome, []types.Category{types.CategoryApproved}},
		{VerbosityAll, []types.Category{types.CategoryProcessing, types.CategoryApproved}},
	}
	for _, tc := range cases {
		t.Run(string(tc.verbosity), func(t *testing.T) {
			b := newBroker(t, allQueues()...)
			w, _ := newWorker(t, b, Config{Verbosity: tc.verbosity})

			require.NoError(t, w.Handle(context.Background(), requestDelivery(t, "req-v", 2000000)))

			var got []types.Category
			for _, n := range notifications(t, b) {
				got = append(got, n.Category)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHandle_ProcessTimeout(t *testing.T) {
	b := newBroker(t, allQueues()...)
	w, _ := newWorker(t, b, Config{ProcessTimeout: 20 * time.Millisecond},
		WithDelay(FixedDelay(time.Minute)))

	d := requestDelivery(t, "req-5", 2000000)
	err := w.Handle(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, d.Acked())
	assert.Empty(t, results(t, b))
}

func TestHandle_UndecodableBody(t *testing.T) {
	b := newBroker(t, allQueues()...)
	w, _ := newWorker(t, b, Config{})

	d := broker.NewDelivery(requestsQ, broker.Message{ID: "bad", Body: []byte("{not json")}, 1)
	assert.Error(t, w.Handle(context.Background(), d))
	assert.False(t, d.Acked())
}

func TestRun_ProcessesEveryRequestOnce(t *testing.T) {
	b := newBroker(t, allQueues()...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		d := requestDelivery(t, id, 2000000)
		require.NoError(t, b.Publish(ctx, requestsQ, d.Message))
	}

	w1, _ := newWorker(t, b, Config{ID: "w-1"})
	w2, _ := newWorker(t, b, Config{ID: "w-2"})
	done := make(chan error, 1)
	go func() { done <- RunAll(ctx, w1, w2) }()

	require.Eventually(t, func() bool {
		return len(b.Messages(resultsQ)) == len(ids)
	}, 2*time.Second, 10*time.Millisecond)

	seen := map[string]bool{}
	for _, r := range results(t, b) {
		assert.False(t, seen[r.RequestID], "duplicate result for %s", r.RequestID)
		seen[r.RequestID] = true
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestRun_DeadLettersPoisonMessage(t *testing.T) {
	b := newBroker(t, allQueues()...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, requestsQ, broker.Message{ID: "poison", Key: "req-p", Body: []byte("{")}))

	w, states := newWorker(t, b, Config{MaxRetries: 2, Backoff: broker.NoBackoff})
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, w.Run(ctx))
	}()

	require.Eventually(t, func() bool {
		return len(b.Messages(broker.DeadLetterQueue(requestsQ))) == 1
	}, 2*time.Second, 10*time.Millisecond)

	dlq := b.Messages(broker.DeadLetterQueue(requestsQ))[0]
	assert.Equal(t, requestsQ, dlq.Headers[broker.HeaderOriginalQueue])
	assert.Equal(t, "2", dlq.Headers[broker.HeaderAttempts])

	require.Eventually(t, func() bool {
		for _, n := range notifications(t, b) {
			if n.Category == types.CategoryError && n.RequestID == "req-p" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, states.get("req-p"), StateDeadLettered)

	cancel()
	<-done
}

func TestParseVerbosity(t *testing.T) {
	v, ok := ParseVerbosity("")
	assert.True(t, ok)
	assert.Equal(t, VerbosityOutcome, v)

	v, ok = ParseVerbosity("all")
	assert.True(t, ok)
	assert.Equal(t, VerbosityAll, v)

	_, ok = ParseVerbosity("loud")
	assert.False(t, ok)
}
