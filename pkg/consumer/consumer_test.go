package consumer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/dedup"
	"github.com/jsndz/petbus/pkg/types"
)

func newObserved(t *testing.T, b broker.Broker, cfg Config) (*Consumer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return New(cfg, b, dedup.NewMemoryStore(time.Minute), zap.New(core)), logs
}

func delivery(t *testing.T, queue string, v any) *broker.Delivery {
	t.Helper()
	msg, err := broker.NewMessage("k", v)
	require.NoError(t, err)
	return broker.NewDelivery(queue, msg, 1)
}

func sampleResult() types.ValidationResult {
	return types.ValidationResult{
		RequestID: "req-1",
		PetID:     "Max_003",
		Approved:  true,
		Score:     4,
		Criteria: map[string]bool{
			"time-availability":                true,
			"experience-sufficient":            true,
			"housing-suitable":                 false,
			"compatible-with-existing-animals": true,
			"financial-stability":              true,
		},
		Message: "Adoption approved! Max is waiting for you.",
	}
}

func TestRenderResult(t *testing.T) {
	out := RenderResult(sampleResult())

	assert.Contains(t, out, "request req-1 for pet Max_003: APPROVED (score 4/5)")
	assert.Contains(t, out, "Adoption approved! Max is waiting for you.")
	assert.Regexp(t, `housing-suitable\s+fail`, out)
	assert.Less(t, strings.Index(out, "compatible-with-existing-animals"), strings.Index(out, "time-availability"))
}

func TestTreatmentFor(t *testing.T) {
	assert.Equal(t, zapcore.ErrorLevel, TreatmentFor(types.CategoryError).Level)
	assert.Equal(t, "APPROVED", TreatmentFor(types.CategoryApproved).Label)
	assert.Equal(t, Treatment{Label: "CUSTOM", Level: zapcore.InfoLevel}, TreatmentFor("custom"))
}

func TestHandleResult_RendersAndAcks(t *testing.T) {
	c, logs := newObserved(t, broker.NewMemoryBroker(), Config{})

	var rendered []string
	c.OnResult = func(_ types.ValidationResult, text string) { rendered = append(rendered, text) }

	d := delivery(t, "adoption_results", sampleResult())
	require.NoError(t, c.HandleResult(context.Background(), d))
	assert.True(t, d.Acked())
	require.Len(t, rendered, 1)

	entries := logs.FilterMessage("Adoption result").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, true, entries[0].ContextMap()["approved"])
}

func TestHandleResult_DeduplicatesByRequestID(t *testing.T) {
	c, logs := newObserved(t, broker.NewMemoryBroker(), Config{})

	calls := 0
	c.OnResult = func(types.ValidationResult, string) { calls++ }

	for i := 0; i < 3; i++ {
		d := delivery(t, "adoption_results", sampleResult())
		require.NoError(t, c.HandleResult(context.Background(), d))
		assert.True(t, d.Acked())
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, logs.FilterMessage("Duplicate result ignored").Len())
}

func TestHandleResult_PanicLeavesUnackedAndRendersOnRetry(t *testing.T) {
	c, _ := newObserved(t, broker.NewMemoryBroker(), Config{})

	calls := 0
	c.OnResult = func(types.ValidationResult, string) {
		calls++
		if calls == 1 {
			panic("display broke")
		}
	}

	d := delivery(t, "adoption_results", sampleResult())
	err := broker.SafeInvoke(context.Background(), c.HandleResult, d)
	require.ErrorIs(t, err, broker.ErrHandlerPanic)
	assert.False(t, d.Acked())

	retry := delivery(t, "adoption_results", sampleResult())
	require.NoError(t, c.HandleResult(context.Background(), retry))
	assert.True(t, retry.Acked())
	assert.Equal(t, 2, calls)
}

func TestHandleResult_BadPayload(t *testing.T) {
	c, logs := newObserved(t, broker.NewMemoryBroker(), Config{})

	d := broker.NewDelivery("adoption_results", broker.Message{ID: "x", Body: []byte("nope")}, 1)
	assert.Error(t, c.HandleResult(context.Background(), d))
	assert.False(t, d.Acked())
	assert.Equal(t, 1, logs.FilterMessage("Failed to unmarshal validation result").Len())
}

func TestHandleNotification_UsesCategoryLevel(t *testing.T) {
	c, logs := newObserved(t, broker.NewMemoryBroker(), Config{})

	d := delivery(t, "notifications", types.NotificationMessage{
		NotificationID: "n-1",
		Title:          "Processing failed",
		Message:        "broker unavailable",
		Category:       types.CategoryError,
		RequestID:      "req-9",
	})
	require.NoError(t, c.HandleNotification(context.Background(), d))
	assert.True(t, d.Acked())

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "[ERROR] Processing failed: broker unavailable", entries[0].Message)
	assert.Equal(t, "req-9", entries[0].ContextMap()["request_id"])
}

func TestHandleNotification_FlagsUnknownCategory(t *testing.T) {
	c, logs := newObserved(t, broker.NewMemoryBroker(), Config{})

	d := delivery(t, "notifications", types.NotificationMessage{
		NotificationID: "n-2",
		Title:          "Party",
		Message:        "Cake in the lobby",
		Category:       types.Category("celebration"),
	})
	require.NoError(t, c.HandleNotification(context.Background(), d))
	assert.True(t, d.Acked())

	warned := logs.FilterMessage("Notification has an unknown category")
	require.Equal(t, 1, warned.Len())
	assert.Equal(t, zapcore.WarnLevel, warned.All()[0].Level)
	assert.Equal(t, 1, logs.FilterMessage("[CELEBRATION] Party: Cake in the lobby").Len())
}

func TestRun_ConsumesBothQueues(t *testing.T) {
	b := broker.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, broker.DeclareAll(ctx, b, "adoption_results", "notifications",
		broker.DeadLetterQueue("adoption_results"), broker.DeadLetterQueue("notifications")))

	c, _ := newObserved(t, b, Config{})
	var mu sync.Mutex
	var results, notes int
	c.OnResult = func(types.ValidationResult, string) { mu.Lock(); results++; mu.Unlock() }
	c.OnNotification = func(types.NotificationMessage, string) { mu.Lock(); notes++; mu.Unlock() }

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	r, err := broker.NewMessage("req-1", sampleResult())
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "adoption_results", r))
	for i := 0; i < 2; i++ {
		n, err := broker.NewMessage("", types.NotificationMessage{NotificationID: "n", Category: types.CategorySystem})
		require.NoError(t, err)
		require.NoError(t, b.Publish(ctx, "notifications", n))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return results == 1 && notes == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
