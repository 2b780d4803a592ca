package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/notify"
	"github.com/jsndz/petbus/pkg/types"
)

func newService(t *testing.T, cfg Config) (*Service, *broker.MemoryBroker) {
	t.Helper()
	b := broker.NewMemoryBroker()
	t.Cleanup(func() { b.Close() })
	s := New(cfg, b, nil)
	require.NoError(t, s.Declare(context.Background()))
	return s, b
}

func TestSubmit_EnqueuesAndReturnsReceipt(t *testing.T) {
	s, b := newService(t, Config{})

	receipt, err := s.Submit(context.Background(), SubmitInput{
		PetID:         " Luna_002 ",
		RequesterID:   "user-1",
		RequesterName: "Maria",
		Attributes: map[string]string{
			AttrDeclaredIncome:  "2000000",
			AttrHousingType:     "Apartment",
			AttrPriorExperience: "true",
			"favourite_color":   "blue",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusAccepted, receipt.Status)
	assert.NotEmpty(t, receipt.RequestID)

	msgs := b.Messages("adoption_requests")
	require.Len(t, msgs, 1)
	var req types.AdoptionRequest
	require.NoError(t, msgs[0].Decode(&req))
	assert.Equal(t, receipt.RequestID, req.RequestID)
	assert.Equal(t, "Luna_002", req.PetID)
	income, ok := req.Attributes.Income()
	require.True(t, ok)
	assert.Equal(t, int64(2000000), income)
	assert.Equal(t, "apartment", req.Attributes.HousingType)
	assert.True(t, req.Attributes.PriorExperience)
	assert.Equal(t, "blue", req.Attributes.Extra["favourite_color"])

	feed := s.ListNotifications()
	require.Len(t, feed, 1)
	assert.Equal(t, types.CategorySubmitted, feed[0].Category)
	assert.Equal(t, receipt.RequestID, feed[0].RequestID)

	assert.Len(t, b.Messages("notifications"), 1)
}

func TestSubmit_InvalidInputIsNeverEnqueued(t *testing.T) {
	cases := map[string]SubmitInput{
		"missing pet":     {PetID: "  "},
		"non numeric":     {PetID: "Luna_002", Attributes: map[string]string{AttrDeclaredIncome: "lots"}},
		"negative income": {PetID: "Luna_002", Attributes: map[string]string{AttrDeclaredIncome: "-5"}},
		"bad household":   {PetID: "Luna_002", Attributes: map[string]string{AttrHouseholdSize: "2.5"}},
		"bad bool":        {PetID: "Luna_002", Attributes: map[string]string{AttrOtherAnimals: "maybe"}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			s, b := newService(t, Config{})

			_, err := s.Submit(context.Background(), in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
			assert.Empty(t, b.Messages("adoption_requests"))
			assert.Empty(t, s.ListNotifications())
		})
	}
}

func TestSubmit_BrokerFailure(t *testing.T) {
	s, b := newService(t, Config{})
	require.NoError(t, b.Close())

	_, err := s.Submit(context.Background(), SubmitInput{PetID: "Luna_002"})
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrBrokerUnavailable)

	feed := s.ListNotifications()
	require.Len(t, feed, 1)
	assert.Equal(t, types.CategoryError, feed[0].Category)
}

func TestSubmit_UndeclaredQueueIsUnavailable(t *testing.T) {
	b := broker.NewMemoryBroker()
	s := New(Config{}, b, nil)

	_, err := s.Submit(context.Background(), SubmitInput{PetID: "Luna_002"})
	assert.ErrorIs(t, err, broker.ErrBrokerUnavailable)
	assert.ErrorIs(t, err, broker.ErrQueueNotDeclared)
}

func TestSubmit_Throttled(t *testing.T) {
	s, b := newService(t, Config{Rate: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		_, err := s.Submit(context.Background(), SubmitInput{PetID: "Luna_002"})
		require.NoError(t, err)
	}
	_, err := s.Submit(context.Background(), SubmitInput{PetID: "Luna_002"})
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Len(t, b.Messages("adoption_requests"), 2)
}

func TestSubmit_RequestIDsAreUnique(t *testing.T) {
	s, _ := newService(t, Config{})

	ids := map[string]bool{}
	for i := 0; i < 50; i++ {
		r, err := s.Submit(context.Background(), SubmitInput{PetID: "Budy_001"})
		require.NoError(t, err)
		assert.False(t, ids[r.RequestID])
		ids[r.RequestID] = true
	}
}

func TestFeedKeepsLatestFifteen(t *testing.T) {
	s, _ := newService(t, Config{})

	var first string
	for i := 0; i < 16; i++ {
		r, err := s.Submit(context.Background(), SubmitInput{PetID: fmt.Sprintf("pet-%02d", i)})
		require.NoError(t, err)
		if i == 0 {
			first = r.RequestID
		}
	}

	feed := s.ListNotifications()
	require.Len(t, feed, notify.DefaultCapacity)
	for _, n := range feed {
		assert.NotEqual(t, first, n.RequestID)
	}
	assert.Contains(t, feed[0].Message, "pet-15")
}

func TestClearNotificationsKeepsQueues(t *testing.T) {
	s, b := newService(t, Config{})
	_, err := s.Submit(context.Background(), SubmitInput{PetID: "Luna_002"})
	require.NoError(t, err)

	s.ClearNotifications()
	assert.Empty(t, s.ListNotifications())
	assert.Len(t, b.Messages("adoption_requests"), 1)
}

func TestResetPipeline(t *testing.T) {
	s, b := newService(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Submit(ctx, SubmitInput{PetID: "Luna_002"})
		require.NoError(t, err)
	}
	res, err := broker.NewMessage("r", types.ValidationResult{RequestID: "r"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "adoption_results", res))

	require.NoError(t, s.ResetPipeline(ctx))

	assert.Empty(t, b.Messages("adoption_requests"))
	assert.Empty(t, b.Messages("adoption_results"))
	assert.Zero(t, b.Pending("adoption_requests", "validation-workers"))

	feed := s.ListNotifications()
	require.Len(t, feed, 1)
	assert.Equal(t, types.CategorySystem, feed[0].Category)
}

func TestResetPipeline_Failure(t *testing.T) {
	s, b := newService(t, Config{})
	require.NoError(t, b.Close())

	err := s.ResetPipeline(context.Background())
	assert.ErrorIs(t, err, broker.ErrBrokerUnavailable)

	feed := s.ListNotifications()
	require.Len(t, feed, 1)
	assert.Equal(t, types.CategoryError, feed[0].Category)
}

func TestFollowNotifications(t *testing.T) {
	s, b := newService(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.FollowNotifications(ctx) }()

	_, err := s.Submit(ctx, SubmitInput{PetID: "Luna_002"})
	require.NoError(t, err)

	n := notify.NewMessage(types.CategoryApproved, "Adoption approved", "Luna is waiting", "req-1", "validation-worker/w-1")
	require.NoError(t, notify.Publish(ctx, b, "notifications", n))
	// Redelivered copy of the same notification.
	require.NoError(t, notify.Publish(ctx, b, "notifications", n))

	require.Eventually(t, func() bool {
		return b.Pending("notifications", "gateway-feed") == 0 && len(s.ListNotifications()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	feed := s.ListNotifications()
	assert.Equal(t, types.CategoryApproved, feed[0].Category)
	assert.Equal(t, types.CategorySubmitted, feed[1].Category)

	cancel()
	assert.NoError(t, <-done)
}

func TestFeedDropsUnknownCategory(t *testing.T) {
	s, _ := newService(t, Config{})

	n := notify.NewMessage(types.Category("celebration"), "Party", "Cake in the lobby", "", "elsewhere")
	msg, err := broker.NewMessage(n.NotificationID, n)
	require.NoError(t, err)
	d := broker.NewDelivery("notifications", msg, 1)

	require.NoError(t, s.handleFeed(context.Background(), d))
	assert.True(t, d.Acked())
	assert.Empty(t, s.ListNotifications())
}

func TestParseAttributes(t *testing.T) {
	a, err := ParseAttributes(map[string]string{
		AttrHouseholdSize:   " 4 ",
		AttrOtherAnimals:    "false",
		AttrPriorExperience: "",
	})
	require.NoError(t, err)
	require.NotNil(t, a.HouseholdSize)
	assert.Equal(t, int64(4), *a.HouseholdSize)
	assert.False(t, a.OtherAnimals)
	assert.Nil(t, a.DeclaredIncome)

	_, ok := a.Income()
	assert.False(t, ok)
}
