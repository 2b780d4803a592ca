package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jsndz/petbus/pkg/broker"
	"github.com/jsndz/petbus/pkg/types"
)

func NewMessage(category types.Category, title, message, requestID, source string) types.NotificationMessage {
	return types.NotificationMessage{
		NotificationID: uuid.NewString(),
		Title:          title,
		Message:        message,
		Category:       category,
		CreatedAt:      time.Now().UTC(),
		RequestID:      requestID,
		Source:         source,
	}
}

// Publish sends n to queue keyed by its request id so every notification
// about one request lands on the same partition.
func Publish(ctx context.Context, pub broker.Publisher, queue string, n types.NotificationMessage) error {
	key := n.RequestID
	if key == "" {
		key = n.NotificationID
	}
	msg, err := broker.NewMessage(key, n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msg.ID = n.NotificationID
	broker.InjectTrace(ctx, &msg)
	return pub.Publish(ctx, queue, msg)
}
