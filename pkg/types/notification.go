package types

import "time"

type Category string

const (
	CategorySubmitted  Category = "submitted"
	CategoryProcessing Category = "processing"
	CategoryApproved   Category = "approved"
	CategoryRejected   Category = "rejected"
	CategoryError      Category = "error"
	CategorySystem     Category = "system"
)

func (c Category) Valid() bool {
	switch c {
	case CategorySubmitted, CategoryProcessing, CategoryApproved,
		CategoryRejected, CategoryError, CategorySystem:
		return true
	}
	return false
}

// NotificationMessage is the wire shape carried on the notifications queue.
type NotificationMessage struct {
	NotificationID string    `json:"notification_id"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Category       Category  `json:"category"`
	CreatedAt      time.Time `json:"created_at"`
	RequestID      string    `json:"request_id,omitempty"`
	Source         string    `json:"source,omitempty"`
}
