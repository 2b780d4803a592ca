package notify

import (
	"sync"
	"time"

	"github.com/jsndz/petbus/pkg/types"
)

const DefaultCapacity = 15

type Notification struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Category  types.Category `json:"category"`
	CreatedAt time.Time      `json:"created_at"`
	RequestID string         `json:"request_id,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// Store is a bounded, newest-first notification feed. The zero value is not
// usable; call NewStore.
type Store struct {
	mu       sync.Mutex
	items    []Notification
	capacity int
	nextID   int64
	now      func() time.Time
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		items:    make([]Notification, 0, capacity+1),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append assigns the next id, stamps CreatedAt when unset and inserts n at
// the head, evicting the oldest entry past capacity.
func (s *Store) Append(n Notification) Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	n.ID = s.nextID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	s.items = append(s.items, Notification{})
	copy(s.items[1:], s.items)
	s.items[0] = n
	if len(s.items) > s.capacity {
		s.items = s.items[:s.capacity]
	}
	return n
}

func (s *Store) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Clear empties the feed. Ids keep increasing across clears.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = s.items[:0]
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) Capacity() int {
	return s.capacity
}

func FromMessage(m types.NotificationMessage) Notification {
	return Notification{
		Title:     m.Title,
		Message:   m.Message,
		Category:  m.Category,
		CreatedAt: m.CreatedAt,
		RequestID: m.RequestID,
		Source:    m.Source,
	}
}
