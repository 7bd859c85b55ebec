package service

import (
	"slices"
	"sync"
	"time"

	"autocare/internal/domain"
	"autocare/internal/metrics"
	"autocare/internal/models"

	"github.com/google/uuid"
)

// NotificationSink is the notification log, newest first.
type NotificationSink struct {
	mu        sync.RWMutex
	items     []models.Notification
	limit     int
	observers []func(models.Notification)

	now   func() time.Time
	newID func() string
}

// NewNotificationSink keeps at most limit entries; zero means unbounded.
func NewNotificationSink(limit int) *NotificationSink {
	return &NotificationSink{
		limit: limit,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// OnEmit registers a callback invoked after every Emit.
func (s *NotificationSink) OnEmit(fn func(models.Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Emit stamps id, creation time and unread state, then prepends the entry.
func (s *NotificationSink) Emit(n models.Notification) models.Notification {
	n.ID = s.newID()
	n.CreatedAt = s.now()
	n.Read = false
	if n.Type == "" {
		n.Type = models.NotificationInfo
	}

	s.mu.Lock()
	s.items = append([]models.Notification{n}, s.items...)
	if s.limit > 0 && len(s.items) > s.limit {
		s.items = s.items[:s.limit]
	}
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	metrics.IncNotification(n.Type)
	for _, fn := range observers {
		fn(n)
	}
	return n
}

func (s *NotificationSink) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Read = true
			return nil
		}
	}
	return &domain.NotFoundError{Kind: "notification", ID: id}
}

// MarkAllRead marks every notification visible to userID as read.
func (s *NotificationSink) MarkAllRead(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.items {
		if s.items[i].VisibleTo(userID) && !s.items[i].Read {
			s.items[i].Read = true
			n++
		}
	}
	return n
}

func (s *NotificationSink) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return nil
		}
	}
	return &domain.NotFoundError{Kind: "notification", ID: id}
}

// List returns the user's own and broadcast notifications; an empty userID returns all.
func (s *NotificationSink) List(userID string) []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, 0, len(s.items))
	for _, n := range s.items {
		if userID == "" || n.VisibleTo(userID) {
			out = append(out, n)
		}
	}
	return out
}

func (s *NotificationSink) UnreadCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.items {
		if !n.Read && (userID == "" || n.VisibleTo(userID)) {
			count++
		}
	}
	return count
}
