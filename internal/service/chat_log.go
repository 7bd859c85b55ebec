package service

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"autocare/internal/domain"
	"autocare/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxChatMessageLen = 2000
	defaultSenderName = "User"
)

type requestGetter interface {
	Get(id string) (*models.ServiceRequest, error)
}

// ChatLog keeps the conversation of each request, oldest message first.
// Messages are only accepted for requests the ledger knows about.
type ChatLog struct {
	mu       sync.RWMutex
	requests requestGetter
	sink     domain.NotificationSink
	byID     map[string][]models.ChatMessage
	limit    int
	logger   *zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewChatLog keeps at most limit messages per request; zero means unbounded.
// When sink is set, the other party of the request is notified of new messages.
func NewChatLog(requests requestGetter, sink domain.NotificationSink, limit int, logger *zerolog.Logger) *ChatLog {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ChatLog{
		requests: requests,
		sink:     sink,
		byID:     make(map[string][]models.ChatMessage),
		limit:    limit,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Send appends msg to the conversation of requestID.
func (c *ChatLog) Send(requestID string, msg models.ChatMessage) (models.ChatMessage, error) {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return models.ChatMessage{}, &domain.ValidationError{Field: "message", Reason: "is required"}
	}
	if utf8.RuneCountInString(text) > maxChatMessageLen {
		return models.ChatMessage{}, &domain.ValidationError{Field: "message", Reason: fmt.Sprintf("longer than %d characters", maxChatMessageLen)}
	}

	req, err := c.requests.Get(requestID)
	if err != nil {
		return models.ChatMessage{}, err
	}

	msg.ID = c.newID()
	msg.RequestID = req.ID.String()
	msg.SenderID = strings.TrimSpace(msg.SenderID)
	msg.SenderName = strings.TrimSpace(msg.SenderName)
	if msg.SenderName == "" {
		msg.SenderName = defaultSenderName
	}
	msg.Message = text
	msg.Timestamp = c.now()

	c.mu.Lock()
	thread := append(c.byID[msg.RequestID], msg)
	if c.limit > 0 && len(thread) > c.limit {
		thread = thread[len(thread)-c.limit:]
	}
	c.byID[msg.RequestID] = thread
	c.mu.Unlock()

	c.notify(req, msg)
	return msg, nil
}

// Messages returns a copy of the conversation of requestID.
func (c *ChatLog) Messages(requestID string) ([]models.ChatMessage, error) {
	req, err := c.requests.Get(requestID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	thread := c.byID[req.ID.String()]
	out := make([]models.ChatMessage, len(thread))
	copy(out, thread)
	return out, nil
}

func (c *ChatLog) notify(req *models.ServiceRequest, msg models.ChatMessage) {
	if c.sink == nil {
		return
	}

	recipient := req.CustomerID
	if msg.SenderID != "" && msg.SenderID == req.CustomerID {
		recipient = req.MechanicID
	}
	if recipient == "" || recipient == msg.SenderID {
		return
	}

	c.sink.Emit(models.Notification{
		Type:    models.NotificationInfo,
		Title:   "New Message",
		Message: fmt.Sprintf("%s about %s: %s", msg.SenderName, req.ServiceName, msg.Message),
		UserID:  recipient,
	})
	c.logger.Debug().Str("request_id", msg.RequestID).Str("recipient", recipient).Msg("chat notification emitted")
}
