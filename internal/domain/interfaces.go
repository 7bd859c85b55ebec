package domain

import (
	"context"

	"autocare/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SnapshotStore is durable key/value storage for serialized collections.
// Get returns nil, nil for a missing key.
type SnapshotStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type SheetsWriter interface {
	UpsertRequest(ctx context.Context, req *models.ServiceRequest) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, req *models.ServiceRequest) error
}

type CatalogLookup interface {
	Lookup(key string) (*models.CatalogService, error)
}

type RequestLedger interface {
	Create(ctx context.Context, draft models.RequestDraft) (*models.ServiceRequest, error)
	Accept(ctx context.Context, id, mechanicID string) (*models.ServiceRequest, error)
	Reject(ctx context.Context, id string) (*models.ServiceRequest, error)
	Start(ctx context.Context, id string) (*models.ServiceRequest, error)
	Complete(ctx context.Context, id string) (*models.ServiceRequest, error)
	Get(id string) (*models.ServiceRequest, error)
	List(filter models.RequestFilter) []*models.ServiceRequest
}

type NotificationSink interface {
	Emit(n models.Notification) models.Notification
	MarkRead(id string) error
	Remove(id string) error
	List(userID string) []models.Notification
	UnreadCount(userID string) int
}
