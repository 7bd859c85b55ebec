package models

import (
	"strings"
	"time"
)

// Notification is an entry of the user facing notification log.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	UserID    string    `json:"userId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// VisibleTo reports whether the notification belongs to the user or is a broadcast.
func (n *Notification) VisibleTo(userID string) bool {
	return n.UserID == "" || n.UserID == userID
}

// ChatMessage is one message of the conversation attached to a request.
type ChatMessage struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"requestId"`
	SenderID   string    `json:"senderId,omitempty"`
	SenderName string    `json:"senderName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// CatalogService is an offered service with its base price.
type CatalogService struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Category    string  `json:"category" yaml:"category"`
	BasePrice   float64 `json:"basePrice" yaml:"base_price"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Active      bool    `json:"active" yaml:"active"`
}

// Matches compares against id or name, case-insensitively.
func (c *CatalogService) Matches(key string) bool {
	key = strings.TrimSpace(key)
	return strings.EqualFold(c.ID, key) || strings.EqualFold(c.Name, key)
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() []CatalogService {
	return []CatalogService{
		{ID: "oil-change", Name: "Oil Change", Category: "maintenance", BasePrice: 49.99, Active: true},
		{ID: "brake-repair", Name: "Brake Repair", Category: "repair", BasePrice: 199.99, Active: true},
		{ID: "tire-replacement", Name: "Tire Replacement", Category: "tires", BasePrice: 149.99, Active: true},
		{ID: "engine-diagnostic", Name: "Engine Diagnostic", Category: "diagnostics", BasePrice: 89.99, Active: true},
		{ID: "ac-service", Name: "AC Service", Category: "maintenance", BasePrice: 129.99, Active: true},
		{ID: "battery-replacement", Name: "Battery Replacement", Category: "electrical", BasePrice: 179.99, Active: true},
	}
}
