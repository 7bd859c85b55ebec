package service

import (
	"fmt"

	"autocare/internal/events"
	"autocare/internal/models"

	"github.com/rs/zerolog"
)

type notificationTemplate struct {
	kind    string
	title   string
	message string // formatted with the service name
}

var customerTemplates = map[string]notificationTemplate{
	events.EventRequestCreated: {
		models.NotificationSuccess, "Service Requested", "Your request for %s has been submitted successfully!",
	},
	events.EventRequestAccepted: {
		models.NotificationSuccess, "Request Accepted", "A mechanic has accepted your request for %s.",
	},
	events.EventRequestRejected: {
		models.NotificationWarning, "Request Rejected", "Your request for %s was rejected.",
	},
	events.EventRequestStarted: {
		models.NotificationInfo, "Service Started", "Work on your %s has started.",
	},
	events.EventRequestCompleted: {
		models.NotificationSuccess, "Service Completed", "Your %s is complete.",
	},
}

// RegisterNotificationRules turns request lifecycle events into notifications.
func RegisterNotificationRules(bus *events.EventBus, sink *NotificationSink, logger *zerolog.Logger) {
	bus.SubscribeMany(events.RequestEvents, func(event *events.Event) error {
		var payload events.RequestEventPayload
		if err := event.Decode(&payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Type, err)
		}

		for _, n := range notificationsFor(event.Type, payload) {
			sink.Emit(n)
		}
		if logger != nil {
			logger.Debug().Str("event_type", event.Type).Str("request_id", payload.RequestID).Msg("notifications emitted")
		}
		return nil
	})
}

func notificationsFor(eventType string, p events.RequestEventPayload) []models.Notification {
	tpl, ok := customerTemplates[eventType]
	if !ok {
		return nil
	}

	// an empty user id would broadcast a customer's notification to everyone
	var out []models.Notification
	if p.CustomerID != "" {
		out = append(out, models.Notification{
			Type:    tpl.kind,
			Title:   tpl.title,
			Message: fmt.Sprintf(tpl.message, p.ServiceName),
			UserID:  p.CustomerID,
		})
	}

	if eventType == events.EventRequestAccepted && p.MechanicID != "" {
		out = append(out, models.Notification{
			Type:    models.NotificationInfo,
			Title:   "Request Assigned",
			Message: fmt.Sprintf("You accepted %s for %s.", p.ServiceName, p.Vehicle),
			UserID:  p.MechanicID,
		})
	}
	return out
}
