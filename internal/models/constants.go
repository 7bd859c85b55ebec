package models

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyEmergency Urgency = "emergency"
)

const (
	NotificationSuccess = "success"
	NotificationInfo    = "info"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

const (
	// StorageKeyRequests holds the serialized request collection.
	StorageKeyRequests = "serviceData"

	// WorkerQueueSize is the in-memory sync queue capacity.
	WorkerQueueSize = 1000

	// StoreRecoveryWindow is how long a failed primary store is skipped.
	StoreRecoveryWindow = 60 // seconds
)

const (
	TaskUpsertRequest = "upsert_request"
)
