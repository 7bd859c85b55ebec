package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"autocare/internal/domain"
	"autocare/internal/events"
	"autocare/internal/metrics"
	"autocare/internal/models"
	"autocare/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var actionEvents = map[ActionType]string{
	ActionCreate:   events.EventRequestCreated,
	ActionAccept:   events.EventRequestAccepted,
	ActionReject:   events.EventRequestRejected,
	ActionStart:    events.EventRequestStarted,
	ActionComplete: events.EventRequestCompleted,
}

// RequestLedger owns the canonical request collection. Every mutation runs
// under one mutex: reduce, swap the collection, persist, publish. Event
// handlers therefore must not call back into the ledger.
type RequestLedger struct {
	store      domain.SnapshotStore
	catalog    domain.CatalogLookup
	eventBus   domain.EventPublisher
	syncWorker domain.SyncWorker
	logger     *zerolog.Logger

	mu       sync.Mutex
	requests []models.ServiceRequest

	now   func() time.Time
	newID func() string
}

func NewRequestLedger(
	store domain.SnapshotStore,
	catalog domain.CatalogLookup,
	eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	logger *zerolog.Logger,
) *RequestLedger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RequestLedger{
		store:      store,
		catalog:    catalog,
		eventBus:   eventBus,
		syncWorker: syncWorker,
		logger:     logger,
		requests:   []models.ServiceRequest{},
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Load reads the persisted snapshot. Read failures leave an empty ledger.
func (l *RequestLedger) Load(ctx context.Context) int {
	if l.store == nil {
		return l.Hydrate(nil)
	}

	data, err := l.store.Get(ctx, models.StorageKeyRequests)
	if err != nil {
		serr := &domain.StorageError{Op: "get", Key: models.StorageKeyRequests, Err: err}
		l.logger.Warn().Err(serr).Msg("failed to read request snapshot, starting empty")
		metrics.IncStorageFailure("get")
		return l.Hydrate(nil)
	}
	return l.Hydrate(data)
}

// Hydrate replaces the collection with a serialized snapshot and returns the
// number of loaded requests. Empty or invalid input yields an empty collection.
func (l *RequestLedger) Hydrate(data []byte) int {
	requests, err := decodeSnapshot(data)
	if err != nil {
		l.logger.Warn().Err(err).Int("bytes", len(data)).Msg("discarding malformed request snapshot")
		requests = []models.ServiceRequest{}
	}

	l.mu.Lock()
	l.requests = requests
	l.mu.Unlock()

	l.logger.Info().Int("requests", len(requests)).Msg("request ledger hydrated")
	return len(requests)
}

func decodeSnapshot(data []byte) ([]models.ServiceRequest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return []models.ServiceRequest{}, nil
	}

	var requests []models.ServiceRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, err
	}
	if requests == nil {
		return []models.ServiceRequest{}, nil
	}

	seen := make(map[models.RequestID]bool, len(requests))
	for i := range requests {
		r := &requests[i]
		if r.ID == "" {
			return nil, &domain.ValidationError{Field: "id", Reason: "missing in snapshot"}
		}
		if seen[r.ID] {
			return nil, &domain.ValidationError{Field: "id", Reason: "duplicate " + r.ID.String()}
		}
		seen[r.ID] = true
		if r.Status == "" {
			return nil, &domain.ValidationError{Field: "status", Reason: "missing for " + r.ID.String()}
		}
		if r.Version == 0 {
			r.Version = 1
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = r.CreatedAt
		}
	}
	return requests, nil
}

// Serialize encodes the collection in the snapshot format accepted by Hydrate.
func (l *RequestLedger) Serialize() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.Marshal(l.requests)
}

// Create validates the draft, prices it from the catalog and appends it as PENDING.
func (l *RequestLedger) Create(ctx context.Context, draft models.RequestDraft) (*models.ServiceRequest, error) {
	req, err := l.buildRequest(draft)
	if err != nil {
		metrics.IncTransition(string(ActionCreate), resultLabel(err))
		return nil, err
	}
	return l.Dispatch(ctx, Action{Type: ActionCreate, Request: req})
}

func (l *RequestLedger) buildRequest(draft models.RequestDraft) (*models.ServiceRequest, error) {
	vehicle := strings.TrimSpace(draft.Vehicle)
	if vehicle == "" {
		return nil, &domain.ValidationError{Field: "vehicle", Reason: "is required"}
	}
	if strings.TrimSpace(draft.ServiceType) == "" {
		return nil, &domain.ValidationError{Field: "serviceType", Reason: "is required"}
	}
	if strings.TrimSpace(draft.Urgency) == "" {
		return nil, &domain.ValidationError{Field: "urgency", Reason: "is required"}
	}
	urgency, err := models.ParseUrgency(draft.Urgency)
	if err != nil {
		return nil, &domain.ValidationError{Field: "urgency", Reason: err.Error()}
	}
	if !(draft.Distance > 0) || math.IsInf(draft.Distance, 0) {
		return nil, &domain.ValidationError{Field: "distance", Reason: "must be a positive number"}
	}
	if l.catalog == nil {
		return nil, &domain.ValidationError{Field: "serviceType", Reason: "no service catalog configured"}
	}

	entry, err := l.catalog.Lookup(draft.ServiceType)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.ValidationError{Field: "serviceType", Reason: "unknown service " + draft.ServiceType}
		}
		return nil, err
	}
	if !entry.Active {
		return nil, &domain.ValidationError{Field: "serviceType", Reason: "service " + entry.Name + " is not offered"}
	}

	return &models.ServiceRequest{
		ID:          models.RequestID(l.newID()),
		CustomerID:  strings.TrimSpace(draft.CustomerID),
		Vehicle:     vehicle,
		ServiceType: entry.ID,
		ServiceName: entry.Name,
		Urgency:     urgency,
		Distance:    draft.Distance,
		BasePrice:   entry.BasePrice,
		Price:       pricing.Compute(entry.BasePrice, draft.Distance, string(urgency)),
		CreatedAt:   l.now(),
	}, nil
}

func (l *RequestLedger) Accept(ctx context.Context, id, mechanicID string) (*models.ServiceRequest, error) {
	return l.Dispatch(ctx, Action{Type: ActionAccept, RequestID: id, MechanicID: strings.TrimSpace(mechanicID)})
}

func (l *RequestLedger) Reject(ctx context.Context, id string) (*models.ServiceRequest, error) {
	return l.Dispatch(ctx, Action{Type: ActionReject, RequestID: id})
}

func (l *RequestLedger) Start(ctx context.Context, id string) (*models.ServiceRequest, error) {
	return l.Dispatch(ctx, Action{Type: ActionStart, RequestID: id})
}

func (l *RequestLedger) Complete(ctx context.Context, id string) (*models.ServiceRequest, error) {
	return l.Dispatch(ctx, Action{Type: ActionComplete, RequestID: id})
}

// Dispatch applies a single action. Actions apply strictly in call order; a
// failed action leaves the collection untouched.
func (l *RequestLedger) Dispatch(ctx context.Context, action Action) (*models.ServiceRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, entity, err := Reduce(l.requests, action, l.now())
	if err != nil {
		metrics.IncTransition(string(action.Type), resultLabel(err))
		l.logger.Debug().Err(err).Str("action", string(action.Type)).Str("request_id", action.RequestID).Msg("action rejected")
		return nil, err
	}

	l.requests = next
	metrics.IncTransition(string(action.Type), "ok")
	if action.Type == ActionCreate {
		metrics.ObservePrice(entity.Price)
	}

	l.persistLocked(ctx)
	l.publishEvent(actionEvents[action.Type], entity)
	l.enqueueSync(ctx, entity)

	l.logger.Info().
		Str("action", string(action.Type)).
		Str("request_id", entity.ID.String()).
		Str("status", string(entity.Status)).
		Int64("version", entity.Version).
		Msg("request updated")

	return &entity, nil
}

func (l *RequestLedger) persistLocked(ctx context.Context) {
	if l.store == nil {
		return
	}

	data, err := json.Marshal(l.requests)
	if err == nil {
		err = l.store.Set(ctx, models.StorageKeyRequests, data)
	}
	if err != nil {
		serr := &domain.StorageError{Op: "set", Key: models.StorageKeyRequests, Err: err}
		l.logger.Warn().Err(serr).Msg("failed to persist request snapshot")
		metrics.IncStorageFailure("set")
	}
}

func (l *RequestLedger) publishEvent(eventType string, r models.ServiceRequest) {
	if l.eventBus == nil || eventType == "" {
		return
	}

	payload := events.RequestEventPayload{
		RequestID:   r.ID.String(),
		CustomerID:  r.CustomerID,
		MechanicID:  r.MechanicID,
		ServiceName: r.ServiceName,
		Vehicle:     r.Vehicle,
		Status:      string(r.Status),
		Price:       r.Price,
		Version:     r.Version,
		ChangedAt:   r.UpdatedAt,
	}

	if err := l.eventBus.PublishJSON(eventType, payload); err != nil {
		l.logger.Error().Err(err).Str("event_type", eventType).Str("request_id", payload.RequestID).Msg("publish event error")
	}
}

func (l *RequestLedger) enqueueSync(ctx context.Context, r models.ServiceRequest) {
	if l.syncWorker == nil {
		return
	}
	if err := l.syncWorker.EnqueueTask(ctx, models.TaskUpsertRequest, &r); err != nil {
		l.logger.Error().Err(err).Str("request_id", r.ID.String()).Msg("enqueue sync task error")
	}
}

// Get returns a copy of the request with the given id.
func (l *RequestLedger) Get(id string) (*models.ServiceRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := indexOf(l.requests, id)
	if idx < 0 {
		return nil, &domain.NotFoundError{Kind: "request", ID: id}
	}
	r := l.requests[idx]
	return &r, nil
}

// List returns copies of matching requests in creation order.
func (l *RequestLedger) List(filter models.RequestFilter) []*models.ServiceRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*models.ServiceRequest, 0, len(l.requests))
	for i := range l.requests {
		if filter.Match(&l.requests[i]) {
			r := l.requests[i]
			out = append(out, &r)
		}
	}
	return out
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	default:
		return "error"
	}
}
