package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"autocare/internal/domain"
	"autocare/internal/metrics"
	"autocare/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SyncWorker drains upsert tasks into Google Sheets with retries.
type SyncWorker struct {
	sheets        domain.SheetsWriter
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	idleWait      time.Duration
	logger        *zerolog.Logger

	// after schedules a retry; replaced in tests.
	after func(d time.Duration, f func())

	mu         sync.Mutex
	synced     map[string]int64
	deadLetter []models.SyncTask
}

func NewSyncWorker(sheets domain.SheetsWriter, redisClient *redis.Client, retry RetryPolicy, queueKey string, logger *zerolog.Logger) *SyncWorker {
	if queueKey == "" {
		queueKey = "autocare:sync:queue"
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}

	return &SyncWorker{
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.SyncTask, models.WorkerQueueSize),
		redisQueueKey: queueKey,
		deadLetterKey: queueKey + ":deadletter",
		idleWait:      time.Second,
		logger:        logger,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		synced: make(map[string]int64),
	}
}

// EnqueueTask snapshots req and schedules it via redis or the in-memory queue.
func (w *SyncWorker) EnqueueTask(ctx context.Context, taskType string, req *models.ServiceRequest) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if req == nil || req.ID.String() == "" {
		return errors.New("request id is required")
	}

	snapshot := *req
	task := models.SyncTask{
		ID:        uuid.New().String(),
		TaskType:  taskType,
		RequestID: snapshot.ID.String(),
		Request:   &snapshot,
		CreatedAt: time.Now(),
	}
	return w.schedule(ctx, task)
}

func (w *SyncWorker) schedule(ctx context.Context, task models.SyncTask) error {
	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
		return nil
	default:
		metrics.IncSync("dropped")
		return fmt.Errorf("sync queue full, task %s dropped", task.ID)
	}
}

// Start runs the worker loop until ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sync worker started")
	defer w.logger.Info().Msg("sync worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		if w.redis == nil {
			select {
			case <-ctx.Done():
				return
			case t := <-w.queue:
				w.processTask(ctx, &t)
			case <-time.After(w.idleWait):
			}
		}
	}
}

func (w *SyncWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SyncWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, w.idleWait, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.SyncTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *SyncWorker) processTask(ctx context.Context, task *models.SyncTask) {
	if task.Request == nil {
		w.failTask(ctx, task, errors.New("request payload missing"))
		return
	}

	if w.isStale(task.Request) {
		metrics.IncSync("stale")
		w.logger.Debug().
			Str("request_id", task.RequestID).
			Int64("version", task.Request.Version).
			Msg("skipping stale sync task")
		return
	}

	if err := w.handleTask(ctx, task); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	w.markSynced(task.Request)
	metrics.IncSync("success")
}

func (w *SyncWorker) handleTask(ctx context.Context, task *models.SyncTask) error {
	switch task.TaskType {
	case models.TaskUpsertRequest:
		return w.sheets.UpsertRequest(ctx, task.Request)
	default:
		return fmt.Errorf("unknown task type: %s", task.TaskType)
	}
}

func (w *SyncWorker) isStale(req *models.ServiceRequest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.synced[req.ID.String()]
	return ok && req.Version < last
}

func (w *SyncWorker) markSynced(req *models.ServiceRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if req.Version > w.synced[req.ID.String()] {
		w.synced[req.ID.String()] = req.Version
	}
}

func (w *SyncWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	task.RetryCount++
	task.LastError = cause.Error()
	if w.retryPolicy.Exhausted(task.RetryCount) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncSync("retry")
	delay := w.retryPolicy.NextDelay(task.RetryCount)
	w.logger.Warn().
		Err(cause).
		Str("task_id", task.ID).
		Int("attempt", task.RetryCount).
		Dur("delay", delay).
		Msg("sync task failed, retrying")

	retry := *task
	w.after(delay, func() {
		if err := w.schedule(context.Background(), retry); err != nil {
			w.failTask(context.Background(), &retry, err)
		}
	})
}

func (w *SyncWorker) failTask(ctx context.Context, task *models.SyncTask, err error) {
	metrics.IncSync("failed")
	task.LastError = err.Error()
	w.logger.Error().Err(err).Str("task_id", task.ID).Str("request_id", task.RequestID).Msg("sync task failed permanently")
	w.pushDeadLetter(ctx, task)
}

func (w *SyncWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *SyncWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis != nil {
		data, err := json.Marshal(task)
		if err == nil {
			if err = w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err == nil {
				return
			}
		}
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("deadletter push failed")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.deadLetter = append(w.deadLetter, *task)
}

// DeadLetters returns tasks that exhausted retries while redis was unavailable.
func (w *SyncWorker) DeadLetters() []models.SyncTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.SyncTask, len(w.deadLetter))
	copy(out, w.deadLetter)
	return out
}
