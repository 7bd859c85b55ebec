package repository

import (
	"context"
	"sync/atomic"
	"time"

	"autocare/internal/domain"
	"autocare/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSnapshotStore writes to primary and switches to fallback when the
// primary fails; the primary is retried after the recovery window.
type FailoverSnapshotStore struct {
	primary   domain.SnapshotStore
	fallback  domain.SnapshotStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos
	window    time.Duration
}

func NewFailoverSnapshotStore(primary, fallback domain.SnapshotStore, logger *zerolog.Logger) *FailoverSnapshotStore {
	return &FailoverSnapshotStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		window:   models.StoreRecoveryWindow * time.Second,
	}
}

func (r *FailoverSnapshotStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary snapshot store failed, falling back")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverSnapshotStore) shouldRetryPrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > r.window
}

func (r *FailoverSnapshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.shouldRetryPrimary() {
		wasDown := r.isDown.Load()
		val, err := r.primary.Get(ctx, key)
		if err == nil {
			if wasDown {
				// The fallback may hold writes the primary missed.
				if fresh, ferr := r.fallback.Get(ctx, key); ferr == nil && fresh != nil {
					if err := r.primary.Set(ctx, key, fresh); err != nil {
						r.markDown(err)
						return fresh, nil
					}
					val = fresh
				}
				r.logger.Info().Msg("Primary snapshot store recovered")
				r.isDown.Store(false)
			}
			return val, nil
		}
		r.markDown(err)
	}

	return r.fallback.Get(ctx, key)
}

func (r *FailoverSnapshotStore) Set(ctx context.Context, key string, value []byte) error {
	if r.shouldRetryPrimary() {
		err := r.primary.Set(ctx, key, value)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary snapshot store recovered")
			}
			// Keep the fallback warm so a later switch serves current data.
			_ = r.fallback.Set(ctx, key, value)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Set(ctx, key, value)
}

// Degraded reports whether writes currently go to the fallback.
func (r *FailoverSnapshotStore) Degraded() bool {
	return r.isDown.Load()
}
