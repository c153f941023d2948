// Package lock provides Redis-backed mutual exclusion for cross-process
// critical sections: keyword table rewrites and segment/document toggles.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lexikon-ai/lexikon/internal/apperr"
	"github.com/lexikon-ai/lexikon/internal/log"
)

// Key builders for the lock namespaces used across the codebase. Keeping
// them here means two call sites can never disagree on a key format.

// KeywordTableKey locks the full read-modify-write of a dataset's keyword table.
func KeywordTableKey(datasetID uuid.UUID) string {
	return fmt.Sprintf("lock:keyword_table:update:%s", datasetID)
}

// DocumentEnabledKey serializes enable/disable toggles of one document.
func DocumentEnabledKey(documentID uuid.UUID) string {
	return fmt.Sprintf("lock:document:update_enabled:%s", documentID)
}

// SegmentEnabledKey serializes enable/disable toggles of one segment.
func SegmentEnabledKey(segmentID uuid.UUID) string {
	return fmt.Sprintf("lock:segment:update_enabled:%s", segmentID)
}

// Handle is a held lock. Release it exactly once.
type Handle struct {
	mutex  *redsync.Mutex
	logger log.Logger
}

// Release frees the lock. Releasing an expired lock is logged, not fatal:
// the TTL already did the job.
func (h *Handle) Release(ctx context.Context) {
	if h == nil || h.mutex == nil {
		return
	}
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil || !ok {
		h.logger.Warn("failed to release lock, relying on TTL expiry",
			"name", h.mutex.Name(), "error", err)
	}
}

// Locker acquires named TTL locks. Safe for concurrent use.
type Locker struct {
	rs     *redsync.Redsync
	ttl    time.Duration
	logger log.Logger
}

// New wraps a Redis client in a Locker. ttl bounds how long a crashed
// holder can block others.
func New(client redis.UniversalClient, ttl time.Duration, logger log.Logger) *Locker {
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
		logger: logger,
	}
}

// TryAcquire takes the lock without waiting. A held lock returns
// apperr.ErrConflict so callers can surface "already in progress".
func (l *Locker) TryAcquire(ctx context.Context, key string) (*Handle, error) {
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(l.ttl), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, fmt.Errorf("lock %s: %w", key, apperr.ErrConflict)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return &Handle{mutex: mutex, logger: l.logger}, nil
}

// Acquire takes the lock, retrying with backoff until the context is done.
func (l *Locker) Acquire(ctx context.Context, key string) (*Handle, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(64),
		redsync.WithRetryDelay(100*time.Millisecond))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return &Handle{mutex: mutex, logger: l.logger}, nil
}
