// Package runlock serializes runs of the same table mapping.
//
// Within a process callers queue on a keyed mutex. Across processes a backend
// lock is tried once without waiting; when another process holds it the run is
// refused with apperrors.ErrRunInProgress.
package runlock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
)

// Backend is a cross-process, non-blocking lock.
type Backend interface {
	// TryAcquire takes the lock for key. acquired is false when it is held elsewhere.
	TryAcquire(ctx context.Context, key uuid.UUID) (release func(), acquired bool, err error)
	Name() string
}

// Locker hands out per-mapping run locks.
type Locker struct {
	local   *kmutex.Kmutex
	backend Backend
	logger  *zap.Logger
}

// New creates a Locker. A nil backend limits serialization to this process.
func New(backend Backend, logger *zap.Logger) *Locker {
	if backend == nil {
		backend = localBackend{}
	}
	return &Locker{
		local:   kmutex.New(),
		backend: backend,
		logger:  logger.Named("runlock"),
	}
}

// Lock waits for other runs of mappingID in this process, then tries the
// backend lock. Waiting stops when ctx is done. It returns apperrors.ErrRunInProgress when another process
// holds the mapping. The returned release func must be called exactly once.
func (l *Locker) Lock(ctx context.Context, mappingID uuid.UUID) (func(), error) {
	key := mappingID.String()
	if err := l.lockLocal(ctx, key); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		l.local.Unlock(key)
		return nil, err
	}

	release, acquired, err := l.backend.TryAcquire(ctx, mappingID)
	if err != nil {
		l.local.Unlock(key)
		return nil, fmt.Errorf("failed to acquire %s run lock: %w", l.backend.Name(), err)
	}
	if !acquired {
		l.local.Unlock(key)
		l.logger.Info("Run refused, mapping locked by another process",
			zap.String("mapping_id", key),
			zap.String("backend", l.backend.Name()),
		)
		return nil, apperrors.ErrRunInProgress
	}

	return func() {
		release()
		l.local.Unlock(key)
	}, nil
}

// lockLocal takes the in-process lock for key, giving up when ctx is done.
// An abandoned wait hands the lock straight back once it is granted.
func (l *Locker) lockLocal(ctx context.Context, key string) error {
	granted := make(chan struct{})
	go func() {
		l.local.Lock(key)
		close(granted)
	}()

	select {
	case <-granted:
		return nil
	case <-ctx.Done():
		go func() {
			<-granted
			l.local.Unlock(key)
		}()
		return ctx.Err()
	}
}

type localBackend struct{}

func (localBackend) TryAcquire(context.Context, uuid.UUID) (func(), bool, error) {
	return func() {}, true, nil
}

func (localBackend) Name() string { return "local" }
