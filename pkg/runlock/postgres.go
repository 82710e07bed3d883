package runlock

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresBackend uses session-level advisory locks. Each held lock pins one
// pooled connection until it is released.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresBackend creates an advisory lock backend.
func NewPostgresBackend(pool *pgxpool.Pool, logger *zap.Logger) *PostgresBackend {
	return &PostgresBackend{pool: pool, logger: logger.Named("runlock.postgres")}
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) TryAcquire(ctx context.Context, key uuid.UUID) (func(), bool, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	lockKey := AdvisoryKey(key)
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockKey).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		ctx := context.WithoutCancel(ctx)
		var unlocked bool
		if err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockKey).Scan(&unlocked); err != nil || !unlocked {
			// Closing the session drops any advisory lock it still holds.
			b.logger.Warn("Failed to release advisory lock, closing connection",
				zap.String("mapping_id", key.String()),
				zap.Error(err),
			)
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}
	return release, true, nil
}

// AdvisoryKey folds a mapping ID into the bigint key space of advisory locks.
func AdvisoryKey(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]) ^ binary.BigEndian.Uint64(id[8:]))
}
