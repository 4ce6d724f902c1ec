package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor represents the subset of pgx methods required for checkpoint
// operations.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Repository tracks the last processed envelope sequence per consumer
// and partition, so broker redeliveries of already-handled events can
// be skipped. The in-memory cooldown cache covers duplicate webhook
// deliveries; this covers the durable intake path.
type Repository struct {
	executor Executor
}

func NewRepository(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// Last returns the highest processed sequence for a consumer/partition.
// The boolean indicates whether a checkpoint existed.
func (r *Repository) Last(ctx context.Context, consumerName, partitionKey string) (int64, bool, error) {
	var last int64
	if err := r.executor.QueryRow(ctx, `
		SELECT last_sequence
		FROM event_checkpoint
		WHERE consumer_name=$1 AND partition_key=$2
	`, consumerName, partitionKey).Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("select checkpoint: %w", err)
	}
	return last, true, nil
}

// Advance moves the checkpoint forward, keeping it monotonic even when
// calls race.
func (r *Repository) Advance(ctx context.Context, consumerName, partitionKey string, newSeq int64) error {
	_, err := r.executor.Exec(ctx, `
		INSERT INTO event_checkpoint (consumer_name, partition_key, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer_name, partition_key)
		DO UPDATE SET
			last_sequence = GREATEST(event_checkpoint.last_sequence, EXCLUDED.last_sequence),
			updated_at = now()
	`, consumerName, partitionKey, newSeq)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
