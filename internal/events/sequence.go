package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SequenceStore is the single query method the allocator needs from a
// pgx pool or transaction.
type SequenceStore interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SequenceAllocator hands out monotonic per-partition sequence numbers
// for published events.
type SequenceAllocator struct {
	store SequenceStore
}

func NewSequenceAllocator(store SequenceStore) *SequenceAllocator {
	return &SequenceAllocator{store: store}
}

func (a *SequenceAllocator) Next(ctx context.Context, partitionKey string) (int64, error) {
	var seq int64
	err := a.store.QueryRow(ctx, `
		INSERT INTO event_sequence (partition_key, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (partition_key)
		DO UPDATE SET last_sequence = event_sequence.last_sequence + 1, updated_at = now()
		RETURNING last_sequence
	`, partitionKey).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence for %s: %w", partitionKey, err)
	}
	return seq, nil
}
