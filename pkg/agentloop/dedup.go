package agentloop

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedStore implements the processed-messages dedup table (§4.5 step
// 2, §8 P10): a unique (consumer, msg_id) key makes handing a message to
// its agent handler idempotent.
type ProcessedStore struct {
	pool *pgxpool.Pool
}

// NewProcessedStore creates a ProcessedStore.
func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	return &ProcessedStore{pool: pool}
}

// AlreadyProcessed reports whether (consumer, msgID) has already been
// marked processed.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, consumer, msgID string) (bool, error) {
	var exists int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM processed_messages WHERE consumer = $1 AND msg_id = $2`,
		consumer, msgID).Scan(&exists)
	if err == nil {
		return true, nil
	}
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return false, fmt.Errorf("check processed %s/%s: %w", consumer, msgID, err)
}

// MarkProcessed records (consumer, msgID) as processed. Idempotent:
// reprocessing the same key is a no-op.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, consumer, msgID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_messages (consumer, msg_id) VALUES ($1, $2)
		 ON CONFLICT (consumer, msg_id) DO NOTHING`,
		consumer, msgID)
	if err != nil {
		return fmt.Errorf("mark processed %s/%s: %w", consumer, msgID, err)
	}
	return nil
}
