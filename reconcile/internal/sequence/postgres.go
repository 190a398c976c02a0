package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crimeapps/drc-integration/common/database"
)

const (
	batchSequence = "drc_batch_id_seq"
	traceSequence = "drc_trace_id_seq"
)

// PostgresSequencer draws from database sequences created by the migrations.
// nextval is non-transactional, so ids are never handed out twice even if
// the surrounding work fails.
type PostgresSequencer struct {
	pool *pgxpool.Pool
}

func NewPostgresSequencer(pool *pgxpool.Pool) *PostgresSequencer {
	return &PostgresSequencer{pool: pool}
}

func (s *PostgresSequencer) NextBatchID(ctx context.Context) (int64, error) {
	return s.next(ctx, batchSequence)
}

func (s *PostgresSequencer) NextTraceID(ctx context.Context) (int64, error) {
	return s.next(ctx, traceSequence)
}

func (s *PostgresSequencer) next(ctx context.Context, sequence string) (int64, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval($1::regclass)`, sequence).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnavailable, sequence, err)
	}
	return id, nil
}
