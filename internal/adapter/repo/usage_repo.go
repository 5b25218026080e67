package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"bulkgen/internal/domain"
)

// UsageRepositoryPG implements domain.UsageRecorder.
type UsageRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUsageRepository creates a new usage repository backed by PostgreSQL.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepositoryPG {
	return &UsageRepositoryPG{pool: pool}
}

// Record inserts one usage record.
func (r *UsageRepositoryPG) Record(ctx context.Context, rec *domain.UsageRecord) error {
	query := `
INSERT INTO usage_records (id, job_id, user_id, rows_processed, input_tokens, output_tokens, estimated_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.JobID,
		rec.UserID,
		rec.RowsProcessed,
		rec.InputTokens,
		rec.OutputTokens,
		rec.EstimatedCost,
	)
	return err
}

var _ domain.UsageRecorder = (*UsageRepositoryPG)(nil)
