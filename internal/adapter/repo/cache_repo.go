package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bulkgen/internal/domain"
)

// CacheRepositoryPG implements domain.CacheRepository. Last write wins on
// concurrent puts for the same key; the values are semantically identical.
type CacheRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCacheRepository creates a new response cache repository backed by PostgreSQL.
func NewCacheRepository(pool *pgxpool.Pool) *CacheRepositoryPG {
	return &CacheRepositoryPG{pool: pool}
}

// Get fetches an entry by key, expired or not; expiry is the caller's call.
func (r *CacheRepositoryPG) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	query := `
SELECT cache_key, model, response, tokens_used, hit_count, last_hit_at, expires_at, created_at
FROM response_cache
WHERE cache_key = $1;
`
	var entry domain.CacheEntry
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&entry.Key,
		&entry.Model,
		&entry.Response,
		&entry.TokensUsed,
		&entry.HitCount,
		&entry.LastHitAt,
		&entry.ExpiresAt,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Put upserts an entry.
func (r *CacheRepositoryPG) Put(ctx context.Context, entry *domain.CacheEntry) error {
	query := `
INSERT INTO response_cache (cache_key, model, response, tokens_used, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (cache_key) DO UPDATE
SET model = EXCLUDED.model,
    response = EXCLUDED.response,
    tokens_used = EXCLUDED.tokens_used,
    expires_at = EXCLUDED.expires_at;
`
	_, err := r.pool.Exec(ctx, query,
		entry.Key,
		entry.Model,
		entry.Response,
		entry.TokensUsed,
		entry.ExpiresAt,
		entry.CreatedAt,
	)
	return err
}

// Touch refreshes hit metadata.
func (r *CacheRepositoryPG) Touch(ctx context.Context, key string, at time.Time) error {
	query := `
UPDATE response_cache
SET hit_count = hit_count + 1,
    last_hit_at = $2
WHERE cache_key = $1;
`
	_, err := r.pool.Exec(ctx, query, key, at)
	return err
}

// Delete removes one entry.
func (r *CacheRepositoryPG) Delete(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM response_cache WHERE cache_key = $1;`, key)
	return err
}

// DeleteExpired removes every entry past expiry and reports the count.
func (r *CacheRepositoryPG) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM response_cache WHERE expires_at <= $1;`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ domain.CacheRepository = (*CacheRepositoryPG)(nil)
