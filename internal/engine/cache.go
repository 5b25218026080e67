package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"bulkgen/internal/domain"
)

// cacheKeySeparator keeps the three key components from colliding when their
// boundaries shift (unit separator never appears in normalized text).
const cacheKeySeparator = "\x1f"

const defaultCacheTTL = 24 * time.Hour

// Longer-lived entries for the more expensive models.
var cacheTTLByModel = map[string]time.Duration{
	"gpt-4o":         72 * time.Hour,
	"gemini-1.5-pro": 72 * time.Hour,
	"gpt-4o-mini":    48 * time.Hour,
}

// CacheHit is a successful cache lookup.
type CacheHit struct {
	Response   string
	TokensUsed int
}

// ResponseCache memoizes model responses content-addressed by model,
// instructions, and user content. It is strictly best effort: lookup and
// write failures degrade to cache misses and never surface to the caller.
type ResponseCache struct {
	repo   domain.CacheRepository
	logger zerolog.Logger
	folder cases.Caser
	now    func() time.Time
}

func NewResponseCache(repo domain.CacheRepository, logger zerolog.Logger) *ResponseCache {
	return &ResponseCache{
		repo:   repo,
		logger: logger,
		folder: cases.Fold(),
		now:    time.Now,
	}
}

// Key derives the deterministic cache key. Model and instructions are trimmed
// and case-folded; the user prompt is additionally whitespace-collapsed so
// incidental formatting differences hit the same entry.
func (c *ResponseCache) Key(model, systemPrompt, userPrompt string) string {
	parts := []string{
		c.folder.String(strings.TrimSpace(model)),
		c.folder.String(strings.TrimSpace(systemPrompt)),
		c.folder.String(collapseWhitespace(userPrompt)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, cacheKeySeparator)))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for key, or ok=false on a miss. Expired
// entries are deleted on sight. A hit triggers an asynchronous metadata
// refresh that never delays the caller.
func (c *ResponseCache) Get(ctx context.Context, key string) (*CacheHit, bool) {
	entry, err := c.repo.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn().Err(err).Str("cache_key", key).Msg("cache: lookup failed")
		}
		return nil, false
	}
	if entry.Expired(c.now()) {
		if err := c.repo.Delete(ctx, key); err != nil {
			c.logger.Warn().Err(err).Str("cache_key", key).Msg("cache: expired delete failed")
		}
		return nil, false
	}

	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.repo.Touch(touchCtx, key, c.now()); err != nil {
			c.logger.Debug().Err(err).Str("cache_key", key).Msg("cache: touch failed")
		}
	}()

	return &CacheHit{Response: entry.Response, TokensUsed: entry.TokensUsed}, true
}

// Put stores a response with the model's TTL. Failures are logged and swallowed.
func (c *ResponseCache) Put(ctx context.Context, key, model, response string, tokensUsed int) {
	now := c.now()
	entry := &domain.CacheEntry{
		Key:        key,
		Model:      model,
		Response:   response,
		TokensUsed: tokensUsed,
		ExpiresAt:  now.Add(ttlForModel(model)),
		CreatedAt:  now,
	}
	if err := c.repo.Put(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Str("model", model).Msg("cache: write failed")
	}
}

// Sweep deletes all expired entries and returns how many were removed.
func (c *ResponseCache) Sweep(ctx context.Context) (int64, error) {
	return c.repo.DeleteExpired(ctx, c.now())
}

func ttlForModel(model string) time.Duration {
	if ttl, ok := cacheTTLByModel[strings.ToLower(strings.TrimSpace(model))]; ok {
		return ttl
	}
	return defaultCacheTTL
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
