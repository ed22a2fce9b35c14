package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jinsi-erp/jinsi-erp/internal/shared"
)

// Reconstructor is the read side CachedService wraps.
type Reconstructor interface {
	Reconstruct(ctx context.Context, itemName, fiscalYear, classification string) ([]Row, error)
}

// CachedService keeps reconstructed ledgers in redis keyed by fiscal year and
// canonical item name. Reconstruction is pure, so a stale-free cache only
// needs invalidation on the transitions that touch an item.
type CachedService struct {
	inner  Reconstructor
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedService wraps a reconstructor with a redis cache.
func NewCachedService(inner Reconstructor, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedService {
	return &CachedService{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(itemName, fiscalYear string) string {
	return fmt.Sprintf("ledger:%s:%s", fiscalYear, shared.CanonicalName(itemName))
}

// Reconstruct serves from redis when possible. Classification-filtered
// requests bypass the cache; the full ledger is the common path.
func (c *CachedService) Reconstruct(ctx context.Context, itemName, fiscalYear, classification string) ([]Row, error) {
	if classification != "" {
		return c.inner.Reconstruct(ctx, itemName, fiscalYear, classification)
	}
	key := cacheKey(itemName, fiscalYear)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var rows []Row
		if err := json.Unmarshal(payload, &rows); err == nil {
			return rows, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("ledger cache read", slog.String("key", key), slog.Any("error", err))
	}
	rows, err := c.inner.Reconstruct(ctx, itemName, fiscalYear, classification)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(rows); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("ledger cache write", slog.String("key", key), slog.Any("error", err))
		}
	}
	return rows, nil
}

// Invalidate drops the cached ledger for an item and fiscal year.
func (c *CachedService) Invalidate(ctx context.Context, itemName, fiscalYear string) error {
	return c.client.Del(ctx, cacheKey(itemName, fiscalYear)).Err()
}
