package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"foodrescue/internal/model"
	"foodrescue/internal/repository"
	"foodrescue/pkg/log"
)

// LotCache is a read-mostly cache in front of the lot repository. Lot rows
// change rarely compared to how often reservation creation and notification
// enrichment read them. Quantity served from cache may be slightly stale;
// the conditional decrement at the store remains the source of truth.
type LotCache struct {
	repo  repository.LotRepository
	cache *bigcache.BigCache
}

// NewLotCache creates a lot cache with the given entry TTL
func NewLotCache(repo repository.LotRepository, ttl time.Duration) (*LotCache, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	cfg := bigcache.DefaultConfig(ttl)
	cfg.Verbose = false

	c, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	return &LotCache{repo: repo, cache: c}, nil
}

// GetByID returns the lot, from cache when possible.
func (c *LotCache) GetByID(ctx context.Context, id uint64) (*model.Lot, error) {
	key := lotKey(id)

	if data, err := c.cache.Get(key); err == nil {
		var lot model.Lot
		if err := json.Unmarshal(data, &lot); err == nil {
			return &lot, nil
		}
	}

	lot, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(lot); err == nil {
		if err := c.cache.Set(key, data); err != nil {
			log.WithError(err).Debug("Failed to cache lot")
		}
	}

	return lot, nil
}

// Invalidate drops the cached entry, e.g. after the merchant edits the lot.
func (c *LotCache) Invalidate(id uint64) {
	// Delete on a missing key is not an error worth reporting.
	_ = c.cache.Delete(lotKey(id))
}

func lotKey(id uint64) string {
	return fmt.Sprintf("lot:%d", id)
}
