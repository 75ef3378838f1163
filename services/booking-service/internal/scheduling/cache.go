package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/availability"
	"github.com/redis/go-redis/v9"
)

// Cache is the byte store behind CachedProvider.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// CachedProvider keeps store schedules and service durations in a Cache for ttl.
// Time off is always read through. Cache failures degrade to the inner provider.
type CachedProvider struct {
	inner  Provider
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedProvider(inner Provider, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

var _ Provider = (*CachedProvider)(nil)

func scheduleKey(businessID string) string {
	return "schedule:" + businessID + ":store"
}

// Durations live in a per-business generation so Invalidate does not need to know
// every service id.
func durationKey(businessID, generation, serviceID string) string {
	return "schedule:" + businessID + ":svc:" + generation + ":" + serviceID
}

func generationKey(businessID string) string {
	return "schedule:" + businessID + ":gen"
}

func (p *CachedProvider) StoreSchedule(ctx context.Context, businessID string) (availability.Store, error) {
	key := scheduleKey(businessID)
	if b, ok, err := p.cache.Get(ctx, key); err != nil {
		p.logger.Warn("schedule cache read failed", "err", err, "business_id", businessID)
	} else if ok {
		var store availability.Store
		if err := json.Unmarshal(b, &store); err == nil {
			return store, nil
		}
	}

	store, err := p.inner.StoreSchedule(ctx, businessID)
	if err != nil {
		return availability.Store{}, err
	}
	if b, err := json.Marshal(store); err == nil {
		if err := p.cache.Set(ctx, key, b, p.ttl); err != nil {
			p.logger.Warn("schedule cache write failed", "err", err, "business_id", businessID)
		}
	}
	return store, nil
}

func (p *CachedProvider) ServiceDuration(ctx context.Context, businessID, serviceID string) (time.Duration, error) {
	gen := p.generation(ctx, businessID)
	key := durationKey(businessID, gen, serviceID)
	if b, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		if mins, err := strconv.Atoi(string(b)); err == nil && mins > 0 {
			return time.Duration(mins) * time.Minute, nil
		}
	}

	d, err := p.inner.ServiceDuration(ctx, businessID, serviceID)
	if err != nil {
		return 0, err
	}
	if err := p.cache.Set(ctx, key, []byte(strconv.Itoa(int(d/time.Minute))), p.ttl); err != nil {
		p.logger.Warn("duration cache write failed", "err", err, "business_id", businessID)
	}
	return d, nil
}

func (p *CachedProvider) TimeOff(ctx context.Context, businessID string, from, to time.Time) ([]availability.Appointment, error) {
	return p.inner.TimeOff(ctx, businessID, from, to)
}

// Invalidate drops everything cached for businessID.
func (p *CachedProvider) Invalidate(ctx context.Context, businessID string) error {
	next := strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := p.cache.Set(ctx, generationKey(businessID), []byte(next), 0); err != nil {
		return err
	}
	return p.cache.Delete(ctx, scheduleKey(businessID))
}

func (p *CachedProvider) generation(ctx context.Context, businessID string) string {
	b, ok, err := p.cache.Get(ctx, generationKey(businessID))
	if err != nil || !ok {
		return "0"
	}
	return string(b)
}
