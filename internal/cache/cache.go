// Package cache stores weather payloads in a kvstore.Store using two tiers:
// a gzip-compressed entry, preferred on read, and a plain fallback. Writes
// shorten the TTL by the age of the observation and maintain a per-location
// index entry that outlives the payload.
//
// Cache operations never return errors. Store failures, timeouts and corrupt
// entries are logged and reported as a miss or a failed write.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/i474232898/weather-gateway/internal/common"
	"github.com/i474232898/weather-gateway/internal/kvstore"
	"github.com/i474232898/weather-gateway/internal/telemetry"
)

const (
	weatherPrefix    = "weather:"
	locationPrefix   = "location:"
	compressedSuffix = ":compressed"
)

// Observed is implemented by payloads that carry an observation time. Their
// TTL is shortened by the observation's age.
type Observed interface {
	ObservedAt() time.Time
}

// Config controls compression, TTL floor and store timeouts.
type Config struct {
	// Compression enables the gzip tier.
	Compression bool
	// CompressMinBytes is the smallest serialized payload that gets
	// compressed. Zero compresses everything.
	CompressMinBytes int
	// MinTTL is the floor for the adaptive TTL.
	MinTTL time.Duration
	// OpTimeout bounds every store call.
	OpTimeout time.Duration
	// Serializer is "json" or "msgpack".
	Serializer string
}

// Cache is the tiered payload cache. It is safe for concurrent use.
type Cache struct {
	store   kvstore.Store
	cfg     Config
	codec   Serializer
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

type locationIndex struct {
	PrimaryCacheKey string    `json:"primary_cache_key"`
	LastUpdated     time.Time `json:"last_updated"`
}

// New builds a Cache over store. metrics may be nil.
func New(store kvstore.Store, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) (*Cache, error) {
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = 5 * time.Minute
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	if cfg.CompressMinBytes < 0 {
		cfg.CompressMinBytes = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := NewSerializer(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	return &Cache{
		store:   store,
		cfg:     cfg,
		codec:   codec,
		logger:  logger.With(slog.String("component", "cache")),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// WeatherKey is the plain-tier key for subject.
func WeatherKey(subject string) string {
	return weatherPrefix + common.NormalizeSubject(subject)
}

// CompressedKey is the compressed-tier key for subject.
func CompressedKey(subject string) string {
	return WeatherKey(subject) + compressedSuffix
}

// LocationKey is the index key for subject.
func LocationKey(subject string) string {
	return locationPrefix + common.NormalizeSubject(subject)
}

// Get decodes the cached payload for subject into dest and reports whether it
// was found. A compressed entry wins over a plain one; a corrupt entry is a
// miss.
func (c *Cache) Get(ctx context.Context, subject string, dest any) bool {
	key := WeatherKey(subject)
	log := c.logger.With(slog.String("key", key))

	data, err := c.read(ctx, key+compressedSuffix)
	switch {
	case err == nil:
		raw, err := decompress(data)
		if err != nil {
			log.Warn("discarding undecodable compressed entry", slog.Any("error", err))
			c.metrics.CacheLookup("miss", "compressed")
			return false
		}
		if err := c.codec.Unmarshal(raw, dest); err != nil {
			log.Warn("discarding undecodable compressed entry", slog.Any("error", err))
			c.metrics.CacheLookup("miss", "compressed")
			return false
		}
		c.metrics.CacheLookup("hit", "compressed")
		return true

	case !errors.Is(err, kvstore.ErrNotFound):
		log.Warn("cache read failed", slog.Any("error", err))
		c.metrics.CacheLookup("miss", "error")
		return false
	}

	data, err = c.read(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			log.Warn("cache read failed", slog.Any("error", err))
			c.metrics.CacheLookup("miss", "error")
			return false
		}
		c.metrics.CacheLookup("miss", "none")
		return false
	}
	if err := c.codec.Unmarshal(data, dest); err != nil {
		log.Warn("discarding undecodable entry", slog.Any("error", err))
		c.metrics.CacheLookup("miss", "plain")
		return false
	}
	c.metrics.CacheLookup("hit", "plain")
	return true
}

// Set stores value for subject and refreshes the location index. It reports
// whether every write succeeded.
func (c *Cache) Set(ctx context.Context, subject string, value any, baseTTL time.Duration) bool {
	key := WeatherKey(subject)
	log := c.logger.With(slog.String("key", key))

	ok := c.set(ctx, subject, value, baseTTL, log)
	if ok {
		c.metrics.CacheWrite("ok")
	} else {
		c.metrics.CacheWrite("failed")
	}
	return ok
}

func (c *Cache) set(ctx context.Context, subject string, value any, baseTTL time.Duration, log *slog.Logger) bool {
	key := WeatherKey(subject)

	data, err := c.codec.Marshal(value)
	if err != nil {
		log.Error("cache serialize failed", slog.Any("error", err))
		return false
	}

	ttl := c.effectiveTTL(value, baseTTL)

	if c.cfg.Compression && len(data) >= c.cfg.CompressMinBytes {
		packed, err := compress(data)
		if err != nil {
			log.Error("cache compress failed", slog.Any("error", err))
			return false
		}
		if err := c.write(ctx, key+compressedSuffix, packed, ttl); err != nil {
			log.Error("cache write failed", slog.Any("error", err))
			return false
		}
		c.discard(ctx, key, log)
	} else {
		if err := c.write(ctx, key, data, ttl); err != nil {
			log.Error("cache write failed", slog.Any("error", err))
			return false
		}
		// A stale compressed entry would shadow the fresh plain one.
		c.discard(ctx, key+compressedSuffix, log)
	}

	index, err := json.Marshal(locationIndex{PrimaryCacheKey: key, LastUpdated: c.now().UTC()})
	if err != nil {
		log.Error("location index serialize failed", slog.Any("error", err))
		return false
	}
	if err := c.write(ctx, LocationKey(subject), index, 2*ttl); err != nil {
		log.Error("location index write failed", slog.Any("error", err))
		return false
	}

	log.Debug("cached payload", slog.Duration("ttl", ttl))
	return true
}

// LastUpdated returns when subject was last written, from the location index.
func (c *Cache) LastUpdated(ctx context.Context, subject string) (time.Time, bool) {
	data, err := c.read(ctx, LocationKey(subject))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn("location index read failed",
				slog.String("subject", subject), slog.Any("error", err))
		}
		return time.Time{}, false
	}

	var idx locationIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return time.Time{}, false
	}
	return idx.LastUpdated, true
}

// Invalidate removes both tiers and the index entry for subject.
func (c *Cache) Invalidate(ctx context.Context, subject string) bool {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()

	key := WeatherKey(subject)
	if err := c.store.Delete(opCtx, key, key+compressedSuffix, LocationKey(subject)); err != nil {
		c.logger.Warn("cache invalidate failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

// effectiveTTL is max(MinTTL, baseTTL - age) for observed payloads and
// baseTTL otherwise. Age is counted in whole seconds.
func (c *Cache) effectiveTTL(value any, baseTTL time.Duration) time.Duration {
	obs, ok := value.(Observed)
	if !ok {
		return baseTTL
	}
	at := obs.ObservedAt()
	if at.IsZero() {
		return baseTTL
	}

	age := c.now().Sub(at).Truncate(time.Second)
	if age < 0 {
		age = 0
	}
	return max(c.cfg.MinTTL, baseTTL-age)
}

func (c *Cache) read(ctx context.Context, key string) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	return c.store.Get(opCtx, key)
}

func (c *Cache) write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	return c.store.Set(opCtx, key, value, ttl)
}

func (c *Cache) discard(ctx context.Context, key string, log *slog.Logger) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	if err := c.store.Delete(opCtx, key); err != nil {
		log.Debug("stale tier cleanup failed", slog.String("stale_key", key), slog.Any("error", err))
	}
}
