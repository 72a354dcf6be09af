package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SettingRepository reads deployment settings with a Redis read-through
// cache. Settings change rarely (late threshold, token window) so a short
// TTL keeps validation off the database hot path.
type SettingRepository struct {
	db     *sqlx.DB
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSettingRepository constructs the repository. A nil cache client
// degrades to direct database reads.
func NewSettingRepository(db *sqlx.DB, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *SettingRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SettingRepository{db: db, cache: cache, ttl: ttl, logger: logger}
}

// Get returns the setting value or the supplied default when the key is
// absent. Cache failures are logged and fall through to the database.
func (r *SettingRepository) Get(ctx context.Context, key, fallback string) string {
	cacheKey := "presensia:setting:" + key

	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, cacheKey).Result(); err == nil {
			return cached
		} else if err != redis.Nil {
			r.logger.Warn("setting cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = $1`, key)
	if err != nil {
		if err != sql.ErrNoRows {
			r.logger.Warn("setting read failed", zap.String("key", key), zap.Error(err))
		}
		return fallback
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, value, r.ttl).Err(); err != nil {
			r.logger.Warn("setting cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return value
}

// GetInt parses the setting as an integer, falling back on absence or a
// malformed value.
func (r *SettingRepository) GetInt(ctx context.Context, key string, fallback int) int {
	raw := r.Get(ctx, key, "")
	if raw == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(raw, "%d", &parsed); err != nil {
		return fallback
	}
	return parsed
}
