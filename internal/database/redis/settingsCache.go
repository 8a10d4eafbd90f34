package cache

import (
	"context"
	"errors"
	"time"

	repository "github.com/ds124wfegd/transferbook/internal/database/postgres"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// missingMarker caches "setting not present" so absent keys do not hit Postgres on every read.
const missingMarker = "\x00missing"

// SettingsCache is a read-through cache over the settings table.
// Redis failures degrade to direct repository reads.
type SettingsCache struct {
	repo   repository.SettingsRepository
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewSettingsCache(repo repository.SettingsRepository, client *redis.Client, ttl time.Duration) *SettingsCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SettingsCache{
		repo:   repo,
		client: client,
		prefix: "settings:",
		ttl:    ttl,
	}
}

func (c *SettingsCache) Get(ctx context.Context, key string) (string, bool, error) {
	cached, err := c.client.Get(ctx, c.prefix+key).Result()
	switch {
	case err == nil:
		if cached == missingMarker {
			return "", false, nil
		}
		return cached, true, nil
	case !errors.Is(err, redis.Nil):
		logrus.WithError(err).WithField("key", key).Warn("Settings cache unavailable, reading from database")
	}

	value, ok, err := c.repo.Get(ctx, key)
	if err != nil {
		return "", false, err
	}

	stored := value
	if !ok {
		stored = missingMarker
	}
	if err := c.client.Set(ctx, c.prefix+key, stored, c.ttl).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Debug("Failed to cache setting")
	}
	return value, ok, nil
}

// Set writes through to the database and drops the cached copy.
func (c *SettingsCache) Set(ctx context.Context, key, value string) error {
	if err := c.repo.Set(ctx, key, value); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Failed to invalidate cached setting")
	}
	return nil
}
