package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prudhvinik1/wearsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	// DefaultPresenceTTL covers three missed 30-row batches.
	DefaultPresenceTTL = 90 * time.Second
)

type RedisPresenceRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresenceRepository(client *redis.Client, ttl time.Duration) *RedisPresenceRepository {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresenceRepository{client: client, ttl: ttl}
}

// Touch marks the device online until the TTL runs out.
func (r *RedisPresenceRepository) Touch(ctx context.Context, presence models.Presence) error {
	presence.Status = string(models.StatusOnline)

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	if err := r.client.Set(ctx, presenceKey(presence.Device), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}

	return nil
}

func (r *RedisPresenceRepository) Get(ctx context.Context, deviceName string) (models.Presence, error) {
	data, err := r.client.Get(ctx, presenceKey(deviceName)).Result()
	if err == redis.Nil {
		return models.OfflinePresence(deviceName), nil
	}
	if err != nil {
		return models.Presence{}, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence models.Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return models.Presence{}, fmt.Errorf("failed to unmarshal presence: %w", err)
	}

	return presence, nil
}

// GetBulk retrieves presence for several devices in one round trip. Missing
// or unreadable entries are reported offline.
func (r *RedisPresenceRepository) GetBulk(ctx context.Context, deviceNames []string) (map[string]models.Presence, error) {
	presenceMap := make(map[string]models.Presence, len(deviceNames))
	if len(deviceNames) == 0 {
		return presenceMap, nil
	}

	keys := make([]string, len(deviceNames))
	for i, name := range deviceNames {
		keys[i] = presenceKey(name)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk presence: %w", err)
	}

	for i, result := range results {
		name := deviceNames[i]
		presenceMap[name] = models.OfflinePresence(name)

		data, ok := result.(string)
		if !ok {
			continue
		}

		var presence models.Presence
		if err := json.Unmarshal([]byte(data), &presence); err != nil {
			continue
		}
		presenceMap[name] = presence
	}

	return presenceMap, nil
}

func presenceKey(deviceName string) string {
	return presenceKeyPrefix + deviceName
}
