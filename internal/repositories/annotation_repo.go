package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prudhvinik1/wearsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const pendingAnnotationPrefix = "annotation:pending:"

// RedisAnnotationRepository keeps one pending-annotation record per device.
// Records never expire; clearing writes the empty record back.
type RedisAnnotationRepository struct {
	client *redis.Client
}

func NewRedisAnnotationRepository(client *redis.Client) *RedisAnnotationRepository {
	return &RedisAnnotationRepository{client: client}
}

// GetPending returns the device's slot, or the cleared slot when nothing was
// ever registered.
func (r *RedisAnnotationRepository) GetPending(ctx context.Context, deviceName string) (models.PendingAnnotation, error) {
	data, err := r.client.Get(ctx, pendingAnnotationKey(deviceName)).Result()
	if errors.Is(err, redis.Nil) {
		return models.ClearedAnnotation(deviceName), nil
	}
	if err != nil {
		return models.PendingAnnotation{}, fmt.Errorf("failed to get pending annotation: %w", err)
	}

	var annotation models.PendingAnnotation
	if err := json.Unmarshal([]byte(data), &annotation); err != nil {
		return models.PendingAnnotation{}, fmt.Errorf("failed to unmarshal pending annotation: %w", err)
	}

	return annotation, nil
}

// SavePending overwrites the whole slot.
func (r *RedisAnnotationRepository) SavePending(ctx context.Context, deviceName string, annotation models.PendingAnnotation) error {
	data, err := json.Marshal(annotation)
	if err != nil {
		return fmt.Errorf("failed to marshal pending annotation: %w", err)
	}

	if err := r.client.Set(ctx, pendingAnnotationKey(deviceName), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save pending annotation: %w", err)
	}

	return nil
}

func pendingAnnotationKey(deviceName string) string {
	return pendingAnnotationPrefix + deviceName
}
