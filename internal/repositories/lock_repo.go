package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	deviceLockPrefix      = "lock:device:"
	deviceLockRetryPeriod = 25 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lease cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisDeviceLocker serializes read-correlate-clear cycles per device across
// server instances. Leases expire after ttl in case a holder dies.
type RedisDeviceLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeviceLocker(client *redis.Client, ttl time.Duration) *RedisDeviceLocker {
	return &RedisDeviceLocker{client: client, ttl: ttl}
}

// Lock blocks until the device lease is held or ctx is done.
func (l *RedisDeviceLocker) Lock(ctx context.Context, deviceName string) (UnlockFunc, error) {
	key := deviceLockKey(deviceName)
	token := uuid.NewString()

	ticker := time.NewTicker(deviceLockRetryPeriod)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire device lock: %w", err)
		}
		if ok {
			return l.unlocker(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, deviceName)
		case <-ticker.C:
		}
	}
}

func (l *RedisDeviceLocker) unlocker(key, token string) UnlockFunc {
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			if runErr := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); runErr != nil {
				err = fmt.Errorf("failed to release device lock: %w", runErr)
			}
		})
		return err
	}
}

func deviceLockKey(deviceName string) string {
	return deviceLockPrefix + deviceName
}
