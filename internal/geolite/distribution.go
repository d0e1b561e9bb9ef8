package geolite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "iptrack:geolite:file:"
	redisChannel   = "iptrack:geolite:updates"
	redisOpTimeout = 30 * time.Second
)

type updatePayload struct {
	File      string `json:"file"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// EnableRedisDistribution replicates the City database through Redis so that
// only one node has to download it. The current copy in Redis (if any) is
// installed immediately and later updates are applied as they are announced.
func (u *Updater) EnableRedisDistribution(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("GeoLite redis distribution disabled: redis client is nil")
		return
	}

	u.mu.Lock()
	if u.redis != nil {
		u.mu.Unlock()
		return
	}
	u.redis = client
	u.mu.Unlock()

	go func() {
		if updated, err := u.fetchFromRedis(ctx, client); err != nil {
			log.Error("geolite redis sync: initial load failed", "error", err)
		} else if updated {
			log.Info("geolite redis sync: loaded database from redis")
		}
	}()

	go u.subscribe(ctx, client)
}

func (u *Updater) redisClient() *redis.Client {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.redis
}

func (u *Updater) publish(ctx context.Context) error {
	client := u.redisClient()
	if client == nil {
		return nil
	}

	name := filepath.Base(u.db.Path())
	data, err := os.ReadFile(u.db.Path())
	if err != nil {
		return fmt.Errorf("geolite redis sync: read %s: %w", name, err)
	}

	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	if err := client.Set(opCtx, redisKey(name), data, 0).Err(); err != nil {
		return fmt.Errorf("geolite redis sync: store %s: %w", name, err)
	}

	payload, err := json.Marshal(updatePayload{
		File:      name,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("geolite redis sync: serialize payload: %w", err)
	}
	return client.Publish(opCtx, redisChannel, payload).Err()
}

func (u *Updater) subscribe(ctx context.Context, client *redis.Client) {
	pubsub := client.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("geolite redis sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var payload updatePayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			log.Error("geolite redis sync: invalid payload", "error", err)
			continue
		}

		if updated, err := u.fetchFromRedis(ctx, client); err != nil {
			log.Error("geolite redis sync: failed to apply update", "error", err)
		} else if updated {
			log.Info("geolite redis sync: applied update", "file", payload.File, "updated_at", payload.UpdatedAt)
		}
	}
}

func (u *Updater) fetchFromRedis(ctx context.Context, client *redis.Client) (bool, error) {
	name := filepath.Base(u.db.Path())

	opCtx, cancel := redisTimeoutCtx(ctx)
	data, err := client.Get(opCtx, redisKey(name)).Bytes()
	cancel()
	if errors.Is(err, redis.Nil) || (err == nil && len(data) == 0) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := writeToFile(u.db.Path(), bytes.NewReader(data)); err != nil {
		return false, fmt.Errorf("geolite redis sync: write %s: %w", name, err)
	}
	if err := u.db.Reload(); err != nil {
		return false, fmt.Errorf("geolite redis sync: reload database: %w", err)
	}
	return true, nil
}

func redisKey(filename string) string {
	return redisKeyPrefix + filename
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= redisOpTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisOpTimeout)
}
