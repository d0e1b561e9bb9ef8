package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	instanceHeartbeatKeyPrefix = "iptrack:instance:"
	heartbeatInterval          = 15 * time.Second
	heartbeatTTL               = 30 * time.Second
	heartbeatScanCount         = 100
)

var instanceID = generateInstanceID()

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

func heartbeatKey() string {
	return instanceHeartbeatKeyPrefix + instanceID
}

// StartInstanceHeartbeat marks this instance alive in Redis until ctx is
// done. The key expires on its own when the process dies.
func StartInstanceHeartbeat(ctx context.Context, client *redis.Client) {
	if client == nil {
		return
	}

	key := heartbeatKey()
	beat := func() {
		if err := client.SetEx(ctx, key, "alive", heartbeatTTL).Err(); err != nil && ctx.Err() == nil {
			log.Error("Failed to update instance heartbeat", "key", key, "error", err)
		}
	}

	beat()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dropCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = client.Del(dropCtx, key).Err()
			cancel()
			return
		case <-ticker.C:
			beat()
		}
	}
}

// CountActiveInstances returns how many instances sent a heartbeat within
// the last TTL.
func CountActiveInstances(ctx context.Context, client *redis.Client) (int, error) {
	if client == nil {
		return 1, nil
	}

	count := 0
	iter := client.Scan(ctx, 0, instanceHeartbeatKeyPrefix+"*", heartbeatScanCount).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
