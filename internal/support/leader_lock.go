package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leaderRetryDelay     = time.Second
	leaderOpTimeout      = 5 * time.Second
)

var (
	leaderSeq atomic.Uint64

	// Both scripts only touch the key while it still carries our token.
	extendLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	dropLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

var errLeaseLost = errors.New("leader lease lost")

// RunWithLeader acquires a Redis-based leadership lock and invokes run while the
// lock is held, so that scheduled jobs never overlap across instances. run gets
// a context that is cancelled when leadership is lost or the parent context is
// done. The lease is extended at a third of ttl and dropped when run returns.
//
// With a nil client there is nothing to coordinate with and run is invoked
// directly with the parent context.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if client == nil {
		run(ctx)
		return ctx.Err()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	token := leaderToken()

	for {
		acquired, err := client.SetNX(ctx, key, token, ttl).Result()
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Warn("leader lock: setnx failed", "key", key, "error", err)
		case acquired:
			log.Info("leader lock: acquired", "key", key)
			holdLease(ctx, client, key, token, ttl, run)
			log.Debug("leader lock: released", "key", key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leaderRetryDelay):
		}
	}
}

func holdLease(ctx context.Context, client *redis.Client, key, token string, ttl time.Duration, run func(context.Context)) {
	leaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		interval := max(ttl/3, time.Second)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				if err := extendLease(client, key, token, ttl); err != nil {
					log.Warn("leader lock: renewal failed", "key", key, "error", err)
					cancel()
					return
				}
			}
		}
	}()

	run(leaseCtx)
	cancel()
	<-done

	opCtx, opCancel := context.WithTimeout(context.Background(), leaderOpTimeout)
	defer opCancel()
	if err := dropLeaseScript.Run(opCtx, client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn("leader lock: release failed", "key", key, "error", err)
	}
}

func extendLease(client *redis.Client, key, token string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), leaderOpTimeout)
	defer cancel()

	res, err := extendLeaseScript.Run(ctx, client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return errLeaseLost
	}
	return nil
}

func leaderToken() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), leaderSeq.Add(1))
}
