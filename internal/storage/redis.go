// Package storage owns the shared Redis connection. Every AEGIS process
// (api, worker, scheduler) opens a single client here; queues, governance,
// counters and result storage all live in the same logical database.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens a go-redis client and verifies connectivity with a ping.
// Callers own the returned client and must Close it on shutdown.
func Connect(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  10 * time.Second, // BRPOPLPUSH blocks up to 5s
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return rdb, nil
}

// Healthy reports whether the Redis connection is currently usable.
func Healthy(ctx context.Context, rdb *redis.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err() == nil
}

// DayKey renders the UTC day bucket suffix used by daily counters,
// e.g. stats:processed:20250316.
func DayKey(prefix string, t time.Time) string {
	return prefix + ":" + t.UTC().Format("20060102")
}
