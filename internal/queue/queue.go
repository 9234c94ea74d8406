// Package queue implements the durable Redis work queue the triage pipeline
// consumes from. Reservation uses the reliable-queue pattern: BRPOPLPUSH
// moves the payload into a processing lane where it stays until the consumer
// acknowledges, retries, or dead-letters it. A crash between reserve and ack
// leaves the payload in the processing lane for the reaper to recover.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maniltns/AEGIS/internal/incident"
)

const (
	keyPending    = "aegis:queue:triage"
	keyProcessing = "aegis:queue:processing"
	keyDeadLetter = "aegis:queue:dead_letter"
	keyClaims     = "aegis:queue:claims"

	// MaxRetries is how many re-deliveries a job gets before dead-letter.
	MaxRetries = 3

	reserveTimeout = 5 * time.Second
)

// ErrEmpty is returned by Reserve when the pending queue stayed empty for
// the blocking window. Callers loop on it.
var ErrEmpty = errors.New("queue empty")

// Delivery is one reserved payload. Raw is the exact bytes sitting in the
// processing lane; Ack/Retry/DeadLetter need them verbatim for LREM.
type Delivery struct {
	Raw string
	Job incident.TriageJob
}

// Depths is the length of each lane, reported by /status.
type Depths struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	DeadLetter int64 `json:"dead_letter"`
}

// Driver is the Redis queue driver shared by the API (producer side) and
// the worker (consumer side).
type Driver struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewDriver(rdb *redis.Client, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{rdb: rdb, log: log.With("component", "queue")}
}

// Enqueue pushes a job onto the pending lane and returns the queue position
// (1-based depth after the push).
func (d *Driver) Enqueue(ctx context.Context, job incident.TriageJob) (int64, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("marshal job: %w", err)
	}
	depth, err := d.rdb.LPush(ctx, keyPending, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", job.Number, err)
	}
	return depth, nil
}

// Reserve blocks up to 5 s moving the oldest pending payload into the
// processing lane, stamps its claim, and decodes it. ErrEmpty on timeout.
// A payload that does not decode is dead-lettered immediately and the next
// call will pick up the following entry.
func (d *Driver) Reserve(ctx context.Context) (*Delivery, error) {
	raw, err := d.rdb.BRPopLPush(ctx, keyPending, keyProcessing, reserveTimeout).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}

	d.stampClaim(ctx, raw)

	var job incident.TriageJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		d.log.Error("undecodable payload, dead-lettering", "error", err)
		d.deadLetterRaw(ctx, raw, fmt.Sprintf("invalid JSON: %v", err))
		return nil, ErrEmpty
	}

	return &Delivery{Raw: raw, Job: job}, nil
}

// Ack removes a completed delivery from the processing lane.
func (d *Driver) Ack(ctx context.Context, del *Delivery) error {
	d.clearClaim(ctx, del.Raw)
	if err := d.rdb.LRem(ctx, keyProcessing, 1, del.Raw).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", del.Job.Number, err)
	}
	return nil
}

// Retry re-queues a failed delivery with an incremented retry count, or
// dead-letters it once MaxRetries is exhausted. Returns the action taken.
func (d *Driver) Retry(ctx context.Context, del *Delivery, cause string) (deadLettered bool, err error) {
	if del.Job.RetryCount >= MaxRetries {
		return true, d.DeadLetter(ctx, del, cause)
	}

	job := del.Job
	job.RetryCount++
	job.LastRetry = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal retry: %w", err)
	}

	d.clearClaim(ctx, del.Raw)
	if err := d.rdb.LRem(ctx, keyProcessing, 1, del.Raw).Err(); err != nil {
		return false, fmt.Errorf("remove from processing: %w", err)
	}
	if err := d.rdb.LPush(ctx, keyPending, payload).Err(); err != nil {
		return false, fmt.Errorf("requeue %s: %w", job.Number, err)
	}

	d.log.Info("requeued for retry",
		"incident", job.Number, "attempt", job.RetryCount, "max", MaxRetries)
	return false, nil
}

// DeadLetter moves a delivery to the dead-letter lane with failure metadata.
func (d *Driver) DeadLetter(ctx context.Context, del *Delivery, cause string) error {
	job := del.Job
	job.Error = cause
	job.FailedAt = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	d.clearClaim(ctx, del.Raw)
	if err := d.rdb.LRem(ctx, keyProcessing, 1, del.Raw).Err(); err != nil {
		return fmt.Errorf("remove from processing: %w", err)
	}
	if err := d.rdb.LPush(ctx, keyDeadLetter, payload).Err(); err != nil {
		return fmt.Errorf("dead-letter %s: %w", job.Number, err)
	}

	d.log.Error("moved to dead letter queue", "incident", job.Number, "cause", cause)
	return nil
}

// Depths reports the current lane lengths.
func (d *Driver) Depths(ctx context.Context) (Depths, error) {
	var out Depths
	var err error
	if out.Pending, err = d.rdb.LLen(ctx, keyPending).Result(); err != nil {
		return out, fmt.Errorf("pending depth: %w", err)
	}
	if out.Processing, err = d.rdb.LLen(ctx, keyProcessing).Result(); err != nil {
		return out, fmt.Errorf("processing depth: %w", err)
	}
	if out.DeadLetter, err = d.rdb.LLen(ctx, keyDeadLetter).Result(); err != nil {
		return out, fmt.Errorf("dead letter depth: %w", err)
	}
	return out, nil
}

// Reap scans the processing lane for entries whose claim is older than
// olderThan (or missing entirely, the consumer died before stamping cleanup)
// and pushes them back through Retry. Returns how many entries it recovered.
func (d *Driver) Reap(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := d.rdb.LRange(ctx, keyProcessing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan processing: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, raw := range entries {
		stamp, err := d.rdb.HGet(ctx, keyClaims, claimField(raw)).Result()
		if err == nil {
			claimedAt, perr := time.Parse(time.RFC3339, stamp)
			if perr == nil && now.Sub(claimedAt) < olderThan {
				continue // claim is fresh, consumer still working
			}
		} else if err != redis.Nil {
			return recovered, fmt.Errorf("read claim: %w", err)
		}

		var job incident.TriageJob
		if uerr := json.Unmarshal([]byte(raw), &job); uerr != nil {
			d.deadLetterRaw(ctx, raw, fmt.Sprintf("invalid JSON: %v", uerr))
			continue
		}

		del := &Delivery{Raw: raw, Job: job}
		dead, rerr := d.Retry(ctx, del, "stale processing claim")
		if rerr != nil {
			return recovered, rerr
		}
		if dead {
			d.log.Warn("stale entry exhausted retries", "incident", job.Number)
		}
		recovered++
	}
	return recovered, nil
}

func (d *Driver) stampClaim(ctx context.Context, raw string) {
	if err := d.rdb.HSet(ctx, keyClaims, claimField(raw),
		time.Now().UTC().Format(time.RFC3339)).Err(); err != nil {
		d.log.Warn("claim stamp failed", "error", err)
	}
}

func (d *Driver) clearClaim(ctx context.Context, raw string) {
	if err := d.rdb.HDel(ctx, keyClaims, claimField(raw)).Err(); err != nil {
		d.log.Warn("claim clear failed", "error", err)
	}
}

// deadLetterRaw handles payloads that never decoded: the bytes move as-is.
func (d *Driver) deadLetterRaw(ctx context.Context, raw, cause string) {
	d.clearClaim(ctx, raw)
	d.rdb.LRem(ctx, keyProcessing, 1, raw)
	if err := d.rdb.LPush(ctx, keyDeadLetter, raw).Err(); err != nil {
		d.log.Error("raw dead-letter failed", "cause", cause, "error", err)
	}
}

func claimField(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}
