package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "queue:jobs:pending"
	processingKey = "queue:jobs:processing"
)

func payloadKey(jobID string) string {
	return "queue:job:" + jobID
}

func heartbeatKey(jobID string) string {
	return "queue:job:" + jobID + ":heartbeat"
}

// RedisQueue implements Queue on go-redis/v9.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a RedisQueue from a Redis URL.
func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisQueue{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, p Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	id := p.JobID.String()
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, payloadKey(id), raw, 0)
	pipe.LPush(ctx, pendingKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (*Payload, error) {
	id, err := q.client.BLMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	raw, err := q.client.Get(ctx, payloadKey(id)).Bytes()
	if err == redis.Nil {
		// Payload vanished underneath the id; drop the orphan.
		q.client.LRem(ctx, processingKey, 1, id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch payload: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		q.client.LRem(ctx, processingKey, 1, id)
		q.client.Del(ctx, payloadKey(id))
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	if err := q.Heartbeat(ctx, p.JobID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *RedisQueue) Heartbeat(ctx context.Context, jobID uuid.UUID) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := q.client.Set(ctx, heartbeatKey(jobID.String()), now, 0).Err(); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID uuid.UUID) error {
	id := jobID.String()
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, id)
	pipe.Del(ctx, payloadKey(id), heartbeatKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// RequeueStale scans the processing list and moves every job whose
// heartbeat is missing or older than cutoff back to pending. Run
// periodically; after a process crash this is what makes abandoned jobs
// runnable again.
func (q *RedisQueue) RequeueStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	ids, err := q.client.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan processing list: %w", err)
	}

	var moved []uuid.UUID
	for _, id := range ids {
		raw, err := q.client.Get(ctx, heartbeatKey(id)).Result()
		if err != nil && err != redis.Nil {
			return moved, fmt.Errorf("read heartbeat: %w", err)
		}

		stale := err == redis.Nil
		if !stale {
			hb, parseErr := time.Parse(time.RFC3339Nano, raw)
			stale = parseErr != nil || hb.Before(cutoff)
		}
		if !stale {
			continue
		}

		jobID, err := uuid.Parse(id)
		if err != nil {
			q.client.LRem(ctx, processingKey, 1, id)
			continue
		}

		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, processingKey, 1, id)
		pipe.LPush(ctx, pendingKey, id)
		pipe.Del(ctx, heartbeatKey(id))
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, fmt.Errorf("requeue stale job %s: %w", id, err)
		}
		moved = append(moved, jobID)
	}
	return moved, nil
}

var _ Queue = (*RedisQueue)(nil)
