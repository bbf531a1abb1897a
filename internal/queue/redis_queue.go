package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"channel-audit/internal/config"
)

// RedisQueue is the bounded work queue between submission and the
// worker pool. One entry per submission, no implicit retry: a dequeued
// id sits in the inflight set until acked, purely for observability.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg.QueueName, cfg.VisibilityTimeout)
}

// NewRedisQueueWithClient wires an existing client, used by tests.
func NewRedisQueueWithClient(client *redis.Client, readyKey string, visibility time.Duration) *RedisQueue {
	if readyKey == "" {
		readyKey = "audits:ready"
	}
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      readyKey,
		inflightKey:   readyKey + ":inflight",
		visibilityTTL: visibility,
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue appends a job id to the ready queue.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.readyKey, jobID).Err()
}

// DequeueWithLease pops the oldest ready job and records it in the
// inflight set with a visibility deadline. Returns "" when the queue
// is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// Ack removes a job from inflight tracking.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.inflightKey, jobID).Err()
}

// Depth returns the length of the ready queue.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InflightCount returns how many jobs are leased but not yet acked.
func (q *RedisQueue) InflightCount(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
