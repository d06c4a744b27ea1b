package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// Job is the provisioning message carried from the API to a worker.
type Job struct {
	ProjectID int64  `json:"projectId"`
	Type      string `json:"type"`
}

// Handler processes one delivered job. Returning an error logs the failure;
// delivery is at-least-once, so handlers must be idempotent.
type Handler func(ctx context.Context, job Job) error

// Queue is a durable, ordered job channel backed by a Redis list.
type Queue struct {
	client *redis.Client
	name   string
	logger *slog.Logger
}

const (
	popTimeout   = 5 * time.Second
	retryBackoff = time.Second
)

// New connects to Redis and returns a Queue bound to the named list.
func New(addr, password string, db int, name string, logger *slog.Logger) (*Queue, error) {
	if name == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect queue redis: %w", err)
	}
	return &Queue{client: client, name: name, logger: logger}, nil
}

// Publish appends a job to the queue.
func (q *Queue) Publish(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	q.logger.Info("job published", "queue", q.name, "project_id", job.ProjectID, "type", job.Type)
	return nil
}

// Consume pops jobs until the context is cancelled. Handler failures are
// logged and consumption continues; transient Redis errors back off briefly
// instead of spinning.
func (q *Queue) Consume(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("nil job handler")
	}
	for {
		values, err := q.client.BRPop(ctx, popTimeout, q.name).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error("queue pop failed", "queue", q.name, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
			continue
		}
		// BRPop returns [key, value].
		if len(values) != 2 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
			q.logger.Error("discarding malformed job", "queue", q.name, "error", err)
			continue
		}
		q.logger.Info("job received", "queue", q.name, "project_id", job.ProjectID, "type", job.Type)
		if err := handler(ctx, job); err != nil {
			q.logger.Error("job handler failed", "queue", q.name, "project_id", job.ProjectID, "error", err)
		}
	}
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
