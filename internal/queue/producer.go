package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"kairo.dev/agent/common/logger"
)

// Producer enqueues run requests onto a Redis stream.
type Producer interface {
	Enqueue(ctx context.Context, task Task) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{
		client: client,
		stream: stream,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task Task) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "agent.queue.producer",
	})

	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}
	if task.TaskType == "" {
		task.TaskType = TaskTypeRunRequest
	}

	fields := map[string]any{
		"task_type": string(task.TaskType),
		"run_id":    task.RunID,
		"goal":      task.Goal,
		"attempt":   attempt,
	}
	for k, v := range task.Context {
		fields["ctx."+k] = v
	}

	traceIDStr := ""
	if task.TraceID != nil && *task.TraceID != "" {
		fields["trace_id"] = *task.TraceID
		traceIDStr = *task.TraceID
	}

	// TODO: add MAXLEN to XAdd to cap stream growth; unbounded streams grow
	// until out of memory.
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue run request (stream=%s): %w", p.stream, err)
	}

	slog.InfoContext(ctx, "enqueued run request",
		"run_id", task.RunID,
		"attempt", attempt,
		"trace_id", traceIDStr,
		"stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
