// Package runstatus publishes agent.TraceEvent records onto a per-run Redis
// stream, grounded on the teacher's agent-status stream pattern
// (internal/worker/task_runner.go's emitStatus / internal/http/handler's
// AgentStatusHandler.Stream): one XAdd per event, one stream per run, read
// back by the HTTP status handler as Server-Sent Events.
package runstatus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"kairo.dev/agent/internal/agent"
)

const maxStreamLen = 2000

// StreamName returns the Redis stream a run's trace events are published to.
func StreamName(runID string) string {
	return fmt.Sprintf("agent-status:run-%s", runID)
}

// Sink is an agent.TraceSink that publishes each event to the run's Redis
// stream, in addition to whatever durable sink (FileTraceSink) the caller
// wraps it around - wire both into a composite when persistence and live
// status both matter.
type Sink struct {
	client *redis.Client
	stream string
}

func NewSink(client *redis.Client, runID string) *Sink {
	return &Sink{client: client, stream: StreamName(runID)}
}

func (s *Sink) Append(event agent.TraceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling trace event: %w", err)
	}
	ctx := context.Background()
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{"event": string(payload)},
	}).Err()
}

func (s *Sink) Close() error {
	return nil
}

// CompositeSink fans out Append/Close to multiple sinks, stopping at the
// first error from Append but always attempting Close on every sink.
type CompositeSink struct {
	Sinks []agent.TraceSink
}

func (c CompositeSink) Append(event agent.TraceEvent) error {
	for _, sink := range c.Sinks {
		if err := sink.Append(event); err != nil {
			return err
		}
	}
	return nil
}

func (c CompositeSink) Close() error {
	var firstErr error
	for _, sink := range c.Sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
