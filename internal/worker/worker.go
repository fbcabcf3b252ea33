package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jackc/pgx/v5"

	"kairo.dev/agent/internal/queue"
	"kairo.dev/agent/internal/runstore"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer  Consumer
	txRunner  TxRunner
	processor *Processor
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, txRunner TxRunner, processor *Processor, cfg Config) *Worker {
	return &Worker{
		consumer:  consumer,
		txRunner:  txRunner,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "agent-worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "agent-worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"run_id", msg.RunID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"stack", string(debug.Stack()),
				"message_id", msg.ID,
				"run_id", msg.RunID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage runs the full claim -> execute -> persist cycle for one
// queued run request. Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	slog.InfoContext(ctx, "processing message",
		"message_id", msg.ID,
		"run_id", msg.RunID,
		"attempt", msg.Attempt)

	// TX1: claim the run. Quick - just a DB round trip, no LLM calls.
	var claimed bool
	var run *runstore.Run
	tx1Err := w.txRunner.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		claimed, run, err = runstore.ClaimQueued(ctx, tx, msg.RunID)
		return err
	})
	if tx1Err != nil {
		return fmt.Errorf("TX1 (claim) failed: %w", tx1Err)
	}

	if !claimed {
		// Already claimed (or never queued, or already finished) by someone
		// else. Ack so the message doesn't sit pending forever.
		slog.InfoContext(ctx, "run already claimed or not queued, acknowledging",
			"run_id", msg.RunID)
		if err := w.consumer.Ack(ctx, msg); err != nil {
			slog.WarnContext(ctx, "failed to ACK message", "error", err, "message_id", msg.ID)
		}
		return nil
	}

	// Agent loop runs OUTSIDE any transaction - it can take seconds to
	// minutes and must not hold a DB connection for that long.
	result := w.processor.Run(ctx, run.ID, run.Goal, run.Context)

	// TX2: persist the outcome.
	tx2Err := w.txRunner.WithTx(ctx, func(tx pgx.Tx) error {
		return runstore.SaveResult(ctx, tx, run.ID, &result, nil)
	})
	if tx2Err != nil {
		// Run stays "running" until handleFailedMessage resets it to queued
		// and requeues the message (or, after MaxAttempts, sends it to the
		// DLQ).
		return fmt.Errorf("TX2 (save) failed: %w", tx2Err)
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		slog.WarnContext(ctx, "failed to ACK message", "error", err, "message_id", msg.ID)
	}

	slog.InfoContext(ctx, "run completed",
		"run_id", run.ID,
		"success", result.Success,
		"stop_reason", result.StopReason,
		"steps", result.Steps)

	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		// Reset the run to queued before DLQ so it isn't stuck "running"
		// forever with no message left to ever pick it back up.
		resetErr := w.txRunner.WithTx(ctx, func(tx pgx.Tx) error {
			return runstore.ResetToQueued(ctx, tx, msg.RunID)
		})
		if resetErr != nil {
			slog.WarnContext(ctx, "failed to reset run to queued before DLQ",
				"error", resetErr,
				"run_id", msg.RunID)
		}

		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"run_id", msg.RunID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	// The run may already be claimed ("running"); reset it to queued so the
	// requeued message can claim it again.
	if resetErr := w.txRunner.WithTx(ctx, func(tx pgx.Tx) error {
		return runstore.ResetToQueued(ctx, tx, msg.RunID)
	}); resetErr != nil {
		slog.WarnContext(ctx, "failed to reset run to queued before requeue",
			"error", resetErr,
			"run_id", msg.RunID)
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"run_id", msg.RunID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
