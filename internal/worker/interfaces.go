package worker

import (
	"context"

	"github.com/jackc/pgx/v5"

	"kairo.dev/agent/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// TxRunner runs fn inside a database transaction. Implemented directly by
// *core/db.DB and by *runstore.Store.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}
