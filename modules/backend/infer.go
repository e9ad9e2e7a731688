package backend

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log/level"

	"github.com/codaproj/coda/internal/logging"
)

// runInfer implements the batch-to-infer handoff: a single worker
// dequeues one batch, synchronously submits it to the opaque model server,
// and attaches the per-item outputs before handing the batch to the reply
// stage.
func (b *Backend) runInfer(ctx context.Context) error {
	for {
		batch, err := b.batchQ.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		start := time.Now()
		outputs, err := b.infer(batch)
		if err != nil {
			level.Error(logging.Logger).Log("msg", "infer failed", "batch_size", len(batch.Items), "err", err)
			continue
		}
		level.Debug(logging.Logger).Log("msg", "infer complete", "batch_size", len(batch.Items), "duration", time.Since(start))

		batch.Outputs = outputs
		b.inferQ.Push(batch)
	}
}
