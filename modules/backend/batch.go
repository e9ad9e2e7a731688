package backend

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log/level"

	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/model"
	"github.com/codaproj/coda/pkg/queue"
)

// pollInterval bounds how long runBatcher waits between rechecking its
// queue once the front item is present but none of the three wake
// conditions (full batch, end signal, recompute) have fired yet.
const pollInterval = 2 * time.Millisecond

// runBatcher implements one class-exclusive batch worker: it wakes once
// the queue holds >= batchSize() items,
// once the back item carries end_signal, or once the front item carries
// recompute, and pushes the resulting batch onto the shared batch queue.
func (b *Backend) runBatcher(ctx context.Context, in *queue.Queue[*model.Query], batchSize func() int) error {
	for {
		front, err := in.Front(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		switch {
		case front.Recompute:
			items := in.PopN(1)
			b.emitBatch(items)

		default:
			back, ok := in.TryBack()
			switch {
			case ok && back.EndSignal:
				if n := in.Size() - 1; n > 0 {
					b.emitBatch(in.PopN(n))
				}
				in.PopN(1) // consume the sentinel itself
			case in.Size() >= batchSize():
				b.emitBatch(in.PopN(batchSize()))
			default:
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(pollInterval):
				}
			}
		}
	}
}

func (b *Backend) emitBatch(items []*model.Query) {
	if len(items) == 0 {
		return
	}
	level.Debug(logging.Logger).Log("msg", "batch formed", "size", len(items))
	b.batchQ.Push(&BatchQuery{Items: items})
}
