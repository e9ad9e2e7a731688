package frontend

import (
	"context"
	"errors"

	"github.com/go-kit/log/level"

	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/model"
)

// runEncode drains the pp queue, picks an encoding class per item via the
// filter, forms CDC stripes (once k items are buffered) or Backup groups
// (immediately), and pushes the resulting per-backend queries onto the
// encode-out queue.
func (p *Pipeline) runEncode(ctx context.Context) error {
	for {
		q, err := p.ppQ.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if q.EndSignal {
			// flush any partially-filled CDC buffer as Backup groups,
			// since they cannot form a stripe with no further arrivals.
			for _, leftover := range p.cdcBuffer.drain() {
				p.emitBackup(leftover)
			}
			p.encOutQ.Push(q)
			continue
		}

		class := model.ClassBackup
		if !q.Recompute {
			class = p.filter.Pick()
		}

		if class == model.ClassCDC {
			if batch := p.cdcBuffer.add(q); batch != nil {
				p.emitStripe(batch)
			}
			continue
		}

		p.emitBackup(q)
	}
}

func (p *Pipeline) emitStripe(items []*model.Query) {
	out, group, err := p.codec.EncodeStripe(items)
	if err != nil {
		level.Error(logging.Logger).Log("msg", "stripe encode failed", "err", err)
		return
	}
	p.groups.Store(group)
	for _, q := range out {
		if !q.IsParity {
			p.targets.Store(q.QID, q.ClientRequestID)
		}
		p.encOutQ.Push(q)
	}
}

func (p *Pipeline) emitBackup(item *model.Query) {
	out, group := p.codec.EncodeBackup(item)
	p.groups.Store(group)
	for _, q := range out {
		p.encOutQ.Push(q)
	}
}
