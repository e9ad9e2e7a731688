package frontend

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/model"
)

// runPreprocess drains the recv queue, applying the opaque preprocess
// transform to each non-sentinel item before handing it to the encode
// stage.
func (p *Pipeline) runPreprocess(ctx context.Context) error {
	for {
		req, err := p.recvQ.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		q := &model.Query{
			Model:           req.Model,
			Scale:           req.Scale,
			Filename:        req.Filename,
			FrontendID:      req.FrontendID,
			Recompute:       req.Recompute,
			EndSignal:       req.EndSignal,
			ClientRequestID: req.RequestID,
			SubmittedAt:     req.SubmittedAt,
		}

		if req.EndSignal {
			p.ppQ.Push(q)
			continue
		}

		tensor, err := p.preprocess(req.Bytes, req.Scale)
		if err != nil {
			level.Error(logging.Logger).Log("msg", "preprocess failed", "request_id", req.RequestID, "err", err)
			continue
		}
		q.TensorBytes = tensor
		p.ppQ.Push(q)
	}
}

var errPreprocessNil = fmt.Errorf("frontend: preprocess function is nil")
