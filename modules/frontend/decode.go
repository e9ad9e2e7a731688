package frontend

import (
	"context"

	"github.com/go-kit/log/level"

	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/model"
)

// decodeOrForward implements the CDC stripe's three-way reply branch: a
// data reply is streamed back to the client as soon as it arrives; once
// exactly k of k+1 have been recorded, either the stripe is already
// fully-data (missing was the parity, nothing further to do), the
// straggler is a live backend that just hasn't replied yet (deferred,
// let its real reply take the direct-forward path above), or the
// monitor has it marked broken, in which case the missing output is
// reconstructed via the decoder instead of waiting on a reply that will
// never arrive.
func (p *Pipeline) decodeOrForward(ctx context.Context, q *model.Query, reply *BackendReply, stripe *model.CDCGroup) {
	if !q.IsParity && stripe.TryReplyData(q.QID) {
		p.replyData(q.QID, reply.ReplyInfo)
	}

	missingQID, ready, missingIsParity := stripe.AddForDecode(q.QID, reply.ReplyInfo)
	if !ready || missingIsParity {
		return
	}

	if !p.monitor.StripeBroken(stripe.SID()) {
		return
	}

	if !stripe.TryReplyData(missingQID) {
		return
	}
	reconstructed := p.codec.DecodeMissing(stripe, missingQID)
	p.replyData(missingQID, reconstructed)
	level.Info(logging.Logger).Log("msg", "stripe reconstructed via decode", "sid", stripe.SID(), "missing_qid", missingQID)
}

// replyData writes the client-visible reply for a data qid, looking up
// the originating client request id by qid. Callers must have already
// claimed the stripe-completed bit for dataQID via CDCGroup.TryReplyData
// before calling this.
func (p *Pipeline) replyData(dataQID uint64, replyInfo []byte) {
	clientRequestID, found := p.targets.LoadAndDelete(dataQID)
	if !found {
		return
	}
	if err := p.client.Send(clientRequestID, replyInfo, false); err != nil {
		level.Error(logging.Logger).Log("msg", "client reply send failed", "qid", dataQID, "err", err)
	}
}
