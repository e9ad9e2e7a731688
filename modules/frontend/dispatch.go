package frontend

import (
	"context"
	"errors"

	"github.com/go-kit/log/level"

	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/model"
)

// runDispatch drains the encode-out queue, asks the dispatcher for a
// backend IP per query, opens (or reuses) a persistent stream to that
// backend, and writes the query onto it.
func (p *Pipeline) runDispatch(ctx context.Context) error {
	for {
		q, err := p.encOutQ.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if q.EndSignal {
			p.broadcastEndSignal(q)
			continue
		}

		ip, err := p.dispatcher.Select(ctx, q)
		if err != nil {
			level.Error(logging.Logger).Log("msg", "dispatch starvation", "sid", q.SID, "qid", q.QID, "err", err)
			continue
		}
		q.DispatchIP = ip

		// Originals are CDC data queries and a Backup group's data query;
		// parity, Backup replicas and recomputed queries are not counted.
		original := !q.IsParity && !q.Recompute && q.Class == model.ClassCDC
		if !q.IsParity && !q.Recompute && q.Class == model.ClassBackup {
			if g, ok := p.groups.Load(q.SID); ok {
				if bg, isBackup := g.(*model.BackupGroup); isBackup && bg.DataQID() == q.QID {
					original = true
				}
			}
		}

		conn, err := p.connFor(ctx, ip)
		if err != nil {
			level.Error(logging.Logger).Log("msg", "backend dial failed", "ip", ip, "err", err)
			continue
		}

		p.queries.Store(q)
		if err := conn.Send(q); err != nil {
			level.Error(logging.Logger).Log("msg", "backend send failed", "ip", ip, "qid", q.QID, "err", err)
			p.dispatcher.ReportOutcome(ip, false)
			continue
		}

		if original {
			p.monitor.ObserveDispatch(ctx)
		}
	}
}

// broadcastEndSignal forwards the end-of-stream sentinel to every
// currently-open backend connection so each backend's recv stage can
// drain.
func (p *Pipeline) broadcastEndSignal(sentinel *model.Query) {
	p.conns.mu.Lock()
	conns := make([]BackendConn, 0, len(p.conns.conns))
	for _, c := range p.conns.conns {
		conns = append(conns, c)
	}
	p.conns.mu.Unlock()

	for _, c := range conns {
		if err := c.Send(sentinel); err != nil {
			level.Warn(logging.Logger).Log("msg", "end-signal send failed", "err", err)
		}
	}
}

// connFor lazily dials ip and spawns its dedicated reply-reader goroutine.
func (p *Pipeline) connFor(ctx context.Context, ip string) (BackendConn, error) {
	if conn, ok := p.conns.get(ip); ok {
		return conn, nil
	}

	conn, err := p.transport.Dial(ctx, ip)
	if err != nil {
		return BackendConn{}, err
	}
	p.conns.set(ip, conn)

	go p.runReplyReader(ctx, ip, conn)
	return conn, nil
}

// runReplyReader processes every inbound reply from one backend
// connection, one goroutine per open backend stream.
func (p *Pipeline) runReplyReader(ctx context.Context, ip string, conn BackendConn) {
	for {
		reply, err := conn.Recv()
		if err != nil {
			level.Warn(logging.Logger).Log("msg", "reply-reader exiting", "ip", ip, "err", err)
			return
		}

		q, ok := p.queries.LoadAndDelete(reply.QID)
		if !ok {
			continue
		}

		broken := p.monitor.ReconcileQuery(ip, reply.QID)
		p.dispatcher.ReportOutcome(ip, !broken)

		switch q.Class {
		case model.ClassCDC:
			p.handleCDCReply(ctx, q, reply, broken)
		default:
			p.handleBackupReply(ctx, q, reply, broken)
		}
	}
}

func (p *Pipeline) handleCDCReply(ctx context.Context, q *model.Query, reply *BackendReply, broken bool) {
	g, ok := p.groups.Load(q.SID)
	if !ok {
		return
	}
	stripe := g.(*model.CDCGroup)

	_, failures, unrecoverableNow := stripe.RecordReceipt(broken)

	if unrecoverableNow {
		for _, dataQID := range stripe.Unresolved() {
			level.Info(logging.Logger).Log("msg", "stripe unrecoverable, recompute issued", "sid", q.SID, "qid", dataQID, "failures", failures)
			if orig, ok := p.queries.LoadAndDelete(dataQID); ok {
				p.requeueForRecompute(orig.ClientRequestID, orig.Model, orig.Scale, orig.Filename, orig.TensorBytes, orig.FrontendID)
			}
			p.targets.LoadAndDelete(dataQID)
		}
		p.dispatcher.CloseStripe(q.SID)
		p.groups.Close(q.SID)
		return
	}

	if broken {
		return
	}
	p.decodeOrForward(ctx, q, reply, stripe)
}

func (p *Pipeline) handleBackupReply(ctx context.Context, q *model.Query, reply *BackendReply, broken bool) {
	g, ok := p.groups.Load(q.SID)
	if !ok {
		return
	}
	backup := g.(*model.BackupGroup)

	if broken {
		_, allFailed := backup.RecordFailure()
		if allFailed {
			p.requeueBackupOriginal(q)
			p.dispatcher.CloseStripe(q.SID)
			p.groups.Close(q.SID)
		}
		return
	}

	if !backup.TryReply() {
		return
	}
	_ = p.client.Send(q.ClientRequestID, reply.ReplyInfo, false)
	p.dispatcher.CloseStripe(q.SID)
	p.groups.Close(q.SID)
}

func (p *Pipeline) requeueBackupOriginal(q *model.Query) {
	p.requeueForRecompute(q.ClientRequestID, q.Model, q.Scale, q.Filename, q.TensorBytes, q.FrontendID)
}
