package backend

import (
	"context"
	"errors"
	"sync"

	"github.com/go-kit/log/level"

	"github.com/codaproj/coda/internal/logging"
)

// StreamWriter delivers one reply back down the RPC connection a Query
// arrived on. One StreamWriter is registered per open frontend<->backend
// connection, keyed by the connection's Query.StreamRef.
type StreamWriter interface {
	Send(qid uint64, replyInfo []byte, recompute bool) error
}

// streamRegistry maps a connection-scoped StreamRef to its StreamWriter:
// every reply is written back on that item's originating stream.
type streamRegistry struct {
	mu sync.Mutex
	m  map[string]StreamWriter
}

func newStreamRegistry() *streamRegistry { return &streamRegistry{m: make(map[string]StreamWriter)} }

func (r *streamRegistry) register(ref string, w StreamWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[ref] = w
}

func (r *streamRegistry) unregister(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, ref)
}

func (r *streamRegistry) get(ref string) (StreamWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.m[ref]
	return w, ok
}

// runReply implements the infer-to-reply handoff: one worker dequeues an
// inferred batch and writes each per-item output back on its own stream,
// per the batch_size == len(data) == len(streams) == len(reply_info)
// == len(ids) invariant. No cache write-back occurs here: writing into
// the cache on reply isn't part of this design.
func (b *Backend) runReply(ctx context.Context) error {
	for {
		batch, err := b.inferQ.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if len(batch.Outputs) != len(batch.Items) {
			level.Error(logging.Logger).Log("msg", "batch output/item length mismatch", "items", len(batch.Items), "outputs", len(batch.Outputs))
			continue
		}

		for i, q := range batch.Items {
			b.writeReply(q, batch.Outputs[i])
		}
	}
}
