// Package backend implements the backend's dual-queue batcher, infer
// worker, and reply worker: two class-exclusive batch workers feed a
// shared batch queue, a single infer worker submits each batch to the
// opaque model server, and a single reply worker writes per-item outputs
// back on their originating stream. A cache probe short-circuits all
// four stages on a filename hit.
package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/model"
	"github.com/codaproj/coda/pkg/cache"
	"github.com/codaproj/coda/pkg/queue"
)

// InferFunc synchronously submits one batch to the model server (opaque,
// like the frontend's encode/decode drivers) and returns one reply payload
// per item, in the same order as batch.Items.
type InferFunc func(batch *BatchQuery) ([][]byte, error)

// BatchMode selects whether the backup/cdc batch split is fixed or allowed
// to drift based on observed latency.
type BatchMode int

const (
	BatchModeManual BatchMode = iota
	BatchModeAuto
)

// Config mirrors the backend-relevant config keys.
type Config struct {
	Cache cache.Config `mapstructure:"cache"`

	Mode            BatchMode `mapstructure:"-"`
	BatchSizeBackup int       `mapstructure:"batch_size_1"`
	BatchSizeCDC    int       `mapstructure:"batch_size_2"`
	IncValue        int       `mapstructure:"inc_value"`
	DecValue        float64   `mapstructure:"dec_value"`
}

// Validate checks for configuration-invalid errors.
func (c Config) Validate() error {
	if c.BatchSizeBackup <= 0 || c.BatchSizeCDC <= 0 {
		return fmt.Errorf("backend: batch sizes must be > 0, got %d/%d", c.BatchSizeBackup, c.BatchSizeCDC)
	}
	return c.Cache.Validate()
}

// BatchQuery is one batched unit of work carrying every item's tensor plus
// the infer worker's per-item outputs once filled in.
type BatchQuery struct {
	Items   []*model.Query
	Outputs [][]byte
}

// Backend owns the cache, the four queues, and the adaptive batch-size
// state.
type Backend struct {
	cfg   Config
	cache *cache.Cache
	infer InferFunc

	repRecvQ *queue.Queue[*model.Query]
	cdcRecvQ *queue.Queue[*model.Query]
	batchQ   *queue.Queue[*BatchQuery]
	inferQ   *queue.Queue[*BatchQuery]

	streams *streamRegistry

	batchMu         sync.Mutex
	batchSizeBackup int
	batchSizeCDC    int
	adjustBatch     bool
	firstAdjust     bool
}

// New constructs a Backend. inferFn is the opaque model-server call.
func New(cfg Config, c *cache.Cache, inferFn InferFunc) *Backend {
	return &Backend{
		cfg:             cfg,
		cache:           c,
		infer:           inferFn,
		repRecvQ:        queue.New[*model.Query](),
		cdcRecvQ:        queue.New[*model.Query](),
		batchQ:          queue.New[*BatchQuery](),
		inferQ:          queue.New[*BatchQuery](),
		streams:         newStreamRegistry(),
		batchSizeBackup: cfg.BatchSizeBackup,
		batchSizeCDC:    cfg.BatchSizeCDC,
		adjustBatch:     cfg.Mode == BatchModeAuto,
		firstAdjust:     true,
	}
}

// RegisterStream associates ref (a per-connection identifier the caller
// assigns to every Query.StreamRef arriving on one frontend connection)
// with the writer used to deliver that connection's replies.
func (b *Backend) RegisterStream(ref string, w StreamWriter) {
	b.streams.register(ref, w)
}

// UnregisterStream drops ref once its connection closes.
func (b *Backend) UnregisterStream(ref string) {
	b.streams.unregister(ref)
}

// Submit is the backend's single entry point: probe the cache,
// short-circuit on hit, else adjust batch sizes per the piggybacked
// latency fields and route q into the appropriate recv queue.
func (b *Backend) Submit(q *model.Query) {
	if reply, hit := b.cache.Get(q.Filename); hit {
		b.writeReply(q, reply)
		return
	}

	b.maybeAdjustBatchSizes(q)

	switch {
	case q.Recompute:
		b.repRecvQ.Push(q)
	case q.EndSignal:
		b.repRecvQ.Push(q)
		b.cdcRecvQ.Push(q)
	case q.Class == model.ClassBackup:
		b.repRecvQ.Push(q)
	default:
		b.cdcRecvQ.Push(q)
	}
}

func (b *Backend) writeReply(q *model.Query, replyInfo []byte) {
	w, ok := b.streams.get(q.StreamRef)
	if !ok {
		level.Warn(logging.Logger).Log("msg", "cache-hit reply has no registered stream", "qid", q.QID, "stream_ref", q.StreamRef)
		return
	}
	if err := w.Send(q.QID, replyInfo, q.Recompute); err != nil {
		level.Error(logging.Logger).Log("msg", "cache-hit reply send failed", "qid", q.QID, "err", err)
	}
}

// Run starts the two batch workers, the infer worker, and the reply
// worker, and blocks until ctx is cancelled or one of them errors.
func (b *Backend) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.runBatcher(ctx, b.repRecvQ, b.backupBatchSize) })
	g.Go(func() error { return b.runBatcher(ctx, b.cdcRecvQ, b.cdcBatchSize) })
	g.Go(func() error { return b.runInfer(ctx) })
	g.Go(func() error { return b.runReply(ctx) })

	err := g.Wait()
	if err != nil {
		level.Error(logging.Logger).Log("msg", "backend stopped", "err", err)
	}
	return err
}

func (b *Backend) backupBatchSize() int {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	return b.batchSizeBackup
}

func (b *Backend) cdcBatchSize() int {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	return b.batchSizeCDC
}

// maybeAdjustBatchSizes implements the auto-batch drift: after each
// reply-carrying request, compare backup_infer_time to cdc_infer_time
// and shift capacity accordingly, gated by the one-shot first_adjust flag
// (grounded on backend.cc's Exec, which runs this check before routing).
func (b *Backend) maybeAdjustBatchSizes(q *model.Query) {
	if q.CdcInferTime <= 0 || q.BackupInferTime <= 0 || q.DecodeTime == 0 {
		return
	}

	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	if !b.adjustBatch {
		return
	}

	level.Info(logging.Logger).Log("msg", "batch size adjustment", "backup_infer_time", q.BackupInferTime, "cdc_infer_time", q.CdcInferTime, "before_backup", b.batchSizeBackup, "before_cdc", b.batchSizeCDC)

	if q.BackupInferTime < q.CdcInferTime {
		if b.firstAdjust {
			b.batchSizeBackup += b.cfg.IncValue
			b.batchSizeCDC -= b.cfg.IncValue
		} else {
			b.adjustBatch = false
		}
	} else {
		b.batchSizeBackup = int(float64(b.batchSizeBackup) * (1 - b.cfg.DecValue))
		b.batchSizeCDC = int(float64(b.batchSizeCDC) * (1 + b.cfg.DecValue))
		if b.firstAdjust {
			b.firstAdjust = false
		}
	}

	level.Info(logging.Logger).Log("msg", "batch size adjusted", "after_backup", b.batchSizeBackup, "after_cdc", b.batchSizeCDC)
}
