// Package frontend implements the four-stage client-facing pipeline:
// preprocess -> encode -> dispatch/infer -> decode/reply, each a
// long-running worker over unbounded queues, honoring an end-signal
// sentinel for graceful drain.
package frontend

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/codec"
	"github.com/codaproj/coda/modules/dispatcher"
	"github.com/codaproj/coda/modules/filter"
	"github.com/codaproj/coda/modules/model"
	"github.com/codaproj/coda/pkg/queue"
)

// PreprocessFunc transforms a request's raw bytes into a model-ready
// tensor buffer. Opaque, like the encode/decode drivers.
type PreprocessFunc func(data []byte, scale model.Scale) ([]byte, error)

// ClientStream is the subset of the client-facing RPC stream the decode
// stage needs to write replies on. Implemented by a
// codapb.FrontendService_InferServer in production, faked in tests.
type ClientStream interface {
	Send(requestID uint64, replyInfo []byte, recompute bool) error
}

// Transport opens a persistent outbound connection to one backend and
// exposes Send/Recv for the frontend-backend RPC.
// Implemented over codapb.BackendServiceClient in production.
type Transport interface {
	Dial(ctx context.Context, ip string) (BackendConn, error)
}

// MonitorSource is the subset of *monitor.Monitor the pipeline depends on,
// kept as an interface so pipeline tests can drive broken-stripe state
// directly instead of through the full zone/trace machinery.
type MonitorSource interface {
	StripeBroken(sid uint64) bool
	ObserveDispatch(ctx context.Context)
	ReconcileQuery(ip string, qid uint64) (broken bool)
	Run(ctx context.Context) error
}

// BackendConn is one open bidirectional stream to a backend.
type BackendConn struct {
	Send func(q *model.Query) error
	Recv func() (*BackendReply, error)
	Close func() error
}

// BackendReply is the frontend-internal shape of an inbound backend
// reply, decoupled from the wire message so the pipeline doesn't import
// pkg/codapb directly.
type BackendReply struct {
	QID             uint64
	ReplyInfo       []byte
	Recompute       bool
	CdcInferTime    float64
	BackupInferTime float64
}

// Config mirrors the frontend-relevant subset of the component config.
type Config struct {
	QueueDepth int // 0 means unbounded-by-policy (the queue itself has no hard cap)
	K          int // stripe data count
	B          int // backup replica count
}

// Pipeline owns the four stages and their inter-stage queues.
type Pipeline struct {
	cfg Config

	recvQ   *queue.Queue[*model.Request]
	ppQ     *queue.Queue[*model.Query]
	encOutQ *queue.Queue[*model.Query]

	filter     *filter.Filter
	codec      *codec.Codec
	dispatcher *dispatcher.Dispatcher
	monitor    MonitorSource
	transport  Transport
	preprocess PreprocessFunc
	client     ClientStream

	groups *model.GroupTable

	queries   *queryRegistry
	conns     *connRegistry
	cdcBuffer *cdcBuffer
	targets   *targetRegistry
}

// New constructs a Pipeline. The caller wires filter/codec/dispatcher/
// monitor/transport/preprocess/client before calling Run.
func New(cfg Config, flt *filter.Filter, cdc *codec.Codec, disp *dispatcher.Dispatcher, mon MonitorSource, transport Transport, preprocess PreprocessFunc, client ClientStream) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		recvQ:      queue.New[*model.Request](),
		ppQ:        queue.New[*model.Query](),
		encOutQ:    queue.New[*model.Query](),
		filter:     flt,
		codec:      cdc,
		dispatcher: disp,
		monitor:    mon,
		transport:  transport,
		preprocess: preprocess,
		client:     client,
		groups:     model.NewGroupTable(),
		queries:    newQueryRegistry(),
		conns:      newConnRegistry(),
		cdcBuffer:  newCDCBuffer(cfg.K),
		targets:    newTargetRegistry(),
	}
}

// targetRegistry maps a data qid to the client request it must ultimately
// reply to, kept separate from queryRegistry because a data qid's entry
// must survive that qid's own dispatch-side lookup being consumed (the
// decode stage may resolve it later, via a peer qid's reply, in the
// reconstruction case).
type targetRegistry struct {
	mu sync.Mutex
	m  map[uint64]uint64
}

func newTargetRegistry() *targetRegistry { return &targetRegistry{m: make(map[uint64]uint64)} }

func (t *targetRegistry) Store(dataQID, clientRequestID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[dataQID] = clientRequestID
}

func (t *targetRegistry) LoadAndDelete(dataQID uint64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[dataQID]
	if ok {
		delete(t.m, dataQID)
	}
	return v, ok
}

// Submit enqueues a client request onto the recv queue (the pipeline's
// only public write path).
func (p *Pipeline) Submit(r *model.Request) {
	p.recvQ.Push(r)
}

// Run starts all four stages plus the monitor's own wake loop and blocks
// until ctx is cancelled or a stage returns an error.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.transport == nil {
		return errTransportNil
	}
	if p.preprocess == nil {
		return errPreprocessNil
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.runPreprocess(ctx) })
	g.Go(func() error { return p.runEncode(ctx) })
	g.Go(func() error { return p.runDispatch(ctx) })
	g.Go(func() error { return p.monitor.Run(ctx) })

	err := g.Wait()
	if err != nil {
		level.Error(logging.Logger).Log("msg", "frontend pipeline stopped", "err", err)
	}
	return err
}

// requeueForRecompute pushes qid's original request back onto recv with
// recompute=true, so it retraverses preprocess->encode->dispatch as
// Backup.
func (p *Pipeline) requeueForRecompute(clientRequestID uint64, model_ string, scale model.Scale, filename string, data []byte, frontendID string) {
	p.recvQ.Push(&model.Request{
		RequestID:  clientRequestID,
		Model:      model_,
		Scale:      scale,
		Filename:   filename,
		Bytes:      data,
		Recompute:  true,
		FrontendID: frontendID,
	})
}

// queryRegistry is the frontend's "qid -> query*" lookup entry, guarded
// by its own mutex since it is consulted from both the dispatch stage
// and every backend's reply-reader goroutine.
type queryRegistry struct {
	mu sync.Mutex
	m  map[uint64]*model.Query
}

func newQueryRegistry() *queryRegistry { return &queryRegistry{m: make(map[uint64]*model.Query)} }

func (r *queryRegistry) Store(q *model.Query) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[q.QID] = q
}

func (r *queryRegistry) LoadAndDelete(qid uint64) (*model.Query, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.m[qid]
	if ok {
		delete(r.m, qid)
	}
	return q, ok
}

// connRegistry lazily opens and remembers one BackendConn per backend IP:
// if no stream to that backend exists yet, one is dialed and cached here.
type connRegistry struct {
	mu    sync.Mutex
	conns map[string]BackendConn
}

func newConnRegistry() *connRegistry { return &connRegistry{conns: make(map[string]BackendConn)} }

func (c *connRegistry) get(ip string) (BackendConn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[ip]
	return conn, ok
}

func (c *connRegistry) set(ip string, conn BackendConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[ip] = conn
}

// cdcBuffer accumulates filter-picked, non-recompute items until k are
// buffered to form a stripe.
type cdcBuffer struct {
	mu    sync.Mutex
	k     int
	items []*model.Query
}

func newCDCBuffer(k int) *cdcBuffer { return &cdcBuffer{k: k} }

// add appends q and returns a full batch (and clears the buffer) once k
// items are buffered.
func (b *cdcBuffer) add(q *model.Query) []*model.Query {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, q)
	if len(b.items) < b.k {
		return nil
	}
	out := b.items
	b.items = nil
	return out
}

// drain returns and clears any partially-filled buffer: on the end
// signal, whatever's left is flushed as Backup groups instead of CDC.
func (b *cdcBuffer) drain() []*model.Query {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

var errTransportNil = fmt.Errorf("frontend: transport is nil")
