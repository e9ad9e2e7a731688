// Package model holds the process-internal data model shared by the
// frontend pipeline, monitor, dispatcher, and backend: Request, Query,
// Stripe/Backup groups.
package model

import (
	"sync"
	"time"
)

// Class identifies which redundancy scheme a Query belongs to.
type Class int

const (
	// ClassBackup is the k=0 replicated path.
	ClassBackup Class = iota
	// ClassCDC is the k-data + 1-parity coded path.
	ClassCDC
)

func (c Class) String() string {
	if c == ClassCDC {
		return "CDC"
	}
	return "Backup"
}

// Scale selects the preprocessing normalization applied to a tensor.
type Scale int

const (
	ScaleNone Scale = iota
	ScaleVGG
	ScaleInception
)

// Request is the client-visible unit of work.
type Request struct {
	RequestID uint64
	Model     string
	Scale     Scale
	Filename  string
	Bytes     []byte
	EndSignal bool
	Recompute bool

	// FrontendID identifies the originating frontend in multi-frontend
	// deployments.
	FrontendID string

	// SubmittedAt is process-local only, never serialized on the wire; used
	// for latency logging.
	SubmittedAt time.Time
}

// Query is the internal per-task record produced after preprocessing.
// Exactly one pipeline stage owns a Query at a time.
type Query struct {
	QID   uint64
	SID   uint64
	Class Class

	IsParity bool

	Model        string
	Scale        Scale
	Filename     string
	TensorBytes  []byte
	StreamRef    string
	FrontendID   string
	Recompute    bool

	// EndSignal marks this Query as the end-of-stream sentinel propagated
	// through every stage so each may drain before exit.
	EndSignal bool

	// DispatchIP records the backend this query was last sent to, so the
	// reply-reader and the monitor's query-state marking don't need a
	// second lookup.
	DispatchIP string

	// ClientRequestID correlates back to the original Request for reply
	// construction; for parity queries this is the request id of one of
	// the k data queries in the same stripe (any, since the stripe shares
	// one client-visible reply slot per data qid, and parity itself is
	// never replied to directly).
	ClientRequestID uint64

	SubmittedAt time.Time

	// CdcInferTime, BackupInferTime, and DecodeTime are piggybacked
	// latency samples carried on the wire request and consumed only by the
	// backend's adaptive batch-size adjustment, which skips a query unless
	// all three are set. The frontend pipeline does not fill them in, so the
	// queries it dispatches carry zero.
	CdcInferTime    float64
	BackupInferTime float64
	DecodeTime      float64
}

// Parity qids live in a disjoint high range to avoid collisions with data
// qids.
const ParityQIDBase = uint64(1) << 62

// QIDAllocator hands out process-wide unique qids, with parity qids drawn
// from a disjoint high range.
type QIDAllocator struct {
	mu       sync.Mutex
	nextData uint64
	nextPar  uint64
}

// NewQIDAllocator constructs an allocator whose data qids start at 1 and
// whose parity qids start at ParityQIDBase+1.
func NewQIDAllocator() *QIDAllocator {
	return &QIDAllocator{nextData: 1, nextPar: ParityQIDBase + 1}
}

// NextData returns the next data-query qid.
func (a *QIDAllocator) NextData() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.nextData
	a.nextData++
	return v
}

// NextParity returns the next parity-query qid, disjoint from the data
// range.
func (a *QIDAllocator) NextParity() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.nextPar
	a.nextPar++
	return v
}

// SIDAllocator hands out process-wide unique stripe/group ids.
type SIDAllocator struct {
	mu   sync.Mutex
	next uint64
}

// NewSIDAllocator constructs an allocator starting at 1.
func NewSIDAllocator() *SIDAllocator { return &SIDAllocator{next: 1} }

// Next returns the next stripe id.
func (a *SIDAllocator) Next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.next
	a.next++
	return v
}
