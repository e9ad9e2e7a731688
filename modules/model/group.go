package model

import "sync"

// GroupKind tags a Group as CDC or Backup, in place of the sparse per-kind
// map bookkeeping an older design would use for long-lived stripe tables.
type GroupKind int

const (
	GroupCDC GroupKind = iota
	GroupBackup
)

// Group is implemented by *CDCGroup and *BackupGroup and stored, keyed by
// sid, in a GroupTable.
type Group interface {
	Kind() GroupKind
	SID() uint64
}

// CDCGroup tracks one coded stripe: k data queries plus one parity query
// sharing a stripe id.
type CDCGroup struct {
	sid       uint64
	k         int
	dataQIDs  []uint64
	parityQID uint64

	mu            sync.Mutex
	totalReceived int
	failures      int
	unrecoverable bool

	receivedBytes map[uint64][]byte
	dataReplied   map[uint64]bool
}

// NewCDCGroup constructs a stripe record. dataQIDs must have length k.
func NewCDCGroup(sid uint64, dataQIDs []uint64, parityQID uint64) *CDCGroup {
	return &CDCGroup{
		sid:           sid,
		k:             len(dataQIDs),
		dataQIDs:      dataQIDs,
		parityQID:     parityQID,
		receivedBytes: make(map[uint64][]byte, len(dataQIDs)+1),
		dataReplied:   make(map[uint64]bool, len(dataQIDs)),
	}
}

func (g *CDCGroup) Kind() GroupKind { return GroupCDC }
func (g *CDCGroup) SID() uint64     { return g.sid }
func (g *CDCGroup) K() int          { return g.k }
func (g *CDCGroup) ParityQID() uint64 {
	return g.parityQID
}

// DataQIDs returns the stripe's k data qids in stripe-assignment order.
func (g *CDCGroup) DataQIDs() []uint64 {
	out := make([]uint64, len(g.dataQIDs))
	copy(out, g.dataQIDs)
	return out
}

// QIDs returns all k+1 qids belonging to the stripe (data then parity),
// used by the dispatcher's diversity bookkeeping and by tests asserting
// the stripe's qid-count invariant.
func (g *CDCGroup) QIDs() []uint64 {
	out := make([]uint64, 0, g.k+1)
	out = append(out, g.dataQIDs...)
	out = append(out, g.parityQID)
	return out
}

// RecordReceipt is called by the reply-reader stage for every reply on
// this stripe, broken or not. It returns the running
// totals and whether this call is the one that first crosses the
// "total==k+1 and failures>=2" unrecoverable threshold.
func (g *CDCGroup) RecordReceipt(broken bool) (total, failures int, unrecoverableNow bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalReceived++
	if broken {
		g.failures++
	}

	total = g.totalReceived
	failures = g.failures

	if !g.unrecoverable && total == g.k+1 && failures >= 2 {
		g.unrecoverable = true
		unrecoverableNow = true
	}
	return
}

// AddForDecode records a usable (non-broken) reply's bytes into the
// stripe's received set. It returns ready=true exactly once, the first
// time exactly k of the k+1 qids have been recorded, along with which qid
// is missing and whether the missing one is the parity.
func (g *CDCGroup) AddForDecode(qid uint64, replyBytes []byte) (missingQID uint64, ready bool, missingIsParity bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.receivedBytes[qid]; dup {
		return 0, false, false
	}
	g.receivedBytes[qid] = replyBytes

	if len(g.receivedBytes) != g.k {
		return 0, false, false
	}

	// exactly one of the k+1 qids is absent from receivedBytes.
	for _, dq := range g.dataQIDs {
		if _, ok := g.receivedBytes[dq]; !ok {
			return dq, true, false
		}
	}
	if _, ok := g.receivedBytes[g.parityQID]; !ok {
		return g.parityQID, true, true
	}
	// all k+1 present (shouldn't happen the first time len==k, defensive).
	return 0, false, false
}

// DecodeInputs returns the k received byte-tensors, in data-qid order
// followed by parity if present, excluding the missing qid, suitable as
// the decode driver's input: [k x m-bytes] -> m-bytes.
func (g *CDCGroup) DecodeInputs(missingQID uint64) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([][]byte, 0, g.k)
	for _, dq := range g.dataQIDs {
		if dq == missingQID {
			continue
		}
		if b, ok := g.receivedBytes[dq]; ok {
			out = append(out, b)
		}
	}
	if missingQID != g.parityQID {
		if b, ok := g.receivedBytes[g.parityQID]; ok {
			out = append(out, b)
		}
	}
	return out
}

// TryReplyData claims the right to emit the client-visible reply for a
// data qid, returning false if a reply for that qid was already emitted.
// This is the stripe-completed bit, scoped per data qid so that at most
// one reply per original qid is ever written.
func (g *CDCGroup) TryReplyData(qid uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dataReplied[qid] {
		return false
	}
	g.dataReplied[qid] = true
	return true
}

// Unresolved returns the data qids that have not yet been replied to,
// used when a stripe is declared unrecoverable and must be requeued.
func (g *CDCGroup) Unresolved() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uint64, 0, len(g.dataQIDs))
	for _, dq := range g.dataQIDs {
		if !g.dataReplied[dq] {
			out = append(out, dq)
		}
	}
	return out
}

// BackupGroup tracks one replicated group: one data query plus B replicas
// sharing a stripe id.
type BackupGroup struct {
	sid         uint64
	dataQID     uint64
	replicaQIDs []uint64

	mu        sync.Mutex
	replied   bool
	failCount int
}

// NewBackupGroup constructs a backup-group record.
func NewBackupGroup(sid, dataQID uint64, replicaQIDs []uint64) *BackupGroup {
	return &BackupGroup{sid: sid, dataQID: dataQID, replicaQIDs: replicaQIDs}
}

func (g *BackupGroup) Kind() GroupKind { return GroupBackup }
func (g *BackupGroup) SID() uint64     { return g.sid }
func (g *BackupGroup) DataQID() uint64 { return g.dataQID }

// ReplicaCount returns B, the number of replicas beyond the original data
// query.
func (g *BackupGroup) ReplicaCount() int { return len(g.replicaQIDs) }

// QIDs returns the data qid followed by all replica qids.
func (g *BackupGroup) QIDs() []uint64 {
	out := make([]uint64, 0, len(g.replicaQIDs)+1)
	out = append(out, g.dataQID)
	out = append(out, g.replicaQIDs...)
	return out
}

// RecordFailure is called when a broken reply arrives for one of this
// group's B+1 backends. It returns the running fail count and whether
// this call is the one where all B+1 have now failed.
func (g *BackupGroup) RecordFailure() (failCount int, allFailed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCount++
	failCount = g.failCount
	allFailed = g.failCount == len(g.replicaQIDs)+1
	return
}

// TryReply claims the right to emit the group's single client-visible
// reply, returning false if one was already emitted by a racing replica.
func (g *BackupGroup) TryReply() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.replied {
		return false
	}
	g.replied = true
	return true
}

// GroupTable is a process-wide, concurrency-safe map from stripe id to
// Group, with an explicit close transition.
type GroupTable struct {
	m sync.Map
}

// NewGroupTable constructs an empty table.
func NewGroupTable() *GroupTable { return &GroupTable{} }

// Store records g under its own SID.
func (t *GroupTable) Store(g Group) { t.m.Store(g.SID(), g) }

// Load retrieves the group for sid, if any.
func (t *GroupTable) Load(sid uint64) (Group, bool) {
	v, ok := t.m.Load(sid)
	if !ok {
		return nil, false
	}
	return v.(Group), true
}

// Close removes sid from the table; called once a stripe/group's single
// reply has been sent or it has been superseded by a recompute.
func (t *GroupTable) Close(sid uint64) { t.m.Delete(sid) }
