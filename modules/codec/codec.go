// Package codec implements the stripe/backup-group construction and
// opaque encode/decode driver: the encode stage hands this package
// exactly k buffered items to form a CDC stripe (or a single item to
// form a Backup group), and the decode stage hands it a stripe's
// received tensors to reconstruct a missing one. The actual tensor math
// is an opaque injected function, mirroring the reference's "interface
// is opaque" note.
package codec

import (
	"fmt"

	"github.com/codaproj/coda/modules/model"
)

// EncodeFunc linearly combines k data tensors into one parity tensor.
type EncodeFunc func(tensors [][]byte) []byte

// DecodeFunc reconstructs one missing tensor from k surviving tensors
// (k-1 data plus parity, or all k data if the parity was the one missing).
type DecodeFunc func(tensors [][]byte) []byte

// Codec drives stripe/backup-group construction and owns the opaque
// encode/decode functions plus the process-wide qid/sid allocators.
type Codec struct {
	K int // stripe data count
	B int // backup replica count

	QIDs *model.QIDAllocator
	SIDs *model.SIDAllocator

	Encode EncodeFunc
	Decode DecodeFunc
}

// New constructs a Codec. encodeFn/decodeFn may be nil if the caller only
// ever exercises the Backup path (which never invokes either).
func New(k, b int, qids *model.QIDAllocator, sids *model.SIDAllocator, encodeFn EncodeFunc, decodeFn DecodeFunc) *Codec {
	return &Codec{K: k, B: b, QIDs: qids, SIDs: sids, Encode: encodeFn, Decode: decodeFn}
}

// EncodeStripe forms one CDC stripe from exactly k buffered pp-stage
// items. It assigns a fresh sid, k data qids,
// and one parity qid, computes the parity tensor via the opaque Encode
// func, and returns the output queries (k data + 1 parity, in that order)
// along with the stripe's Group for bookkeeping.
func (c *Codec) EncodeStripe(items []*model.Query) ([]*model.Query, *model.CDCGroup, error) {
	if len(items) != c.K {
		return nil, nil, fmt.Errorf("codec: EncodeStripe needs exactly %d items, got %d", c.K, len(items))
	}

	sid := c.SIDs.Next()
	tensors := make([][]byte, c.K)
	dataQIDs := make([]uint64, c.K)
	out := make([]*model.Query, 0, c.K+1)

	for i, item := range items {
		qid := c.QIDs.NextData()
		dataQIDs[i] = qid
		tensors[i] = item.TensorBytes

		q := *item
		q.QID = qid
		q.SID = sid
		q.Class = model.ClassCDC
		q.IsParity = false
		out = append(out, &q)
	}

	parityQID := c.QIDs.NextParity()
	parityBytes := c.Encode(tensors)

	parityQ := *items[0]
	parityQ.QID = parityQID
	parityQ.SID = sid
	parityQ.Class = model.ClassCDC
	parityQ.IsParity = true
	parityQ.TensorBytes = parityBytes
	out = append(out, &parityQ)

	group := model.NewCDCGroup(sid, dataQIDs, parityQID)
	return out, group, nil
}

// EncodeBackup forms one Backup group from a single pp-stage item: one
// data query plus B replica queries carrying the same tensor.
func (c *Codec) EncodeBackup(item *model.Query) ([]*model.Query, *model.BackupGroup) {
	sid := c.SIDs.Next()

	dataQID := c.QIDs.NextData()
	dataQ := *item
	dataQ.QID = dataQID
	dataQ.SID = sid
	dataQ.Class = model.ClassBackup
	dataQ.IsParity = false

	out := make([]*model.Query, 0, c.B+1)
	out = append(out, &dataQ)

	replicaQIDs := make([]uint64, c.B)
	for i := 0; i < c.B; i++ {
		rqid := c.QIDs.NextData()
		replicaQIDs[i] = rqid
		rq := *item
		rq.QID = rqid
		rq.SID = sid
		rq.Class = model.ClassBackup
		rq.IsParity = false
		out = append(out, &rq)
	}

	group := model.NewBackupGroup(sid, dataQID, replicaQIDs)
	return out, group
}

// DecodeMissing reconstructs the byte payload for missingQID using the
// stripe's already-received tensors, ordered data-then-parity excluding
// the missing one.
func (c *Codec) DecodeMissing(group *model.CDCGroup, missingQID uint64) []byte {
	inputs := group.DecodeInputs(missingQID)
	return c.Decode(inputs)
}
