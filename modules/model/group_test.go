package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCDCGroupUnrecoverableAfterTwoFailures(t *testing.T) {
	g := NewCDCGroup(1, []uint64{10, 11, 12}, 99)

	_, _, unrec := g.RecordReceipt(false)
	assert.False(t, unrec)
	_, _, unrec = g.RecordReceipt(true)
	assert.False(t, unrec)
	_, _, unrec = g.RecordReceipt(true)
	assert.False(t, unrec) // two failures, but only 3 of the k+1=4 replies are in
	total, failures, unrec := g.RecordReceipt(false)
	assert.Equal(t, 4, total)
	assert.Equal(t, 2, failures)
	assert.True(t, unrec)

	// only fires once
	_, _, unrec = g.RecordReceipt(false)
	assert.False(t, unrec)
}

func TestCDCGroupHealthyNeedsNoDecode(t *testing.T) {
	g := NewCDCGroup(1, []uint64{10, 11, 12}, 99)

	_, ready, _ := g.AddForDecode(10, []byte("a"))
	assert.False(t, ready)
	_, ready, _ = g.AddForDecode(11, []byte("b"))
	assert.False(t, ready)
	missing, ready, isParity := g.AddForDecode(12, []byte("c"))
	assert.True(t, ready)
	assert.Equal(t, uint64(99), missing)
	assert.True(t, isParity)
}

func TestCDCGroupMissingDataNeedsDecode(t *testing.T) {
	g := NewCDCGroup(1, []uint64{10, 11, 12}, 99)

	g.AddForDecode(10, []byte("a"))
	g.AddForDecode(11, []byte("b"))
	missing, ready, isParity := g.AddForDecode(99, []byte("parity"))
	assert.True(t, ready)
	assert.Equal(t, uint64(12), missing)
	assert.False(t, isParity)

	inputs := g.DecodeInputs(missing)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("parity")}, inputs)
}

func TestCDCGroupReplyIdempotence(t *testing.T) {
	g := NewCDCGroup(1, []uint64{10, 11}, 99)
	assert.True(t, g.TryReplyData(10))
	assert.False(t, g.TryReplyData(10))
	assert.True(t, g.TryReplyData(11))

	assert.Empty(t, g.Unresolved())
}

func TestBackupGroupCompletesOnFirstReply(t *testing.T) {
	g := NewBackupGroup(1, 100, []uint64{101, 102})
	assert.True(t, g.TryReply())
	assert.False(t, g.TryReply())
}

func TestBackupGroupAllFailedTriggersRecompute(t *testing.T) {
	g := NewBackupGroup(1, 100, []uint64{101, 102})
	fc, all := g.RecordFailure()
	assert.Equal(t, 1, fc)
	assert.False(t, all)
	fc, all = g.RecordFailure()
	assert.Equal(t, 2, fc)
	assert.False(t, all)
	fc, all = g.RecordFailure()
	assert.Equal(t, 3, fc)
	assert.True(t, all)
}

func TestGroupTableStoreLoadClose(t *testing.T) {
	tbl := NewGroupTable()
	g := NewBackupGroup(7, 1, nil)
	tbl.Store(g)

	got, ok := tbl.Load(7)
	assert.True(t, ok)
	assert.Equal(t, GroupBackup, got.Kind())

	tbl.Close(7)
	_, ok = tbl.Load(7)
	assert.False(t, ok)
}
