package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codaproj/coda/modules/model"
)

func sumBytes(tensors [][]byte) []byte {
	out := make([]byte, len(tensors[0]))
	for _, t := range tensors {
		for i := range out {
			out[i] += t[i]
		}
	}
	return out
}

// diffBytes reconstructs a missing data tensor given the surviving data
// tensors followed by the parity tensor (the order model.CDCGroup.DecodeInputs
// returns for a missing-data reconstruction): result = parity - sum(rest).
func diffBytes(tensors [][]byte) []byte {
	last := len(tensors) - 1
	out := append([]byte(nil), tensors[last]...)
	for _, t := range tensors[:last] {
		for i := range out {
			out[i] -= t[i]
		}
	}
	return out
}

func newTestCodec(k, b int) *Codec {
	return New(k, b, model.NewQIDAllocator(), model.NewSIDAllocator(), sumBytes, diffBytes)
}

func itemsFor(n int, vals ...byte) []*model.Query {
	out := make([]*model.Query, n)
	for i := 0; i < n; i++ {
		out[i] = &model.Query{TensorBytes: []byte{vals[i]}, Filename: "f"}
	}
	return out
}

func TestEncodeStripeProducesKPlusOneQueries(t *testing.T) {
	c := newTestCodec(3, 2)
	items := itemsFor(3, 1, 2, 3)

	out, group, err := c.EncodeStripe(items)
	require.NoError(t, err)
	assert.Len(t, out, 4)
	assert.Equal(t, group.SID(), out[0].SID)

	var parities, datas int
	for _, q := range out {
		if q.IsParity {
			parities++
			assert.Equal(t, byte(6), q.TensorBytes[0]) // 1+2+3
		} else {
			datas++
		}
	}
	assert.Equal(t, 1, parities)
	assert.Equal(t, 3, datas)
}

func TestEncodeStripeWrongCountErrors(t *testing.T) {
	c := newTestCodec(3, 2)
	_, _, err := c.EncodeStripe(itemsFor(2, 1, 2))
	assert.Error(t, err)
}

func TestEncodeBackupProducesDataPlusBReplicas(t *testing.T) {
	c := newTestCodec(3, 2)
	item := itemsFor(1, 9)[0]

	out, group := c.EncodeBackup(item)
	assert.Len(t, out, 3) // 1 data + 2 replicas
	assert.Equal(t, group.DataQID(), out[0].QID)
	assert.Equal(t, 2, group.ReplicaCount())
	for _, q := range out {
		assert.Equal(t, byte(9), q.TensorBytes[0])
	}
}

func TestDecodeMissingReconstructsFromStripe(t *testing.T) {
	c := newTestCodec(3, 2)
	items := itemsFor(3, 10, 20, 30)
	out, group, err := c.EncodeStripe(items)
	require.NoError(t, err)

	missingQID := out[1].QID // drop the second data query
	for _, q := range out {
		if q.QID == missingQID {
			continue
		}
		_, _, _ = group.AddForDecode(q.QID, q.TensorBytes)
	}

	reconstructed := c.DecodeMissing(group, missingQID)
	assert.Equal(t, []byte{20}, reconstructed) // sum(60) - 10 - 30 = 20
}
