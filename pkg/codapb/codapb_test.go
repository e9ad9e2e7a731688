package codapb

import (
	"testing"

	gogoproto "github.com/gogo/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodaRequestMarshalRoundTrip(t *testing.T) {
	req := &CodaRequest{
		Id:         42,
		Filename:   "cat.jpg",
		ModelName:  "resnet50",
		Scale:      1,
		Data:       []byte{1, 2, 3},
		EncodeType: "CDC",
	}

	b, err := gogoproto.Marshal(req)
	require.NoError(t, err)

	got := &CodaRequest{}
	require.NoError(t, gogoproto.Unmarshal(b, got))

	assert.Equal(t, req.Id, got.Id)
	assert.Equal(t, req.Filename, got.Filename)
	assert.Equal(t, req.ModelName, got.ModelName)
	assert.Equal(t, req.Data, got.Data)
	assert.Equal(t, req.EncodeType, got.EncodeType)
}

func TestCodaReplyMarshalRoundTrip(t *testing.T) {
	rep := &CodaReply{Id: 7, ReplyInfo: []byte("ok"), Recompute: true}
	b, err := gogoproto.Marshal(rep)
	require.NoError(t, err)

	got := &CodaReply{}
	require.NoError(t, gogoproto.Unmarshal(b, got))
	assert.Equal(t, rep.Id, got.Id)
	assert.Equal(t, rep.ReplyInfo, got.ReplyInfo)
	assert.Equal(t, rep.Recompute, got.Recompute)
}

func TestEncodeTypeRoundTrip(t *testing.T) {
	assert.Equal(t, "CDC", EncodeTypeString(true))
	assert.Equal(t, "Backup", EncodeTypeString(false))

	isCDC, err := ParseEncodeType("CDC")
	require.NoError(t, err)
	assert.True(t, isCDC)

	_, err = ParseEncodeType("bogus")
	assert.ErrorIs(t, err, ErrUnknownEncodeType)
}
