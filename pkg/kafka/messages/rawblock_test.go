package messages

import (
	"encoding/json"
	"testing"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/header-indexer/pkg/kafka/message"
	"github.com/indexforge/header-indexer/pkg/types"
)

func newRawBlock() *types.RawBlock {
	hash := common.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3")
	number := hexutil.Big(*hexutil.MustDecodeBig("0xc5d488"))
	return &types.RawBlock{
		Hash:   &hash,
		Number: &number,
	}
}

func TestMarshalRawBlock(t *testing.T) {
	raw := newRawBlock()

	payload, err := MarshalRawBlock(raw)
	require.NoError(t, err)

	env, err := message.Open(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeRawBlock, env.Type)
	assert.Equal(t, RawBlockVersion, env.Version)
	assert.Equal(t, raw.Hash.Hex(), env.ID)
	assert.NotEmpty(t, env.TS)
}

func TestMarshalRawBlock_NoHash(t *testing.T) {
	raw := newRawBlock()
	raw.Hash = nil

	payload, err := MarshalRawBlock(raw)
	require.NoError(t, err)

	env, err := message.Open(payload)
	require.NoError(t, err)
	assert.Empty(t, env.ID)
}

func TestRawBlockRoundTrip(t *testing.T) {
	raw := newRawBlock()

	payload, err := MarshalRawBlock(raw)
	require.NoError(t, err)

	decoded, err := UnmarshalRawBlock(payload)
	require.NoError(t, err)
	require.NotNil(t, decoded.Hash)
	assert.Equal(t, raw.Hash.Hex(), decoded.Hash.Hex())
	require.NotNil(t, decoded.Number)
	assert.Equal(t, raw.Number.ToInt(), decoded.Number.ToInt())
}

func TestUnmarshalRawBlock_WrongType(t *testing.T) {
	env := message.New("transaction", RawBlockVersion, "", "", json.RawMessage(`{}`))
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	raw, err := UnmarshalRawBlock(payload)
	assert.Nil(t, raw)
	assert.ErrorContains(t, err, "unexpected message type")
}

func TestUnmarshalRawBlock_WrongVersion(t *testing.T) {
	env := message.New(TypeRawBlock, 2, "", "", json.RawMessage(`{}`))
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	raw, err := UnmarshalRawBlock(payload)
	assert.Nil(t, raw)
	assert.ErrorContains(t, err, "unsupported raw block version")
}

func TestUnmarshalRawBlock_MalformedEnvelope(t *testing.T) {
	raw, err := UnmarshalRawBlock([]byte("not json"))
	assert.Nil(t, raw)
	assert.ErrorContains(t, err, "open envelope")
}

func TestUnmarshalRawBlock_MalformedPayload(t *testing.T) {
	env := message.New(TypeRawBlock, RawBlockVersion, "", "", json.RawMessage(`{"number": 42}`))
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	raw, err := UnmarshalRawBlock(payload)
	assert.Nil(t, raw)
	assert.ErrorContains(t, err, "unmarshal raw block")
}
