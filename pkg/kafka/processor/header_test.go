package processor

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/common/hexutil"
	ethtypes "github.com/ava-labs/libevm/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/header-indexer/internal/storage/inmemory"
	"github.com/indexforge/header-indexer/pkg/kafka/messages"
	"github.com/indexforge/header-indexer/pkg/kafka/testutils"
	"github.com/indexforge/header-indexer/pkg/types"
)

func bigVal(v uint64) *hexutil.Big {
	b := hexutil.Big(*new(big.Int).SetUint64(v))
	return &b
}

func newRawBlock() *types.RawBlock {
	hash := common.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3")
	author := common.HexToAddress("0x05a56e2d52c817161883f50c441c3228cfe54d9f")
	mixHash := common.HexToHash("0x9620b46a81a4795cf4449d48e3270419f58b09293a5421205f88179b563f815a")
	nonce := ethtypes.EncodeNonce(0xb223da049adf2216)
	var bloom ethtypes.Bloom

	return &types.RawBlock{
		Hash:       &hash,
		ParentHash: common.HexToHash("0x1f675bff07515f5df96737194ea945c36c41e7b4fcef307b7cd4d0e602a69111"),
		Author:     &author,
		Number:     bigVal(12965000),
		GasUsed:    bigVal(30029295),
		GasLimit:   bigVal(30029122),
		LogsBloom:  &bloom,
		Timestamp:  bigVal(1628166822),
		Difficulty: bigVal(7742494561645080),
		Size:       bigVal(15949),
		MixHash:    &mixHash,
		Nonce:      &nonce,
	}
}

func newMessage(t *testing.T, raw *types.RawBlock) []byte {
	t.Helper()
	payload, err := messages.MarshalRawBlock(raw)
	require.NoError(t, err)
	return payload
}

func TestHeaderProcessor_Process(t *testing.T) {
	store := inmemory.New()
	proc := NewHeaderProcessor(store, testutils.NewTestLogger(t), nil)

	raw := newRawBlock()
	msg := testutils.NewTestMessage("raw-blocks", 0, 1, nil, newMessage(t, raw))

	require.NoError(t, proc.Process(t.Context(), msg))

	header, err := store.HeaderByHash(t.Context(), *raw.Hash)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.Equal(t, uint64(12965000), header.Number)

	head, err := store.Head(t.Context())
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, *raw.Hash, head.Hash)
}

func TestHeaderProcessor_Process_Idempotent(t *testing.T) {
	store := inmemory.New()
	proc := NewHeaderProcessor(store, testutils.NewTestLogger(t), nil)

	raw := newRawBlock()
	msg := testutils.NewTestMessage("raw-blocks", 0, 1, nil, newMessage(t, raw))

	require.NoError(t, proc.Process(t.Context(), msg))
	// Redelivery of the same block must succeed without touching the row.
	require.NoError(t, proc.Process(t.Context(), msg))
	assert.Equal(t, 1, store.Len())
}

func TestHeaderProcessor_Process_ValidationFailure(t *testing.T) {
	store := inmemory.New()
	proc := NewHeaderProcessor(store, testutils.NewTestLogger(t), nil)

	raw := newRawBlock()
	raw.Nonce = nil
	msg := testutils.NewTestMessage("raw-blocks", 0, 1, nil, newMessage(t, raw))

	err := proc.Process(t.Context(), msg)
	assert.ErrorIs(t, err, types.ErrMissingNonce)
	assert.Equal(t, 0, store.Len())
}

func TestHeaderProcessor_Process_MalformedMessage(t *testing.T) {
	store := inmemory.New()
	proc := NewHeaderProcessor(store, testutils.NewTestLogger(t), nil)

	msg := testutils.NewTestMessage("raw-blocks", 0, 1, nil, []byte("not json"))

	err := proc.Process(t.Context(), msg)
	assert.ErrorContains(t, err, "decode raw block")
	assert.Equal(t, 0, store.Len())
}

func TestHeaderProcessor_Process_WrongEnvelopeType(t *testing.T) {
	store := inmemory.New()
	proc := NewHeaderProcessor(store, testutils.NewTestLogger(t), nil)

	payload, err := json.Marshal(map[string]interface{}{
		"type":    "transaction",
		"version": 1,
		"data":    map[string]interface{}{},
	})
	require.NoError(t, err)

	msg := testutils.NewTestMessage("raw-blocks", 0, 1, nil, payload)

	err = proc.Process(t.Context(), msg)
	assert.ErrorContains(t, err, "decode raw block")
}

func TestRejectedField(t *testing.T) {
	assert.Equal(t, "nonce", rejectedField(types.ErrMissingNonce))
	assert.Equal(t, "", rejectedField(assert.AnError))
	assert.Equal(t, "", rejectedField(nil))
}
