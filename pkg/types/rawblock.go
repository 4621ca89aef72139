package types

import (
	"math/big"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/common/hexutil"
	ethtypes "github.com/ava-labs/libevm/core/types"
)

// RawBlock is the wire shape of a block header as returned by
// eth_getBlockByNumber. Fields that a pending or partially materialized block
// omits are pointers; everything else decodes to its zero value when absent,
// mirroring what upstream nodes actually send.
type RawBlock struct {
	Hash             *common.Hash         `json:"hash"`
	ParentHash       common.Hash          `json:"parentHash"`
	UnclesHash       common.Hash          `json:"sha3Uncles"`
	Author           *common.Address      `json:"miner"`
	StateRoot        common.Hash          `json:"stateRoot"`
	TransactionsRoot common.Hash          `json:"transactionsRoot"`
	ReceiptsRoot     common.Hash          `json:"receiptsRoot"`
	Number           *hexutil.Big         `json:"number"`
	GasUsed          *hexutil.Big         `json:"gasUsed"`
	GasLimit         *hexutil.Big         `json:"gasLimit"`
	ExtraData        hexutil.Bytes        `json:"extraData"`
	LogsBloom        *ethtypes.Bloom      `json:"logsBloom"`
	Timestamp        *hexutil.Big         `json:"timestamp"`
	Difficulty       *hexutil.Big         `json:"difficulty"`
	Size             *hexutil.Big         `json:"size"`
	MixHash          *common.Hash         `json:"mixHash"`
	Nonce            *ethtypes.BlockNonce `json:"nonce"`
	BaseFeePerGas    *hexutil.Big         `json:"baseFeePerGas"`
}

// HeaderFromRaw converts a raw block into a fully populated Header, or fails
// with the error for the first mandatory field that is absent or does not
// narrow into its declared width. No partially populated Header is ever
// produced. The check order matches the field order of the wire format:
// hash, author, number, logs bloom, base fee, size, mix hash, nonce.
func HeaderFromRaw(raw *RawBlock) (*Header, error) {
	if raw.Hash == nil {
		return nil, ErrMissingHash
	}
	if raw.Author == nil {
		return nil, ErrMissingAuthor
	}

	number, ok := narrowToUint64(raw.Number)
	if raw.Number == nil || !ok {
		return nil, ErrMissingNumber
	}

	if raw.LogsBloom == nil {
		return nil, ErrMissingLogsBloom
	}

	var baseFee *uint64
	if raw.BaseFeePerGas != nil {
		fee, ok := narrowToUint64(raw.BaseFeePerGas)
		if !ok {
			return nil, ErrBlockBaseFeeInvalid
		}
		baseFee = &fee
	}

	size, ok := narrowToUint64(raw.Size)
	if raw.Size == nil || !ok {
		return nil, ErrMissingSize
	}

	if raw.MixHash == nil {
		return nil, ErrMissingMixHash
	}
	if raw.Nonce == nil {
		return nil, ErrMissingNonce
	}

	gasUsed, ok := narrowToUint64(raw.GasUsed)
	if !ok {
		return nil, ErrBlockGasUsedInvalid
	}
	gasLimit, ok := narrowToUint64(raw.GasLimit)
	if !ok {
		return nil, ErrBlockGasLimitInvalid
	}
	timestamp, ok := narrowToUint64(raw.Timestamp)
	if !ok {
		return nil, ErrBlockTimestampInvalid
	}

	difficulty := new(big.Int)
	if raw.Difficulty != nil {
		difficulty.Set(raw.Difficulty.ToInt())
	}

	extraData := make([]byte, len(raw.ExtraData))
	copy(extraData, raw.ExtraData)

	return &Header{
		Hash:             *raw.Hash,
		ParentHash:       raw.ParentHash,
		UnclesHash:       raw.UnclesHash,
		Author:           *raw.Author,
		StateRoot:        raw.StateRoot,
		TransactionsRoot: raw.TransactionsRoot,
		ReceiptsRoot:     raw.ReceiptsRoot,
		Number:           number,
		GasUsed:          gasUsed,
		GasLimit:         gasLimit,
		ExtraData:        extraData,
		LogsBloom:        *raw.LogsBloom,
		Timestamp:        timestamp,
		Difficulty:       difficulty,
		Size:             size,
		MixHash:          *raw.MixHash,
		Nonce:            *raw.Nonce,
		BaseFeePerGas:    baseFee,
	}, nil
}

// narrowToUint64 narrows an arbitrary-precision wire value into a uint64.
// A nil value narrows to zero; the caller decides whether nil is acceptable
// for the field at hand. Out-of-range values fail instead of truncating.
func narrowToUint64(v *hexutil.Big) (uint64, bool) {
	if v == nil {
		return 0, true
	}
	i := v.ToInt()
	if !i.IsUint64() {
		return 0, false
	}
	return i.Uint64(), true
}
