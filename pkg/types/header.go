// Package types holds the validated block header entity, its minimal Head
// projection, the raw wire representation supplied by upstream chain data
// sources, and the validation pass between them.
package types

import (
	"math/big"

	"github.com/ava-labs/libevm/common"
	ethtypes "github.com/ava-labs/libevm/core/types"
)

// BlockHash is a 32-byte block content identifier. Its canonical textual form
// is a 0x-prefixed 64-character hex string; equality is byte equality.
type BlockHash = common.Hash

// BlockNumber is monotonic along a single chain branch, but not globally
// unique across forks.
type BlockNumber = uint64

// Header is the full structural record of a block's metadata, excluding
// transaction bodies. A Header is constructed once by HeaderFromRaw and is
// immutable afterwards.
type Header struct {
	Hash             BlockHash
	ParentHash       BlockHash
	UnclesHash       BlockHash
	Author           common.Address
	StateRoot        common.Hash
	TransactionsRoot common.Hash
	ReceiptsRoot     common.Hash
	Number           BlockNumber
	// GasUsed <= GasLimit is a chain-level invariant, not enforced here.
	GasUsed   uint64
	GasLimit  uint64
	ExtraData []byte
	LogsBloom ethtypes.Bloom
	Timestamp uint64
	// Difficulty is a 256-bit unsigned integer and never narrowed.
	Difficulty *big.Int
	Size       uint64
	MixHash    common.Hash
	Nonce      ethtypes.BlockNonce
	// BaseFeePerGas is present iff the chain's fee-market upgrade is active
	// at this block. Presence tracking is the caller's responsibility.
	BaseFeePerGas *uint64
}

// Head is the minimal projection of the chain's current known tip. It is
// always derived from a Header and never persisted as its own row.
type Head struct {
	Hash       BlockHash
	Number     BlockNumber
	ParentHash BlockHash
	Timestamp  uint64
}

// Head projects the header down to the fields that identify a chain tip.
func (h *Header) Head() *Head {
	return &Head{
		Hash:       h.Hash,
		Number:     h.Number,
		ParentHash: h.ParentHash,
		Timestamp:  h.Timestamp,
	}
}
