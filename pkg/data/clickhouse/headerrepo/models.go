package headerrepo

import (
	"math/big"

	"github.com/ava-labs/libevm/common"
	ethtypes "github.com/ava-labs/libevm/core/types"

	"github.com/indexforge/header-indexer/pkg/types"
	"github.com/indexforge/header-indexer/pkg/utils"
)

// HeaderRow is the stored shape of a header: hex text for fixed-width byte
// fields, arbitrary-precision integers for numeric columns. Mapping a row
// back into a Header re-validates every field, independently of the
// ingestion-side pass, because narrowing a UInt256 column into a fixed-width
// integer can fail even for a correctly written row, and because a row could
// be edited outside the normal write path.
type HeaderRow struct {
	Hash             string
	ParentHash       string
	UnclesHash       string
	Author           string
	StateRoot        string
	TransactionsRoot string
	ReceiptsRoot     string
	Number           *big.Int
	GasUsed          *big.Int
	GasLimit         *big.Int
	ExtraData        string
	LogsBloom        string
	Timestamp        *big.Int
	Difficulty       *big.Int
	Size             *big.Int
	MixHash          string
	Nonce            string
	BaseFeePerGas    *big.Int // nil when the column is NULL
}

// HeadRow is the stored projection read by the head query.
type HeadRow struct {
	Hash       string
	Number     *big.Int
	ParentHash string
	Timestamp  *big.Int
}

// RowFromHeader encodes a validated header into its stored shape. Encoding
// cannot fail: every numeric field widens into UInt256 and every byte field
// has a canonical hex form.
func RowFromHeader(h *types.Header) *HeaderRow {
	difficulty := new(big.Int)
	if h.Difficulty != nil {
		difficulty.Set(h.Difficulty)
	}

	var baseFee *big.Int
	if h.BaseFeePerGas != nil {
		baseFee = new(big.Int).SetUint64(*h.BaseFeePerGas)
	}

	return &HeaderRow{
		Hash:             utils.BytesToHex(h.Hash.Bytes()),
		ParentHash:       utils.BytesToHex(h.ParentHash.Bytes()),
		UnclesHash:       utils.BytesToHex(h.UnclesHash.Bytes()),
		Author:           utils.BytesToHex(h.Author.Bytes()),
		StateRoot:        utils.BytesToHex(h.StateRoot.Bytes()),
		TransactionsRoot: utils.BytesToHex(h.TransactionsRoot.Bytes()),
		ReceiptsRoot:     utils.BytesToHex(h.ReceiptsRoot.Bytes()),
		Number:           new(big.Int).SetUint64(h.Number),
		GasUsed:          new(big.Int).SetUint64(h.GasUsed),
		GasLimit:         new(big.Int).SetUint64(h.GasLimit),
		ExtraData:        utils.BytesToHex(h.ExtraData),
		LogsBloom:        utils.BytesToHex(h.LogsBloom.Bytes()),
		Timestamp:        new(big.Int).SetUint64(h.Timestamp),
		Difficulty:       difficulty,
		Size:             new(big.Int).SetUint64(h.Size),
		MixHash:          utils.BytesToHex(h.MixHash.Bytes()),
		Nonce:            utils.BytesToHex(h.Nonce[:]),
		BaseFeePerGas:    baseFee,
	}
}

// Header decodes the row back into a validated Header. Each field failure is
// reported with its own row-stage error so storage corruption or schema
// drift is diagnosable column by column.
func (r *HeaderRow) Header() (*types.Header, error) {
	hash, err := utils.HexToFixedBytes(r.Hash, common.HashLength)
	if err != nil {
		return nil, types.ErrRowHashInvalid
	}
	parentHash, err := utils.HexToFixedBytes(r.ParentHash, common.HashLength)
	if err != nil {
		return nil, types.ErrRowParentHashInvalid
	}
	unclesHash, err := utils.HexToFixedBytes(r.UnclesHash, common.HashLength)
	if err != nil {
		return nil, types.ErrRowUnclesHashInvalid
	}
	author, err := utils.HexToFixedBytes(r.Author, common.AddressLength)
	if err != nil {
		return nil, types.ErrRowAuthorInvalid
	}
	stateRoot, err := utils.HexToFixedBytes(r.StateRoot, common.HashLength)
	if err != nil {
		return nil, types.ErrRowStateRootInvalid
	}
	transactionsRoot, err := utils.HexToFixedBytes(r.TransactionsRoot, common.HashLength)
	if err != nil {
		return nil, types.ErrRowTransactionsRootInvalid
	}
	receiptsRoot, err := utils.HexToFixedBytes(r.ReceiptsRoot, common.HashLength)
	if err != nil {
		return nil, types.ErrRowReceiptsRootInvalid
	}

	number, ok := narrowBig(r.Number)
	if !ok {
		return nil, types.ErrRowNumberInvalid
	}
	gasUsed, ok := narrowBig(r.GasUsed)
	if !ok {
		return nil, types.ErrRowGasUsedInvalid
	}
	gasLimit, ok := narrowBig(r.GasLimit)
	if !ok {
		return nil, types.ErrRowGasLimitInvalid
	}

	extraData, err := utils.HexToBytes(r.ExtraData)
	if err != nil {
		return nil, types.ErrRowExtraDataInvalid
	}

	bloomBytes, err := utils.HexToFixedBytes(r.LogsBloom, ethtypes.BloomByteLength)
	if err != nil {
		return nil, types.ErrRowLogsBloomInvalid
	}

	timestamp, ok := narrowBig(r.Timestamp)
	if !ok {
		return nil, types.ErrRowTimestampInvalid
	}

	if r.Difficulty == nil || r.Difficulty.Sign() < 0 {
		return nil, types.ErrRowDifficultyInvalid
	}

	size, ok := narrowBig(r.Size)
	if !ok {
		return nil, types.ErrRowSizeInvalid
	}

	mixHash, err := utils.HexToFixedBytes(r.MixHash, common.HashLength)
	if err != nil {
		return nil, types.ErrRowMixHashInvalid
	}

	nonceBytes, err := utils.HexToFixedBytes(r.Nonce, len(ethtypes.BlockNonce{}))
	if err != nil {
		return nil, types.ErrRowNonceInvalid
	}

	var baseFee *uint64
	if r.BaseFeePerGas != nil {
		fee, ok := narrowBig(r.BaseFeePerGas)
		if !ok {
			return nil, types.ErrRowBaseFeeInvalid
		}
		baseFee = &fee
	}

	var bloom ethtypes.Bloom
	copy(bloom[:], bloomBytes)
	var nonce ethtypes.BlockNonce
	copy(nonce[:], nonceBytes)

	return &types.Header{
		Hash:             common.BytesToHash(hash),
		ParentHash:       common.BytesToHash(parentHash),
		UnclesHash:       common.BytesToHash(unclesHash),
		Author:           common.BytesToAddress(author),
		StateRoot:        common.BytesToHash(stateRoot),
		TransactionsRoot: common.BytesToHash(transactionsRoot),
		ReceiptsRoot:     common.BytesToHash(receiptsRoot),
		Number:           number,
		GasUsed:          gasUsed,
		GasLimit:         gasLimit,
		ExtraData:        extraData,
		LogsBloom:        bloom,
		Timestamp:        timestamp,
		Difficulty:       new(big.Int).Set(r.Difficulty),
		Size:             size,
		MixHash:          common.BytesToHash(mixHash),
		Nonce:            nonce,
		BaseFeePerGas:    baseFee,
	}, nil
}

// Head decodes the head-projection row.
func (r *HeadRow) Head() (*types.Head, error) {
	hash, err := utils.HexToFixedBytes(r.Hash, common.HashLength)
	if err != nil {
		return nil, types.ErrRowHashInvalid
	}
	number, ok := narrowBig(r.Number)
	if !ok {
		return nil, types.ErrRowNumberInvalid
	}
	parentHash, err := utils.HexToFixedBytes(r.ParentHash, common.HashLength)
	if err != nil {
		return nil, types.ErrRowParentHashInvalid
	}
	timestamp, ok := narrowBig(r.Timestamp)
	if !ok {
		return nil, types.ErrRowTimestampInvalid
	}

	return &types.Head{
		Hash:       common.BytesToHash(hash),
		Number:     number,
		ParentHash: common.BytesToHash(parentHash),
		Timestamp:  timestamp,
	}, nil
}

// narrowBig narrows an arbitrary-precision stored value into a uint64.
// Out-of-range values fail instead of truncating.
func narrowBig(v *big.Int) (uint64, bool) {
	if v == nil || !v.IsUint64() {
		return 0, false
	}
	return v.Uint64(), true
}
