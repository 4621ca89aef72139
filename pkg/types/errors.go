package types

import "fmt"

// Stage identifies which validation pass rejected a field: converting a raw
// block into a Header, or decoding a stored row back into a Header.
type Stage string

const (
	StageBlock Stage = "block"
	StageRow   Stage = "row"
)

// Field names a Header field in a FieldError. Values match the stored column
// names so that a row-stage error points directly at the offending column.
type Field string

const (
	FieldHash             Field = "hash"
	FieldParentHash       Field = "parent_hash"
	FieldUnclesHash       Field = "uncles_hash"
	FieldAuthor           Field = "author"
	FieldStateRoot        Field = "state_root"
	FieldTransactionsRoot Field = "transactions_root"
	FieldReceiptsRoot     Field = "receipts_root"
	FieldNumber           Field = "number"
	FieldGasUsed          Field = "gas_used"
	FieldGasLimit         Field = "gas_limit"
	FieldExtraData        Field = "extra_data"
	FieldLogsBloom        Field = "logs_bloom"
	FieldTimestamp        Field = "timestamp"
	FieldDifficulty       Field = "difficulty"
	FieldSize             Field = "size"
	FieldMixHash          Field = "mix_hash"
	FieldNonce            Field = "nonce"
	FieldBaseFeePerGas    Field = "base_fee_per_gas"
)

// FieldError is the single validation error type for both passes. Callers
// branch on (Stage, Field) via errors.Is against the exported sentinels
// instead of parsing messages.
type FieldError struct {
	Stage Stage
	Field Field
}

func (e *FieldError) Error() string {
	if e.Stage == StageBlock {
		return fmt.Sprintf("block missing or invalid %s", e.Field)
	}
	return fmt.Sprintf("stored header has invalid %s", e.Field)
}

// Is reports stage and field equality, so errors.Is works against sentinels
// as well as independently constructed FieldError values.
func (e *FieldError) Is(target error) bool {
	t, ok := target.(*FieldError)
	return ok && t.Stage == e.Stage && t.Field == e.Field
}

func blockErr(f Field) *FieldError { return &FieldError{Stage: StageBlock, Field: f} }
func rowErr(f Field) *FieldError   { return &FieldError{Stage: StageRow, Field: f} }

// Block-stage sentinels: one per mandatory field a raw block may omit (or
// carry in an unconvertible form, which is treated the same as absence).
var (
	ErrMissingHash      = blockErr(FieldHash)
	ErrMissingAuthor    = blockErr(FieldAuthor)
	ErrMissingNumber    = blockErr(FieldNumber)
	ErrMissingLogsBloom = blockErr(FieldLogsBloom)
	ErrMissingSize      = blockErr(FieldSize)
	ErrMissingMixHash   = blockErr(FieldMixHash)
	ErrMissingNonce     = blockErr(FieldNonce)

	// Mandatory numeric fields that are always present on the wire but can
	// still fail to narrow into their declared width.
	ErrBlockGasUsedInvalid   = blockErr(FieldGasUsed)
	ErrBlockGasLimitInvalid  = blockErr(FieldGasLimit)
	ErrBlockTimestampInvalid = blockErr(FieldTimestamp)
	ErrBlockBaseFeeInvalid   = blockErr(FieldBaseFeePerGas)
)

// Row-stage sentinels: one per persisted column that may fail to decode or
// narrow when a stored row is read back.
var (
	ErrRowHashInvalid             = rowErr(FieldHash)
	ErrRowParentHashInvalid       = rowErr(FieldParentHash)
	ErrRowUnclesHashInvalid       = rowErr(FieldUnclesHash)
	ErrRowAuthorInvalid           = rowErr(FieldAuthor)
	ErrRowStateRootInvalid        = rowErr(FieldStateRoot)
	ErrRowTransactionsRootInvalid = rowErr(FieldTransactionsRoot)
	ErrRowReceiptsRootInvalid     = rowErr(FieldReceiptsRoot)
	ErrRowNumberInvalid           = rowErr(FieldNumber)
	ErrRowGasUsedInvalid          = rowErr(FieldGasUsed)
	ErrRowGasLimitInvalid         = rowErr(FieldGasLimit)
	ErrRowExtraDataInvalid        = rowErr(FieldExtraData)
	ErrRowLogsBloomInvalid        = rowErr(FieldLogsBloom)
	ErrRowTimestampInvalid        = rowErr(FieldTimestamp)
	ErrRowDifficultyInvalid       = rowErr(FieldDifficulty)
	ErrRowSizeInvalid             = rowErr(FieldSize)
	ErrRowMixHashInvalid          = rowErr(FieldMixHash)
	ErrRowNonceInvalid            = rowErr(FieldNonce)
	ErrRowBaseFeeInvalid          = rowErr(FieldBaseFeePerGas)
)
