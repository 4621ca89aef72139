package headerrepo

const (
	// headerColumns is the column list for the headers table (18 columns).
	// inserted_at is filled by the table default and records write order.
	headerColumns = `hash, parent_hash, uncles_hash, author, state_root, transactions_root,
		receipts_root, number, gas_used, gas_limit, extra_data, logs_bloom,
		timestamp, difficulty, size, mix_hash, nonce, base_fee_per_gas`

	// headerValuesPlaceholders is the placeholder string for headers (18 placeholders)
	headerValuesPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`
)

// CreateHeadersTableQuery returns the CREATE TABLE query for the headers table.
// Numeric columns are UInt256 so that no Header field can be truncated at
// write time; hash, address, bloom and nonce columns hold canonical hex text.
func CreateHeadersTableQuery(tableName string) string {
	return `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		hash String,
		parent_hash String,
		uncles_hash String,
		author String,
		state_root String,
		transactions_root String,
		receipts_root String,
		number UInt256,
		gas_used UInt256,
		gas_limit UInt256,
		extra_data String,
		logs_bloom String,
		timestamp UInt256,
		difficulty UInt256,
		size UInt256,
		mix_hash String,
		nonce String,
		base_fee_per_gas Nullable(UInt256),
		inserted_at DateTime64(3, 'UTC') DEFAULT now64(3)
	)
	ENGINE = MergeTree
	ORDER BY hash
	SETTINGS index_granularity = 8192`
}

// InsertHeaderQuery returns the idempotent insert for the headers table:
// a single round trip that inserts nothing when a row with the same hash
// already exists. The query expects the 18 column parameters followed by the
// hash once more for the existence guard.
func InsertHeaderQuery(tableName string) string {
	return `INSERT INTO ` + tableName + ` (` + headerColumns + `)
	SELECT ` + headerValuesPlaceholders + `
	WHERE NOT EXISTS (SELECT 1 FROM ` + tableName + ` WHERE hash = ?)`
}

// HeaderByHashQuery returns the point lookup by hash equality. The
// inserted_at ordering makes reads deterministic (earliest write wins) even
// if duplicate rows ever race past the insert guard before a merge.
func HeaderByHashQuery(tableName string) string {
	return `SELECT ` + headerColumns + ` FROM ` + tableName + `
	WHERE hash = ? ORDER BY inserted_at ASC LIMIT 1`
}

// HeadQuery returns the canonical-head lookup: the row with the numerically
// greatest block number, earliest write winning a tie.
func HeadQuery(tableName string) string {
	return `SELECT hash, number, parent_hash, timestamp FROM ` + tableName + `
	ORDER BY number DESC, inserted_at ASC LIMIT 1`
}
