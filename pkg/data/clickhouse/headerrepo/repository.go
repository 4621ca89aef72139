// Package headerrepo persists validated block headers in ClickHouse and
// answers lookup-by-hash and canonical-head queries over them.
package headerrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ava-labs/libevm/common"

	"github.com/indexforge/header-indexer/internal/storage"
	"github.com/indexforge/header-indexer/pkg/clickhouse"
	"github.com/indexforge/header-indexer/pkg/types"
	"github.com/indexforge/header-indexer/pkg/utils"
)

// Repository provides durable header storage keyed by hash.
type Repository interface {
	CreateTableIfNotExists(ctx context.Context) error
	SaveHeader(ctx context.Context, header *types.Header) error
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	Head(ctx context.Context) (*types.Head, error)
}

type repository struct {
	client    clickhouse.Client
	tableName string
}

var _ Repository = (*repository)(nil)
var _ storage.HeaderStore = (*repository)(nil)
var _ storage.HeadStore = (*repository)(nil)

// New creates a new header repository and initializes the table.
func New(ctx context.Context, client clickhouse.Client, tableName string) (Repository, error) {
	repo := &repository{
		client:    client,
		tableName: tableName,
	}
	if err := repo.CreateTableIfNotExists(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize headers table: %w", err)
	}
	return repo, nil
}

// CreateTableIfNotExists creates the headers table if it doesn't exist.
func (r *repository) CreateTableIfNotExists(ctx context.Context) error {
	query := CreateHeadersTableQuery(r.tableName)
	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create headers table: %w", err)
	}
	return nil
}

// SaveHeader inserts the header in a single round trip. The insert is a
// no-op when a row with the same hash already exists; the existing row is
// never overwritten.
func (r *repository) SaveHeader(ctx context.Context, header *types.Header) error {
	row := RowFromHeader(header)
	query := InsertHeaderQuery(r.tableName)

	// UInt256 parameters travel as decimal strings; the nullable base fee
	// travels as nil when absent.
	var baseFee interface{}
	if row.BaseFeePerGas != nil {
		baseFee = row.BaseFeePerGas.String()
	}

	err := r.client.Conn().Exec(ctx, query,
		row.Hash,
		row.ParentHash,
		row.UnclesHash,
		row.Author,
		row.StateRoot,
		row.TransactionsRoot,
		row.ReceiptsRoot,
		row.Number.String(),
		row.GasUsed.String(),
		row.GasLimit.String(),
		row.ExtraData,
		row.LogsBloom,
		row.Timestamp.String(),
		row.Difficulty.String(),
		row.Size.String(),
		row.MixHash,
		row.Nonce,
		baseFee,
		row.Hash, // existence guard
	)
	if err != nil {
		return fmt.Errorf("failed to save header: %w", err)
	}
	return nil
}

// HeaderByHash returns the stored header with the given hash, or (nil, nil)
// when no such row exists.
func (r *repository) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	query := HeaderByHashQuery(r.tableName)

	var row HeaderRow
	err := r.client.Conn().QueryRow(ctx, query, utils.BytesToHex(hash.Bytes())).Scan(
		&row.Hash,
		&row.ParentHash,
		&row.UnclesHash,
		&row.Author,
		&row.StateRoot,
		&row.TransactionsRoot,
		&row.ReceiptsRoot,
		&row.Number,
		&row.GasUsed,
		&row.GasLimit,
		&row.ExtraData,
		&row.LogsBloom,
		&row.Timestamp,
		&row.Difficulty,
		&row.Size,
		&row.MixHash,
		&row.Nonce,
		&row.BaseFeePerGas,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query header by hash: %w", err)
	}

	return row.Header()
}

// Head returns the stored header with the greatest block number as a Head
// projection, or (nil, nil) when the table is empty.
func (r *repository) Head(ctx context.Context) (*types.Head, error) {
	query := HeadQuery(r.tableName)

	var row HeadRow
	err := r.client.Conn().QueryRow(ctx, query).Scan(
		&row.Hash,
		&row.Number,
		&row.ParentHash,
		&row.Timestamp,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query head: %w", err)
	}

	return row.Head()
}
