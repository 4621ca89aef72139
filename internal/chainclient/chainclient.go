// Package chainclient abstracts the upstream chain node the fetcher reads
// raw blocks from.
package chainclient

import (
	"context"
	"errors"

	"github.com/indexforge/header-indexer/pkg/types"
)

// ErrBlockNotFound is returned when the node has no block at the requested
// height.
var ErrBlockNotFound = errors.New("block not found")

type ChainClient interface {
	// BlockByNumber fetches the raw block at the given height.
	BlockByNumber(ctx context.Context, number uint64) (*types.RawBlock, error)
	// LatestNumber returns the height of the node's current tip.
	LatestNumber(ctx context.Context) (uint64, error)
}
