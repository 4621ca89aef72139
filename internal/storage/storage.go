// Package storage defines the backend-agnostic persistence contracts for
// validated headers. Backends are substituted by supplying new
// implementations; callers and the validator never change.
package storage

import (
	"context"

	"github.com/ava-labs/libevm/common"

	"github.com/indexforge/header-indexer/pkg/types"
)

// HeaderStore persists and looks up validated headers.
type HeaderStore interface {
	// HeaderByHash returns the stored header with the given hash, or
	// (nil, nil) when no such header exists. Only backing-store faults
	// are errors.
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)

	// SaveHeader durably stores the header. The write is idempotent on
	// hash: if a row with the same hash already exists the call succeeds
	// and the existing row is left untouched.
	SaveHeader(ctx context.Context, header *types.Header) error
}

// HeadStore resolves the canonical head among all stored headers.
type HeadStore interface {
	// Head returns the stored header with the numerically greatest block
	// number as a Head projection, or (nil, nil) when the store is empty.
	Head(ctx context.Context) (*types.Head, error)
}
