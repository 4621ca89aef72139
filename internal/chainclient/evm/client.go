// Package evm implements chainclient.ChainClient over the standard Ethereum
// JSON-RPC surface, which every EVM chain node exposes.
package evm

import (
	"context"
	"fmt"
	"time"

	"github.com/ava-labs/libevm/common/hexutil"
	"github.com/ava-labs/libevm/rpc"

	"github.com/indexforge/header-indexer/internal/chainclient"
	"github.com/indexforge/header-indexer/internal/metrics"
	"github.com/indexforge/header-indexer/pkg/types"
)

// Client wraps the underlying JSON-RPC client.
type Client struct {
	rpc     *rpc.Client
	metrics *metrics.Metrics // nil if metrics disabled
}

var _ chainclient.ChainClient = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables metrics collection for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a new EVM chain client.
func New(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}

	client := &Client{rpc: c}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// BlockByNumber fetches the raw block at the given height without
// transaction bodies. The result keeps whatever shape the node returned;
// validation happens downstream.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.RawBlock, error) {
	const method = "eth_getBlockByNumber"
	start := time.Now()

	if c.metrics != nil {
		c.metrics.IncRPCInFlight()
		defer c.metrics.DecRPCInFlight()
	}

	var raw *types.RawBlock
	err := c.rpc.CallContext(ctx, &raw, method, hexutil.EncodeUint64(number), false)

	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	}

	if err != nil {
		return nil, fmt.Errorf("get block by number %d: %w", number, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("get block by number %d: %w", number, chainclient.ErrBlockNotFound)
	}
	return raw, nil
}

// LatestNumber returns the node's current tip height.
func (c *Client) LatestNumber(ctx context.Context) (uint64, error) {
	const method = "eth_blockNumber"
	start := time.Now()

	if c.metrics != nil {
		c.metrics.IncRPCInFlight()
		defer c.metrics.DecRPCInFlight()
	}

	var number hexutil.Uint64
	err := c.rpc.CallContext(ctx, &number, method)

	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	}

	if err != nil {
		return 0, fmt.Errorf("get latest block number: %w", err)
	}
	return uint64(number), nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.rpc.Close()
}
