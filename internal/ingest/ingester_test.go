package ingest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/common/hexutil"
	ethtypes "github.com/ava-labs/libevm/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/indexforge/header-indexer/internal/chainclient"
	"github.com/indexforge/header-indexer/internal/storage/inmemory"
	"github.com/indexforge/header-indexer/pkg/types"
)

// fakeChain serves sealed blocks up to its tip, with optional overrides per
// height.
type fakeChain struct {
	mu        sync.Mutex
	tip       uint64
	tipErr    error
	overrides map[uint64]func() (*types.RawBlock, error)
}

func (c *fakeChain) LatestNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tipErr != nil {
		return 0, c.tipErr
	}
	return c.tip, nil
}

func (c *fakeChain) BlockByNumber(_ context.Context, number uint64) (*types.RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if override, ok := c.overrides[number]; ok {
		return override()
	}
	if number > c.tip {
		return nil, chainclient.ErrBlockNotFound
	}
	return sealedBlock(number), nil
}

func sealedBlock(number uint64) *types.RawBlock {
	hash := common.BytesToHash([]byte{byte(number), 0xaa})
	author := common.HexToAddress("0x05a56e2d52c817161883f50c441c3228cfe54d9f")
	mixHash := common.Hash{}
	nonce := ethtypes.BlockNonce{}
	var bloom ethtypes.Bloom
	n := hexutil.Big(*new(big.Int).SetUint64(number))

	return &types.RawBlock{
		Hash:      &hash,
		Author:    &author,
		Number:    &n,
		LogsBloom: &bloom,
		Size:      newBig(500),
		MixHash:   &mixHash,
		Nonce:     &nonce,
		GasUsed:   newBig(21000),
		GasLimit:  newBig(30000000),
		Timestamp: newBig(1628166822),
	}
}

func newBig(v uint64) *hexutil.Big {
	b := hexutil.Big(*new(big.Int).SetUint64(v))
	return &b
}

// recordingPublisher collects published heights.
type recordingPublisher struct {
	mu      sync.Mutex
	heights []uint64
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, raw *types.RawBlock) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.heights = append(p.heights, raw.Number.ToInt().Uint64())
	return nil
}

func (p *recordingPublisher) published() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.heights...)
}

func testConfig() Config {
	return Config{
		StartHeight:  1,
		PollInterval: 5 * time.Millisecond,
		MaxFailures:  3,
	}
}

func TestNew_Validation(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	chain := &fakeChain{}
	pub := &recordingPublisher{}

	tests := []struct {
		name    string
		build   func() (*Ingester, error)
		wantErr error
	}{
		{
			name: "nil logger",
			build: func() (*Ingester, error) {
				return New(nil, chain, pub, nil, testConfig())
			},
			wantErr: ErrInvalidLogger,
		},
		{
			name: "nil chain client",
			build: func() (*Ingester, error) {
				return New(log, nil, pub, nil, testConfig())
			},
			wantErr: ErrInvalidChainClient,
		},
		{
			name: "nil publisher",
			build: func() (*Ingester, error) {
				return New(log, chain, nil, nil, testConfig())
			},
			wantErr: ErrInvalidPublisher,
		},
		{
			name: "zero poll interval",
			build: func() (*Ingester, error) {
				cfg := testConfig()
				cfg.PollInterval = 0
				return New(log, chain, pub, nil, cfg)
			},
			wantErr: ErrInvalidInterval,
		},
		{
			name: "end below start",
			build: func() (*Ingester, error) {
				cfg := testConfig()
				cfg.StartHeight = 10
				cfg.EndHeight = 5
				return New(log, chain, pub, nil, cfg)
			},
			wantErr: ErrInvalidHeightRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, err := tt.build()
			assert.Nil(t, ing)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRun_Backfill(t *testing.T) {
	chain := &fakeChain{tip: 10}
	pub := &recordingPublisher{}
	cfg := testConfig()
	cfg.EndHeight = 5

	ing, err := New(zaptest.NewLogger(t).Sugar(), chain, pub, nil, cfg)
	require.NoError(t, err)

	require.NoError(t, ing.Run(t.Context()))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, pub.published())
}

func TestRun_ResumesFromPersistedHead(t *testing.T) {
	store := inmemory.New()
	require.NoError(t, store.SaveHeader(t.Context(), headerAt(3)))

	chain := &fakeChain{tip: 6}
	pub := &recordingPublisher{}
	cfg := testConfig()
	cfg.EndHeight = 6

	ing, err := New(zaptest.NewLogger(t).Sugar(), chain, pub, store, cfg)
	require.NoError(t, err)

	require.NoError(t, ing.Run(t.Context()))
	assert.Equal(t, []uint64{4, 5, 6}, pub.published())
}

func TestRun_StartHeightAheadOfHead(t *testing.T) {
	store := inmemory.New()
	require.NoError(t, store.SaveHeader(t.Context(), headerAt(3)))

	chain := &fakeChain{tip: 12}
	pub := &recordingPublisher{}
	cfg := testConfig()
	cfg.StartHeight = 10
	cfg.EndHeight = 12

	ing, err := New(zaptest.NewLogger(t).Sugar(), chain, pub, store, cfg)
	require.NoError(t, err)

	require.NoError(t, ing.Run(t.Context()))
	assert.Equal(t, []uint64{10, 11, 12}, pub.published())
}

func TestRun_RetriesPendingBlock(t *testing.T) {
	var calls int
	chain := &fakeChain{
		tip: 2,
		overrides: map[uint64]func() (*types.RawBlock, error){
			2: func() (*types.RawBlock, error) {
				calls++
				if calls == 1 {
					// First attempt sees the block before it is sealed.
					raw := sealedBlock(2)
					raw.Hash = nil
					return raw, nil
				}
				return sealedBlock(2), nil
			},
		},
	}
	pub := &recordingPublisher{}
	cfg := testConfig()
	cfg.EndHeight = 2

	ing, err := New(zaptest.NewLogger(t).Sugar(), chain, pub, nil, cfg)
	require.NoError(t, err)

	require.NoError(t, ing.Run(t.Context()))
	assert.Equal(t, []uint64{1, 2}, pub.published())
	assert.Equal(t, 2, calls)
}

func TestRun_AbortsAfterConsecutiveFailures(t *testing.T) {
	chain := &fakeChain{tipErr: errors.New("connection refused")}
	pub := &recordingPublisher{}
	cfg := testConfig()
	cfg.MaxFailures = 2

	ing, err := New(zaptest.NewLogger(t).Sugar(), chain, pub, nil, cfg)
	require.NoError(t, err)

	err = ing.Run(t.Context())
	assert.ErrorContains(t, err, "aborting after 3 consecutive failures")
	assert.Empty(t, pub.published())
}

func TestRun_PublishErrorIsFatal(t *testing.T) {
	chain := &fakeChain{tip: 5}
	pub := &recordingPublisher{err: errors.New("broker down")}
	cfg := testConfig()
	cfg.MaxFailures = 0

	ing, err := New(zaptest.NewLogger(t).Sugar(), chain, pub, nil, cfg)
	require.NoError(t, err)

	err = ing.Run(t.Context())
	assert.ErrorContains(t, err, "publish block 1")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	chain := &fakeChain{tip: 0}
	pub := &recordingPublisher{}

	ing, err := New(zaptest.NewLogger(t).Sugar(), chain, pub, nil, testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- ing.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ingester did not stop after context cancel")
	}
}

func headerAt(number uint64) *types.Header {
	header, err := types.HeaderFromRaw(sealedBlock(number))
	if err != nil {
		panic(err)
	}
	return header
}
