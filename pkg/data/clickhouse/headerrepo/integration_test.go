//go:build integration
// +build integration

package headerrepo

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ava-labs/libevm/common"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/indexforge/header-indexer/pkg/clickhouse"
	"github.com/indexforge/header-indexer/pkg/utils"
)

const (
	clickhouseImage  = "clickhouse/clickhouse-server:24.3-alpine"
	containerTimeout = 60 * time.Second
)

var testClient clickhouse.Client

// loadTestEnv loads the .env.test file from the headerrepo directory
func loadTestEnv() error {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return nil // If we can't determine the file, just use defaults
	}
	dir := filepath.Dir(currentFile)
	envPath := filepath.Join(dir, ".env.test")
	return godotenv.Load(envPath)
}

// TestMain starts a ClickHouse container and connects a client to it.
// Set CLICKHOUSE_HOSTS (directly or via .env.test) to run against an
// existing instance instead.
func TestMain(m *testing.M) {
	ctx := context.Background()

	if err := loadTestEnv(); err != nil {
		log.Printf("integration: could not load .env.test file: %v (using defaults)", err)
	}

	var container testcontainers.Container
	if os.Getenv("CLICKHOUSE_HOSTS") == "" {
		var err error
		container, err = startClickHouse(ctx)
		if err != nil {
			log.Fatalf("integration: failed to start ClickHouse container: %v", err)
		}
	}

	cfg := clickhouse.Load()
	cfg.DialTimeout = 5

	sugar, err := utils.NewSugaredLogger(true)
	if err != nil {
		log.Fatalf("integration: failed to create logger: %v", err)
	}

	chClient, err := clickhouse.New(cfg, sugar)
	if err != nil {
		log.Fatalf("integration: failed to open ClickHouse connection: %v", err)
	}
	testClient = chClient

	if err := testClient.Ping(ctx); err != nil {
		log.Fatalf("integration: failed to ping ClickHouse: %v", err)
	}

	code := m.Run()

	_ = testClient.Close()
	if container != nil {
		_ = container.Terminate(ctx)
	}

	os.Exit(code)
}

func startClickHouse(ctx context.Context) (testcontainers.Container, error) {
	req := testcontainers.ContainerRequest{
		Image:        clickhouseImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"CLICKHOUSE_DB":                        "default",
			"CLICKHOUSE_USER":                      "default",
			"CLICKHOUSE_PASSWORD":                  "",
			"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(containerTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		return nil, err
	}

	os.Setenv("CLICKHOUSE_HOSTS", host+":"+port.Port())
	return container, nil
}

func TestIntegration_SaveAndReadBack(t *testing.T) {
	ctx := context.Background()

	repo, err := New(ctx, testClient, "headers_it_roundtrip")
	require.NoError(t, err)

	header := newTestHeader()
	require.NoError(t, repo.SaveHeader(ctx, header))

	got, err := repo.HeaderByHash(ctx, header.Hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, header, got)
}

func TestIntegration_SaveHeaderIdempotent(t *testing.T) {
	ctx := context.Background()

	repo, err := New(ctx, testClient, "headers_it_idempotent")
	require.NoError(t, err)

	header := newTestHeader()
	require.NoError(t, repo.SaveHeader(ctx, header))

	// A second save with the same hash but different contents must not
	// replace the stored row.
	changed := *header
	changed.GasUsed = header.GasUsed + 1
	require.NoError(t, repo.SaveHeader(ctx, &changed))

	got, err := repo.HeaderByHash(ctx, header.Hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, header.GasUsed, got.GasUsed)

	conn := testClient.Conn()
	var count uint64
	require.NoError(t, conn.QueryRow(ctx, "SELECT count() FROM headers_it_idempotent").Scan(&count))
	assert.Equal(t, uint64(1), count)
}

func TestIntegration_HeaderByHash_NotFound(t *testing.T) {
	ctx := context.Background()

	repo, err := New(ctx, testClient, "headers_it_notfound")
	require.NoError(t, err)

	got, err := repo.HeaderByHash(ctx, common.HexToHash("0xdeadbeef"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIntegration_Head(t *testing.T) {
	ctx := context.Background()

	repo, err := New(ctx, testClient, "headers_it_head")
	require.NoError(t, err)

	head, err := repo.Head(ctx)
	require.NoError(t, err)
	assert.Nil(t, head)

	low := newTestHeader()
	high := newTestHeader()
	high.Hash = common.HexToHash("0xaa11740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3")
	high.ParentHash = low.Hash
	high.Number = low.Number + 1

	require.NoError(t, repo.SaveHeader(ctx, low))
	require.NoError(t, repo.SaveHeader(ctx, high))

	head, err = repo.Head(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, high.Number, head.Number)
	assert.Equal(t, high.Hash, head.Hash)
	assert.Equal(t, low.Hash, head.ParentHash)
}
