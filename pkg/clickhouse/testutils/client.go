// Package testutils provides a Client constructor that accepts an arbitrary
// driver.Conn, so unit tests can pair repositories with a mock connection.
package testutils

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/indexforge/header-indexer/pkg/clickhouse"
)

var _ clickhouse.Client = (*testClient)(nil)

// NewTestClient creates a client with a provided connection for testing
// purposes, without requiring a real ClickHouse instance.
func NewTestClient(conn driver.Conn) clickhouse.Client {
	return &testClient{conn: conn}
}

type testClient struct {
	conn driver.Conn
}

func (c *testClient) Conn() driver.Conn {
	return c.conn
}

func (c *testClient) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *testClient) Close() error {
	return c.conn.Close()
}
