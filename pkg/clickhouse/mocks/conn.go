package mocks

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/mock"
)

// Conn is a mock implementation of driver.Conn for testing
type Conn struct {
	mock.Mock
}

func (m *Conn) Contributors() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *Conn) ServerVersion() (*driver.ServerVersion, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*driver.ServerVersion), args.Error(1)
}

func (m *Conn) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	callArgs := []interface{}{ctx, query}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	return argsResult.Error(0)
}

func (m *Conn) Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	callArgs := []interface{}{ctx, query}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	if argsResult.Get(0) == nil {
		return nil, argsResult.Error(1)
	}
	return argsResult.Get(0).(driver.Rows), argsResult.Error(1)
}

func (m *Conn) QueryRow(ctx context.Context, query string, args ...interface{}) driver.Row {
	callArgs := []interface{}{ctx, query}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	if argsResult.Get(0) == nil {
		return nil
	}
	return argsResult.Get(0).(driver.Row)
}

func (m *Conn) Exec(ctx context.Context, query string, args ...interface{}) error {
	callArgs := []interface{}{ctx, query}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	return argsResult.Error(0)
}

func (m *Conn) AsyncInsert(ctx context.Context, query string, wait bool, args ...interface{}) error {
	callArgs := []interface{}{ctx, query, wait}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	return argsResult.Error(0)
}

func (m *Conn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	callArgs := []interface{}{ctx, query}
	for _, opt := range opts {
		callArgs = append(callArgs, opt)
	}
	argsResult := m.Called(callArgs...)
	if argsResult.Get(0) == nil {
		return nil, argsResult.Error(1)
	}
	return argsResult.Get(0).(driver.Batch), argsResult.Error(1)
}

func (m *Conn) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Conn) Stats() driver.Stats {
	args := m.Called()
	if args.Get(0) == nil {
		return driver.Stats{}
	}
	return args.Get(0).(driver.Stats)
}

func (m *Conn) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Row is a mock implementation of driver.Row. Scan copies the configured
// values into the caller's destinations via the fill function, so repository
// tests can exercise the read path without a live connection.
type Row struct {
	ScanErr error
	Fill    func(dest ...interface{})
}

func (r *Row) Err() error {
	return nil
}

func (r *Row) Scan(dest ...interface{}) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}
	if r.Fill != nil {
		r.Fill(dest...)
	}
	return nil
}

func (r *Row) ScanStruct(dest interface{}) error {
	return r.Scan(dest)
}
