package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsNative(t *testing.T) {
	cfg := defaultClientConfig()
	for _, o := range []ClientOption{
		WithHost("ch.local"),
		WithDatabase("finalloc"),
		WithCredentials("", "secret"),
		WithTimeouts(0, time.Minute),
		WithMaxExecutionTime(90 * time.Second),
	} {
		o(&cfg)
	}

	opts := options(cfg)
	assert.Equal(t, []string{"ch.local:9000"}, opts.Addr)
	assert.Equal(t, "default", opts.Auth.Username)
	assert.Equal(t, "secret", opts.Auth.Password)
	assert.Equal(t, clickhouse.Native, opts.Protocol)
	require.NotNil(t, opts.Compression)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
	assert.Equal(t, time.Minute, opts.ReadTimeout)
	assert.Equal(t, 90, opts.Settings["max_execution_time"])
}

func TestOptionsHTTPSkipsCompression(t *testing.T) {
	cfg := defaultClientConfig()
	WithHost("ch.local")(&cfg)
	WithPort(8123)(&cfg)
	WithHTTP(true)(&cfg)

	opts := options(cfg)
	assert.Equal(t, clickhouse.HTTP, opts.Protocol)
	assert.Nil(t, opts.Compression)
	assert.Equal(t, []string{"ch.local:8123"}, opts.Addr)
	assert.NotContains(t, opts.Settings, "max_execution_time")
}

func TestNewClientRequiresHostAndDatabase(t *testing.T) {
	_, err := NewClient(WithDatabase("finalloc"))
	assert.Error(t, err)
	_, err = NewClient(WithHost("ch.local"))
	assert.Error(t, err)
}

func TestInitSchemaStopsAtFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	c := NewClientFromDB(db)
	defer c.Close()

	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("readonly"))

	err = c.InitSchema(context.Background(), []string{
		"CREATE DATABASE IF NOT EXISTS finalloc",
		"CREATE TABLE IF NOT EXISTS finalloc.bars (x UInt8) ENGINE = Memory",
		"SELECT 1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
