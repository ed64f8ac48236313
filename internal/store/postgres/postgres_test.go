package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/trades?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "trades", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6432/trades?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "trades", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 50, clampLimit(-3))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxListLimit, clampLimit(10000))
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_trade_outcomes.sql", names[0])
}
