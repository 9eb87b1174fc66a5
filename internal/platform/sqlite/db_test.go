package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDBOptions(t *testing.T) {
	opts := DefaultDBOptions()

	assert.Equal(t, time.Hour, opts.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, opts.ConnMaxIdleTime)
	assert.Equal(t, 4, opts.MaxOpenConns)
	assert.Equal(t, 1, opts.MaxIdleConns)
	assert.Equal(t, 5*time.Second, opts.PingTimeout)
	assert.True(t, opts.WALMode)
	assert.Equal(t, 5*time.Second, opts.BusyTimeout)
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		dbPath   string
		opts     DBOptions
		expected string
	}{
		{"default options", "/tmp/test.db", DefaultDBOptions(), "/tmp/test.db?_pragma=busy_timeout(5000)"},
		{"without busy timeout", MemoryPath, DBOptions{}, MemoryPath},
		{"custom busy timeout", "test.db", DBOptions{BusyTimeout: 10 * time.Second}, "test.db?_pragma=busy_timeout(10000)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildDSN(tt.dbPath, tt.opts))
		})
	}
}

func TestNewInMemoryDB(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemoryDB(ctx)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// Схема должна сохраняться между запросами на единственном соединении
	_, err = db.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO test (id) VALUES (1)")
	assert.NoError(t, err)
}

func TestNewDB_CreateDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "test.db")

	db, err := NewDB(context.Background(), dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewDB_WALMode(t *testing.T) {
	tdb := NewTestDBFile(t)

	var mode string
	require.NoError(t, tdb.DB.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestNewDB_InvalidPath(t *testing.T) {
	// Нельзя создать директорию внутри /dev/null
	_, err := NewDB(context.Background(), "/dev/null/nonexistent/test.db")
	assert.Error(t, err)
}

func TestTestDBHelpers(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	assert.Equal(t, MemoryPath, tdb.Path)

	tdb.Exec(t, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	tdb.Exec(t, "INSERT INTO items (name) VALUES (?), (?)", "a", "b")

	assert.True(t, tdb.TableExists(t, "items"))
	assert.False(t, tdb.TableExists(t, "missing"))
	assert.Equal(t, 2, tdb.CountRows(t, "items"))
}
