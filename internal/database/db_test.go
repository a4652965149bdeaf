package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := New(Config{Path: filepath.Join(dir, "test.db"), Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewCreatesDatabaseFile(t *testing.T) {
	db := openTest(t)
	assert.FileExists(t, db.Path())
}

func TestExecAppliesSchemaIdempotently(t *testing.T) {
	db := openTest(t)
	stmt := `CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY, name TEXT)`
	require.NoError(t, db.Exec(context.Background(), stmt))
	require.NoError(t, db.Exec(context.Background(), stmt)) // safe to reapply

	_, err := db.Conn().Exec(`INSERT INTO widgets (name) VALUES (?)`, "gadget")
	require.NoError(t, err)

	var name string
	require.NoError(t, db.Conn().QueryRow(`SELECT name FROM widgets WHERE id = 1`).Scan(&name))
	assert.Equal(t, "gadget", name)
}

func TestWALCheckpointSucceeds(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.Exec(context.Background(), `CREATE TABLE IF NOT EXISTS t (x INTEGER)`))
	assert.NoError(t, db.WALCheckpoint())
}

func TestSizeBytesReflectsFileOnDisk(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.Exec(context.Background(), `CREATE TABLE IF NOT EXISTS t (x INTEGER)`))
	assert.GreaterOrEqual(t, db.SizeBytes(), int64(0))
}

func TestSizeBytesZeroWhenFileMissing(t *testing.T) {
	db := &DB{path: "/nonexistent/path/to/nowhere.db"}
	assert.Equal(t, int64(0), db.SizeBytes())
}
