package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/database"
)

func TestChecksumFileIsStableAndDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	sum1, err := checksumFile(path)
	require.NoError(t, err)
	sum2, err := checksumFile(path)
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)
	assert.Len(t, sum1, 64) // hex-encoded sha256
}

func TestChecksumFileMissingFileErrors(t *testing.T) {
	_, err := checksumFile(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestServiceNameAndJobInterface(t *testing.T) {
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "cal.db"), Name: "backup-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc, err := New(context.Background(), Config{Bucket: "test-bucket", Region: "us-east-1"}, db, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "calendar_backup", svc.Name())
}
