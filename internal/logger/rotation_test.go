package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("create rotating writer", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		rw, err := NewRotatingWriter(logFile, 10, 3, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "subdir", "test.log")

		rw, err := NewRotatingWriter(logFile, 10, 3, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})

	t.Run("picks up existing size", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")
		require.NoError(t, os.WriteFile(logFile, []byte("0123456789"), 0644))

		rw, err := NewRotatingWriter(logFile, 10, 3, false)
		require.NoError(t, err)
		defer rw.Close()
		assert.Equal(t, int64(10), rw.currentSize)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 3, false)
	require.NoError(t, err)
	defer rw.Close()

	data := []byte("test log message\n")
	n, err := rw.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "test log message")
}

func TestRotatingWriterRotation(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, false)
	require.NoError(t, err)
	defer rw.Close()
	rw.maxSize = 100

	first := []byte(strings.Repeat("a", 80) + "\n")
	second := []byte(strings.Repeat("b", 80) + "\n")
	_, err = rw.Write(first)
	require.NoError(t, err)
	_, err = rw.Write(second)
	require.NoError(t, err)

	backups := rw.backups()
	require.Len(t, backups, 1)

	rotated, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, string(first), string(rotated))

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, string(second), string(current))
}

func TestRotatingWriterCompression(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 0, true)
	require.NoError(t, err)
	defer rw.Close()

	_, err = rw.Write([]byte("compress me\n"))
	require.NoError(t, err)
	require.NoError(t, rw.Rotate())

	backups := rw.backups()
	require.Len(t, backups, 1)
	require.True(t, strings.HasSuffix(backups[0], ".gz"))

	f, err := os.Open(backups[0])
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "compress me\n", string(content))
}

func TestRotatingWriterMaxBackups(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	// older backups left by a previous run
	for _, stamp := range []string{"20200101-120000.000", "20200102-120000.000", "20200103-120000.000"} {
		require.NoError(t, os.WriteFile(logFile+"."+stamp, []byte("old"), 0644))
	}

	rw, err := NewRotatingWriter(logFile, 1, 2, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = rw.Write([]byte("current\n"))
	require.NoError(t, err)
	require.NoError(t, rw.Rotate())

	backups := rw.backups()
	require.Len(t, backups, 2)
	assert.Equal(t, logFile+".20200103-120000.000", backups[0])
	_, err = os.Stat(logFile + ".20200101-120000.000")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriterClose(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	rw, err := NewRotatingWriter(logFile, 10, 3, false)
	require.NoError(t, err)

	assert.NoError(t, rw.Close())
	assert.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
