package commands

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPid(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		_, err := readPid(filepath.Join(dir, "missing.pid"))
		assert.ErrorIs(t, err, errNoPidFile)
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "bad.pid")
		require.NoError(t, os.WriteFile(path, []byte("notanumber"), 0o644))
		_, err := readPid(path)
		assert.Error(t, err)
		_, running := runningPid(path)
		assert.False(t, running)
	})
}

func TestWritePid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "dittomft.pid")
	remove, err := writePid(path)
	require.NoError(t, err)

	pid, err := readPid(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	running, ok := runningPid(path)
	assert.True(t, ok)
	assert.Equal(t, os.Getpid(), running)

	remove()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "PID file removed, got "+strconv.Quote(path))
}
