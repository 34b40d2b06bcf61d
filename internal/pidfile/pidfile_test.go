package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteThenRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pomelo.pid")

	require.NoError(t, Write(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	require.NoError(t, Remove(path))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestRemoveMissingFileIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.pid")
	require.NoError(t, Remove(path))
}

func TestEmptyPathIsNoop(t *testing.T) {
	require.NoError(t, Write(""))
	require.NoError(t, Remove(""))
}
