package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRotatingFile_RotatesAndKeepsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	r := NewRotatingFile(path, 10, 2)
	defer r.Close()

	for _, line := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n", "dddddddd\n"} {
		_, err := r.Write([]byte(line))
		require.NoError(t, err)
	}

	assert.Equal(t, "dddddddd\n", readFile(t, path))
	assert.Equal(t, "cccccccc\n", readFile(t, path+".1"))
	assert.Equal(t, "bbbbbbbb\n", readFile(t, path+".2"))
	_, err := os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "only MaxBackups files are kept")
}

func TestRotatingFile_AppendsBelowLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	r := NewRotatingFile(path, 100, 1)

	_, err := r.Write([]byte("one\n"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// Reopening continues the same file.
	_, err = r.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	assert.Equal(t, "one\ntwo\n", readFile(t, path))
}

func TestRotatingFile_NoBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	r := NewRotatingFile(path, 5, 0)
	defer r.Close()

	_, err := r.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = r.Write([]byte("second\n"))
	require.NoError(t, err)

	assert.Equal(t, "second\n", readFile(t, path))
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestSetup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	closer, err := Setup(dir)
	require.NoError(t, err)
	t.Cleanup(func() {
		closer.Close()
		resetStdLogger()
	})

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}
