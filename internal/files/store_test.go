package files

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bootstrap(t *testing.T) *Store {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s, err := New(logger.Sugar(), t.TempDir())
	require.NoError(t, err)

	return s
}

func TestSaveAndOpen(t *testing.T) {
	t.Parallel()

	s := bootstrap(t)

	stored, err := s.Save("notes.txt", bytes.NewReader([]byte("file contents")))
	require.NoError(t, err)
	require.Equal(t, ".txt", filepath.Ext(stored))

	f, err := s.Open(stored)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "file contents", string(data))
}

func TestSaveGeneratesUniqueNames(t *testing.T) {
	t.Parallel()

	s := bootstrap(t)

	first, err := s.Save("notes.txt", bytes.NewReader([]byte("one")))
	require.NoError(t, err)
	second, err := s.Save("notes.txt", bytes.NewReader([]byte("two")))
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestOpenNotExist(t *testing.T) {
	t.Parallel()

	s := bootstrap(t)

	_, err := s.Open("nope.txt")
	require.Equal(t, ErrNotExist, err)
}

func TestOpenRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	s := bootstrap(t)

	for _, name := range []string{"", "../secret", "a/b.txt", "/etc/passwd"} {
		_, err := s.Open(name)
		require.Equal(t, ErrNotExist, err)
	}
}
