package checksum

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileMatchesReferenceDigest(t *testing.T) {
	data := make([]byte, 3*ChunkSize+517)
	_, err := rand.Read(data)
	require.NoError(t, err)

	want := sha256.Sum256(data)
	got, err := File(writeTempFile(t, data))
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestFileIdempotent(t *testing.T) {
	path := writeTempFile(t, []byte("boot media bytes"))

	first, err := File(path)
	require.NoError(t, err)
	second, err := File(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFileEmpty(t *testing.T) {
	got, err := File(writeTempFile(t, nil))
	require.NoError(t, err)

	want := sha256.Sum256(nil)
	require.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestFileWithProgressMonotonic(t *testing.T) {
	data := make([]byte, 2*ChunkSize+99)
	path := writeTempFile(t, data)

	var calls []int64
	_, err := FileWithProgress(path, func(hashed, total int64) {
		require.Equal(t, int64(len(data)), total)
		calls = append(calls, hashed)
	})
	require.NoError(t, err)
	require.NotEmpty(t, calls)

	for i := 1; i < len(calls); i++ {
		require.GreaterOrEqual(t, calls[i], calls[i-1])
	}
	require.Equal(t, int64(len(data)), calls[len(calls)-1])
}

func TestReader(t *testing.T) {
	data := []byte("stream me")
	want := sha256.Sum256(data)

	got, err := Reader(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(want[:]), got)
}
