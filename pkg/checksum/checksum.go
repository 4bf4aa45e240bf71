// Package checksum fingerprints on-disk artifacts with streaming SHA-256.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ChunkSize is the read granularity used when hashing files.
const ChunkSize = 1 << 20

// ProgressFunc receives the running byte count after every chunk. total is the
// file size at the time hashing started, or 0 when unknown.
type ProgressFunc func(hashed, total int64)

// File computes the lowercase hex SHA-256 digest of the named file, reading it
// exactly once in ChunkSize chunks so memory use stays flat regardless of size.
func File(path string) (string, error) {
	return FileWithProgress(path, nil)
}

// FileWithProgress behaves like File and additionally reports per-chunk
// progress to fn when fn is non-nil.
func FileWithProgress(path string, fn ProgressFunc) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var total int64
	if info, err := f.Stat(); err == nil {
		total = info.Size()
	}

	h := sha256.New()
	buf := make([]byte, ChunkSize)
	var hashed int64

	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			hashed += int64(n)
			if fn != nil {
				fn(hashed, total)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Reader hashes everything remaining in r and returns the lowercase hex digest.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
