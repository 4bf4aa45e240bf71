// Package unpack strips known compression envelopes from boot-media artifacts.
//
// The envelope is detected from the file name alone; the stage is agnostic to
// the bytes' interpretation beyond the compression framing.
package unpack

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Kind identifies the compression envelope of an artifact, if any.
type Kind string

const (
	KindNone  Kind = "none"
	KindGzip  Kind = "gzip"
	KindBzip2 Kind = "bzip2"
	KindZstd  Kind = "zstd"
)

// copy buffer size; keeps memory use independent of artifact size.
const bufSize = 1 << 20

// ErrMalformed reports a stream that is not validly framed for its declared
// envelope. Callers treat this as a terminal ingestion failure, not retryable.
var ErrMalformed = errors.New("unpack: malformed compressed stream")

// ParseKind converts a stored kind string back into a Kind, defaulting to none.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindGzip, KindBzip2, KindZstd:
		return Kind(s)
	default:
		return KindNone
	}
}

// Detect returns the envelope kind implied by name's suffix.
func Detect(name string) Kind {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return KindGzip
	case strings.HasSuffix(name, ".bz2"):
		return KindBzip2
	case strings.HasSuffix(name, ".zst"):
		return KindZstd
	default:
		return KindNone
	}
}

// StripSuffix removes the envelope suffix from name. Names without a
// recognized suffix are returned unchanged.
func StripSuffix(name string) string {
	for _, suffix := range []string{".gz", ".bz2", ".zst"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// File decompresses src into dst according to kind. On any failure the
// partially written dst is removed. KindNone is rejected; the caller decides
// whether a plain copy is wanted instead.
func File(src, dst string, kind Kind) (err error) {
	if kind == KindNone {
		return errors.New("unpack: no envelope to strip")
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(dst)
		}
	}()

	if err = stream(out, in, kind); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	return nil
}

func stream(dst io.Writer, src io.Reader, kind Kind) error {
	var (
		r   io.Reader
		err error
	)

	switch kind {
	case KindGzip:
		gz, gzErr := gzip.NewReader(src)
		if gzErr != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, gzErr)
		}
		defer gz.Close()
		r = gz
	case KindBzip2:
		r = bzip2.NewReader(src)
	case KindZstd:
		zr, zErr := zstd.NewReader(src)
		if zErr != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, zErr)
		}
		defer zr.Close()
		r = zr
	default:
		return fmt.Errorf("unpack: unsupported kind %q", kind)
	}

	buf := make([]byte, bufSize)
	if _, err = io.CopyBuffer(dst, r, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
