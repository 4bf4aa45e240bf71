package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"bootmedia/pkg/unpack"
)

func TestRemoteDownloadPlainISO(t *testing.T) {
	payload := bytes.Repeat([]byte("installer bits "), 1<<14)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "ubuntu.iso")

	catalog := newFakeCatalog()
	assetID := uuid.New()

	fetcher := NewRemoteDownload(catalog, srv.Client(), zerolog.Nop())
	require.NoError(t, fetcher.Run(context.Background(), assetID, srv.URL+"/ubuntu.iso", dest, unpack.KindNone))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	upd, ok := catalog.lastUpdate(assetID)
	require.True(t, ok)
	want := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(want[:]), *upd.Checksum)
	require.Equal(t, int64(len(payload)), *upd.Size)
	require.True(t, *upd.Available)

	// No stray temp files alongside the artifact.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRemoteDownloadGzipEnvelope(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 1<<18)
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	_, err := gz.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(compressed.Bytes())
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "x.iso")

	catalog := newFakeCatalog()
	assetID := uuid.New()

	fetcher := NewRemoteDownload(catalog, srv.Client(), zerolog.Nop())
	require.NoError(t, fetcher.Run(context.Background(), assetID, srv.URL+"/x.iso.gz", dest, unpack.KindGzip))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got, "stored artifact must be the decompressed content")

	upd, ok := catalog.lastUpdate(assetID)
	require.True(t, ok)
	want := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(want[:]), *upd.Checksum, "checksum covers decompressed bytes, not the envelope")
}

func TestRemoteDownloadCorruptEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not gzip"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "x.iso")

	catalog := newFakeCatalog()
	assetID := uuid.New()

	fetcher := NewRemoteDownload(catalog, srv.Client(), zerolog.Nop())
	require.Error(t, fetcher.Run(context.Background(), assetID, srv.URL+"/x.iso.gz", dest, unpack.KindGzip))

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))

	upd, ok := catalog.lastUpdate(assetID)
	require.True(t, ok)
	require.Equal(t, SentinelError, *upd.Checksum)
	require.False(t, *upd.Available)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "failed ingest must leave no partial artifacts")
}

func TestRemoteDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "x.iso")

	catalog := newFakeCatalog()
	assetID := uuid.New()

	fetcher := NewRemoteDownload(catalog, srv.Client(), zerolog.Nop())
	require.Error(t, fetcher.Run(context.Background(), assetID, srv.URL+"/x.iso", dest, unpack.KindNone))

	upd, ok := catalog.lastUpdate(assetID)
	require.True(t, ok)
	require.Equal(t, SentinelError, *upd.Checksum)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRemoteDownloadPreservesExistingDestination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "x.iso")
	require.NoError(t, os.WriteFile(dest, []byte("pre-existing artifact"), 0o644))

	catalog := newFakeCatalog()
	assetID := uuid.New()

	fetcher := NewRemoteDownload(catalog, srv.Client(), zerolog.Nop())
	require.Error(t, fetcher.Run(context.Background(), assetID, srv.URL+"/x.iso", dest, unpack.KindNone))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, []byte("pre-existing artifact"), got, "a file the fetcher did not create must survive")
}
