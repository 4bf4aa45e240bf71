package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"bootmedia/pkg/progress"
)

func newTestCoordinator(t *testing.T, catalog Catalog, maxSize int64) (*Coordinator, *progress.Store, string) {
	t.Helper()
	storage := filepath.Join(t.TempDir(), "images")
	prog := progress.NewStore(0)

	coord, err := NewCoordinator(Config{
		StorageDir: storage,
		MaxSize:    maxSize,
		FetcherBin: "/nonexistent/fetchd",
	}, catalog, prog, zerolog.Nop())
	require.NoError(t, err)
	return coord, prog, storage
}

func stageUpload(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestIngestUploadHappyPath(t *testing.T) {
	catalog := newFakeCatalog()
	coord, prog, storage := newTestCoordinator(t, catalog, 0)

	acc, err := coord.IngestUpload(context.Background(), UploadRequest{
		TempPath: stageUpload(t, 10<<20),
		Filename: "disk.iso",
		OSType:   "ubuntu",
	})
	require.NoError(t, err)
	require.Equal(t, "disk.iso", acc.Filename)
	require.Equal(t, JobID(acc.AssetID), acc.JobID)

	// Reservation is immediately visible as available with the hash pending.
	require.Len(t, catalog.reservations, 1)
	res := catalog.reservations[0]
	require.True(t, res.Available)
	require.Equal(t, SentinelProcessing, res.Checksum)
	require.Equal(t, int64(10<<20), res.Size)
	require.Equal(t, "disk", res.Name)
	require.Equal(t, "amd64", res.Architecture)
	require.Equal(t, filepath.Join(storage, "disk.iso"), res.StoragePath)

	rec := waitTerminal(t, prog, acc.JobID)
	require.Equal(t, progress.StatusCompleted, rec.Status)
	require.Equal(t, 100, rec.Progress)
	require.NotEmpty(t, rec.Checksum)

	upd, ok := catalog.lastUpdate(acc.AssetID)
	require.True(t, ok)
	require.Equal(t, rec.Checksum, *upd.Checksum)
}

func TestIngestUploadRejectsNonISO(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, newFakeCatalog(), 0)

	_, err := coord.IngestUpload(context.Background(), UploadRequest{
		TempPath: stageUpload(t, 64),
		Filename: "disk.img",
		OSType:   "ubuntu",
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestIngestUploadTooLargeRemovesTemp(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, newFakeCatalog(), 1024)

	temp := stageUpload(t, 4096)
	_, err := coord.IngestUpload(context.Background(), UploadRequest{
		TempPath: temp,
		Filename: "disk.iso",
		OSType:   "ubuntu",
	})
	require.ErrorIs(t, err, ErrTooLarge)

	_, statErr := os.Stat(temp)
	require.True(t, os.IsNotExist(statErr), "oversized staged upload must be deleted")
}

func TestIngestUploadConflict(t *testing.T) {
	catalog := newFakeCatalog()
	coord, prog, _ := newTestCoordinator(t, catalog, 0)

	first, err := coord.IngestUpload(context.Background(), UploadRequest{
		TempPath: stageUpload(t, 64),
		Filename: "disk.iso",
		OSType:   "ubuntu",
	})
	require.NoError(t, err)
	waitTerminal(t, prog, first.JobID)

	_, err = coord.IngestUpload(context.Background(), UploadRequest{
		TempPath: stageUpload(t, 64),
		Filename: "disk.iso",
		OSType:   "ubuntu",
	})
	require.ErrorIs(t, err, ErrConflict)
	require.Len(t, catalog.reservations, 1, "conflicting reservation must not leave a row")
}

func TestIngestURLValidation(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, newFakeCatalog(), 0)

	tests := []struct {
		name string
		req  DownloadRequest
	}{
		{"missing name", DownloadRequest{URL: "https://example.com/x.iso", OSType: "ubuntu"}},
		{"missing os type", DownloadRequest{URL: "https://example.com/x.iso", Name: "x"}},
		{"bad scheme", DownloadRequest{URL: "ftp://example.com/x.iso", Name: "x", OSType: "ubuntu"}},
		{"no host", DownloadRequest{URL: "https:///x.iso", Name: "x", OSType: "ubuntu"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.IngestURL(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestIngestURLReservesUnavailable(t *testing.T) {
	catalog := newFakeCatalog()
	coord, _, storage := newTestCoordinator(t, catalog, 0)

	// The fetcher binary does not exist, so dispatch fails after reservation;
	// the reservation itself must still carry the download sentinels.
	_, err := coord.IngestURL(context.Background(), DownloadRequest{
		URL:    "https://mirror.example.com/x.iso.bz2",
		Name:   "ubuntu",
		OSType: "ubuntu",
	})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrInvalidRequest))

	require.Len(t, catalog.reservations, 1)
	res := catalog.reservations[0]
	require.Equal(t, "x.iso", res.Filename, "envelope suffix must be stripped from the stored name")
	require.False(t, res.Available)
	require.Equal(t, SentinelDownloading, res.Checksum)
	require.Equal(t, int64(0), res.Size)
	require.Equal(t, filepath.Join(storage, "x.iso"), res.StoragePath)

	// Dispatch failure is recorded like any asynchronous transfer failure.
	upd, ok := catalog.lastUpdate(catalog.lastID())
	require.True(t, ok)
	require.Equal(t, SentinelError, *upd.Checksum)
}

func TestIngestURLDuplicateFilename(t *testing.T) {
	catalog := newFakeCatalog()
	coord, _, _ := newTestCoordinator(t, catalog, 0)

	_, _ = coord.IngestURL(context.Background(), DownloadRequest{
		URL:    "https://mirror.example.com/x.iso",
		Name:   "x",
		OSType: "ubuntu",
	})

	_, err := coord.IngestURL(context.Background(), DownloadRequest{
		URL:    "https://other.example.com/x.iso",
		Name:   "x again",
		OSType: "ubuntu",
	})
	require.ErrorIs(t, err, ErrConflict)
}
