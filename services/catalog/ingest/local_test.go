package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"bootmedia/pkg/progress"
)

func waitTerminal(t *testing.T, prog *progress.Store, job string) progress.Record {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := prog.Get(job); ok && rec.Terminal() {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", job)
	return progress.Record{}
}

func TestLocalCopyHappyPath(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 3<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	temp := filepath.Join(dir, "staged.iso")
	require.NoError(t, os.WriteFile(temp, payload, 0o644))
	dest := filepath.Join(dir, "store", "disk.iso")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))

	catalog := newFakeCatalog()
	prog := progress.NewStore(0)
	assetID := uuid.New()
	job := JobID(assetID)
	prog.Start(job, "queued")

	fetcher := NewLocalCopy(catalog, prog, zerolog.Nop())
	fetcher.Run(context.Background(), assetID, temp, dest)

	rec := waitTerminal(t, prog, job)
	require.Equal(t, progress.StatusCompleted, rec.Status)
	require.Equal(t, 100, rec.Progress)

	want := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(want[:]), rec.Checksum)

	upd, ok := catalog.lastUpdate(assetID)
	require.True(t, ok)
	require.NotNil(t, upd.Checksum)
	require.Equal(t, hex.EncodeToString(want[:]), *upd.Checksum)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	_, statErr := os.Stat(temp)
	require.True(t, os.IsNotExist(statErr), "staged temp file should be removed")
}

func TestLocalCopyMissingSourceLeavesNoDestination(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "disk.iso")

	catalog := newFakeCatalog()
	prog := progress.NewStore(0)
	assetID := uuid.New()
	job := JobID(assetID)
	prog.Start(job, "queued")

	fetcher := NewLocalCopy(catalog, prog, zerolog.Nop())
	fetcher.Run(context.Background(), assetID, filepath.Join(dir, "gone.iso"), dest)

	rec := waitTerminal(t, prog, job)
	require.Equal(t, progress.StatusError, rec.Status)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr), "no partial destination may remain")

	// The catalog checksum is deliberately not patched on copy failure: the
	// stale sentinel plus a dead job is the error-equivalent signal.
	_, ok := catalog.lastUpdate(assetID)
	require.False(t, ok)
}

func TestLocalCopyWriteFailureRemovesPartialDestination(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("requires /dev/full")
	}

	dir := t.TempDir()
	temp := filepath.Join(dir, "staged.iso")
	require.NoError(t, os.WriteFile(temp, make([]byte, 2<<20), 0o644))

	// The destination resolves to a device that rejects every write, so the
	// copy fails after the destination exists and bytes are in flight.
	dest := filepath.Join(dir, "disk.iso")
	require.NoError(t, os.Symlink("/dev/full", dest))

	catalog := newFakeCatalog()
	prog := progress.NewStore(0)
	assetID := uuid.New()
	job := JobID(assetID)
	prog.Start(job, "queued")

	fetcher := NewLocalCopy(catalog, prog, zerolog.Nop())
	fetcher.Run(context.Background(), assetID, temp, dest)

	rec := waitTerminal(t, prog, job)
	require.Equal(t, progress.StatusError, rec.Status)

	_, statErr := os.Lstat(dest)
	require.True(t, os.IsNotExist(statErr), "failed copy must remove its destination")

	_, ok := catalog.lastUpdate(assetID)
	require.False(t, ok, "copy failure must not patch the catalog checksum")
}

func TestLocalCopyCatalogUpdateFailure(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, "staged.iso")
	require.NoError(t, os.WriteFile(temp, []byte("bytes"), 0o644))
	dest := filepath.Join(dir, "disk.iso")

	catalog := newFakeCatalog()
	catalog.updateErr = context.DeadlineExceeded
	prog := progress.NewStore(0)
	assetID := uuid.New()
	job := JobID(assetID)
	prog.Start(job, "queued")

	fetcher := NewLocalCopy(catalog, prog, zerolog.Nop())
	fetcher.Run(context.Background(), assetID, temp, dest)

	rec := waitTerminal(t, prog, job)
	require.Equal(t, progress.StatusError, rec.Status)
}
