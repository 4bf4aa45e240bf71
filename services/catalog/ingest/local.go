package ingest

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bootmedia/pkg/checksum"
	"bootmedia/pkg/progress"
)

const copyChunkSize = 1 << 20

// LocalCopy moves an already-uploaded temporary file into final asset storage,
// reporting progress on the 0-50 band for the copy and 50-100 for the
// checksum pass.
type LocalCopy struct {
	catalog  Updater
	progress *progress.Store
	log      zerolog.Logger
}

// NewLocalCopy builds the in-process fetcher used by the upload path.
func NewLocalCopy(catalog Updater, prog *progress.Store, log zerolog.Logger) *LocalCopy {
	return &LocalCopy{catalog: catalog, progress: prog, log: log}
}

// Run executes the copy-then-hash pipeline for one job. It never returns an
// error to the caller: the job outcome lands in the progress store and, on
// success, in the catalog record.
func (l *LocalCopy) Run(ctx context.Context, assetID uuid.UUID, tempPath, destPath string) {
	job := JobID(assetID)
	log := l.log.With().Stringer("asset_id", assetID).Str("dest", destPath).Logger()

	l.progress.Update(job, progress.StatusCopying, 0, "Copying file to storage...")

	if err := l.copyFile(job, tempPath, destPath); err != nil {
		log.Error().Err(err).Msg("asset copy failed")
		os.Remove(destPath)
		l.progress.Fail(job, err.Error())
		ingestsFailed.WithLabelValues(modeUpload).Inc()
		return
	}

	os.Remove(tempPath)

	l.progress.Update(job, progress.StatusChecksum, 50, "Calculating checksum...")

	digest, err := checksum.FileWithProgress(destPath, func(hashed, total int64) {
		if total > 0 {
			l.progress.Update(job, progress.StatusChecksum, 50+int(hashed*50/total), "Calculating checksum...")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("asset checksum failed")
		os.Remove(destPath)
		l.progress.Fail(job, err.Error())
		ingestsFailed.WithLabelValues(modeUpload).Inc()
		return
	}

	if err := l.catalog.UpdateAsset(ctx, assetID, Update{Checksum: strPtr(digest)}); err != nil {
		log.Error().Err(err).Msg("catalog checksum update failed")
		l.progress.Fail(job, fmt.Sprintf("record checksum: %v", err))
		ingestsFailed.WithLabelValues(modeUpload).Inc()
		return
	}

	l.progress.Complete(job, digest, "Upload completed successfully")
	ingestsCompleted.WithLabelValues(modeUpload).Inc()
	log.Info().Str("checksum", digest).Msg("asset ingested")
}

func (l *LocalCopy) copyFile(job, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	total := info.Size()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	buf := make([]byte, copyChunkSize)
	var copied int64

	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write %s: %w", dst, werr)
			}
			copied += int64(n)
			bytesIngested.Add(float64(n))
			if total > 0 {
				l.progress.Update(job, progress.StatusCopying, int(copied*50/total), "Copying file to storage...")
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read upload: %w", rerr)
		}
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	return nil
}
