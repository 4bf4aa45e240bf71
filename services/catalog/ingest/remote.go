package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bootmedia/pkg/checksum"
	"bootmedia/pkg/unpack"
)

// Origins serving installer media can be slow to answer; allow minutes before
// the first byte, but never cap the total transfer duration.
const originHeaderTimeout = 5 * time.Minute

// DefaultHTTPClient returns the client used for remote fetches: generous
// connect and first-byte timeouts, no overall deadline.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   originHeaderTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: originHeaderTimeout,
			TLSHandshakeTimeout:   time.Minute,
		},
	}
}

// RemoteDownload streams a URL into final asset storage, stripping a
// compression envelope when one was detected, and records the outcome
// directly in the catalog. It is designed to run inside the detached fetch
// worker, which owns its own catalog connection.
type RemoteDownload struct {
	catalog Updater
	client  *http.Client
	log     zerolog.Logger

	// TempDir holds in-flight downloads. Empty means "alongside the
	// destination", which keeps the final rename atomic.
	TempDir string
}

// NewRemoteDownload builds the fetcher. A nil client falls back to
// DefaultHTTPClient.
func NewRemoteDownload(catalog Updater, client *http.Client, log zerolog.Logger) *RemoteDownload {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &RemoteDownload{catalog: catalog, client: client, log: log}
}

// Run fetches srcURL into destPath and finalises the asset record. On any
// failure it removes every artifact it created, never a pre-existing file,
// and writes the error sentinel to the catalog before returning the error.
func (r *RemoteDownload) Run(ctx context.Context, assetID uuid.UUID, srcURL, destPath string, kind unpack.Kind) error {
	log := r.log.With().Stringer("asset_id", assetID).Str("url", srcURL).Str("dest", destPath).Logger()
	log.Info().Msg("download starting")

	err := r.run(ctx, log, srcURL, destPath, kind)
	if err != nil {
		log.Error().Err(err).Msg("download failed")
		ingestsFailed.WithLabelValues(modeDownload).Inc()
		if updErr := r.catalog.UpdateAsset(ctx, assetID, Update{
			Checksum:  strPtr(SentinelError),
			Available: boolPtr(false),
		}); updErr != nil {
			log.Error().Err(updErr).Msg("recording failure in catalog failed")
		}
		return err
	}

	info, err := os.Stat(destPath)
	if err != nil {
		ingestsFailed.WithLabelValues(modeDownload).Inc()
		_ = r.catalog.UpdateAsset(ctx, assetID, Update{
			Checksum:  strPtr(SentinelError),
			Available: boolPtr(false),
		})
		return fmt.Errorf("stat final artifact: %w", err)
	}

	log.Info().Msg("calculating checksum")
	digest, err := checksum.File(destPath)
	if err != nil {
		os.Remove(destPath)
		ingestsFailed.WithLabelValues(modeDownload).Inc()
		_ = r.catalog.UpdateAsset(ctx, assetID, Update{
			Checksum:  strPtr(SentinelError),
			Available: boolPtr(false),
		})
		return fmt.Errorf("checksum: %w", err)
	}

	if err := r.catalog.UpdateAsset(ctx, assetID, Update{
		Size:      i64Ptr(info.Size()),
		Checksum:  strPtr(digest),
		Available: boolPtr(true),
	}); err != nil {
		return fmt.Errorf("finalise asset record: %w", err)
	}

	ingestsCompleted.WithLabelValues(modeDownload).Inc()
	bytesIngested.Add(float64(info.Size()))
	log.Info().Str("checksum", digest).Int64("size", info.Size()).Msg("download completed")
	return nil
}

// run performs fetch, optional decompression, and the atomic move. Temporary
// files are cleaned up here; destPath only exists after a successful rename.
func (r *RemoteDownload) run(ctx context.Context, log zerolog.Logger, srcURL, destPath string, kind unpack.Kind) error {
	if _, err := os.Stat(destPath); err == nil {
		// Never clobber an artifact this fetch did not create.
		return fmt.Errorf("destination %s already exists", destPath)
	}

	tempDir := r.TempDir
	if tempDir == "" {
		tempDir = filepath.Dir(destPath)
	}

	tmpPath, err := r.fetch(ctx, srcURL, tempDir)
	if err != nil {
		return err
	}

	if kind != unpack.KindNone {
		log.Info().Str("envelope", string(kind)).Msg("decompressing")
		plainPath := tmpPath + ".plain"
		if err := unpack.File(tmpPath, plainPath, kind); err != nil {
			os.Remove(tmpPath)
			return err
		}
		os.Remove(tmpPath)
		tmpPath = plainPath
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("move into storage: %w", err)
	}
	return nil
}

func (r *RemoteDownload) fetch(ctx context.Context, srcURL, tempDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", srcURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: unexpected status %s", srcURL, resp.Status)
	}

	tmp, err := os.CreateTemp(tempDir, "bootmedia-*.download")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	buf := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(tmp, resp.Body, buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stream body: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
