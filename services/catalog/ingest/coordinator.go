package ingest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bootmedia/pkg/progress"
	"bootmedia/pkg/unpack"
)

// Config controls coordinator behaviour.
type Config struct {
	// StorageDir is where finished artifacts live. Created on demand.
	StorageDir string
	// MaxSize caps uploaded artifacts in bytes. Zero disables the check.
	MaxSize int64
	// FetcherBin is the path to the detached fetch worker binary.
	FetcherBin string
	// DatabaseDSN is handed to the detached worker so it can open its own
	// catalog connection.
	DatabaseDSN string
}

// Coordinator validates ingestion requests, reserves catalog records, and
// dispatches the matching fetcher. Its synchronous contract is "accepted for
// processing": every failure past reservation is recorded asynchronously.
type Coordinator struct {
	cfg      Config
	catalog  Catalog
	progress *progress.Store
	local    *LocalCopy
	log      zerolog.Logger
}

// NewCoordinator wires the coordinator and its in-process fetcher.
func NewCoordinator(cfg Config, catalog Catalog, prog *progress.Store, log zerolog.Logger) (*Coordinator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if prog == nil {
		return nil, fmt.Errorf("progress store is required")
	}
	if cfg.StorageDir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}

	return &Coordinator{
		cfg:      cfg,
		catalog:  catalog,
		progress: prog,
		local:    NewLocalCopy(catalog, prog, log),
		log:      log,
	}, nil
}

// UploadRequest describes bytes already staged in a local temporary file.
type UploadRequest struct {
	TempPath     string
	Filename     string
	Name         string
	OSType       string
	Version      string
	Architecture string
	OwnedBy      string
}

// DownloadRequest describes a remote artifact to fetch by URL.
type DownloadRequest struct {
	URL          string
	Name         string
	OSType       string
	Version      string
	Architecture string
	OwnedBy      string
}

// Accepted is returned once an ingestion has been reserved and dispatched.
type Accepted struct {
	AssetID uuid.UUID
	JobID   string
	// Filename is the final stored file name, after any envelope stripping.
	Filename string
}

// IngestUpload validates and reserves an uploaded artifact, then hands it to
// the in-process copy fetcher. The record is visible as available right away;
// its integrity metadata catches up asynchronously.
func (c *Coordinator) IngestUpload(ctx context.Context, req UploadRequest) (Accepted, error) {
	if req.TempPath == "" || req.Filename == "" {
		return Accepted{}, fmt.Errorf("%w: file is required", ErrInvalidRequest)
	}
	if !strings.HasSuffix(req.Filename, ".iso") {
		return Accepted{}, fmt.Errorf("%w: only ISO files are allowed", ErrInvalidRequest)
	}
	if req.OSType == "" {
		return Accepted{}, fmt.Errorf("%w: os_type is required", ErrInvalidRequest)
	}
	if req.Architecture == "" {
		req.Architecture = "amd64"
	}
	if req.Name == "" {
		req.Name = strings.TrimSuffix(req.Filename, ".iso")
	}

	if err := os.MkdirAll(c.cfg.StorageDir, 0o755); err != nil {
		return Accepted{}, fmt.Errorf("create storage dir: %w", err)
	}
	destPath := filepath.Join(c.cfg.StorageDir, req.Filename)

	info, err := os.Stat(req.TempPath)
	if err != nil {
		return Accepted{}, fmt.Errorf("%w: staged upload missing: %v", ErrInvalidRequest, err)
	}
	if c.cfg.MaxSize > 0 && info.Size() > c.cfg.MaxSize {
		os.Remove(req.TempPath)
		return Accepted{}, fmt.Errorf("%w: %d bytes over limit %d", ErrTooLarge, info.Size(), c.cfg.MaxSize)
	}

	assetID, err := c.catalog.ReserveAsset(ctx, Reservation{
		Name:         req.Name,
		Filename:     req.Filename,
		OSType:       req.OSType,
		Version:      req.Version,
		Architecture: req.Architecture,
		OwnedBy:      req.OwnedBy,
		StoragePath:  destPath,
		Size:         info.Size(),
		Checksum:     SentinelProcessing,
		Available:    true,
	})
	if err != nil {
		return Accepted{}, err
	}

	job := JobID(assetID)
	c.progress.Start(job, "Upload queued for processing...")
	ingestsStarted.WithLabelValues(modeUpload).Inc()

	// Background work shares this process but not this request's lifetime.
	go c.local.Run(context.WithoutCancel(ctx), assetID, req.TempPath, destPath)

	return Accepted{AssetID: assetID, JobID: job, Filename: req.Filename}, nil
}

// IngestURL validates and reserves a URL download, then launches the detached
// fetch worker. The record stays unavailable until the worker finishes: no
// bytes exist locally yet.
func (c *Coordinator) IngestURL(ctx context.Context, req DownloadRequest) (Accepted, error) {
	if req.Name == "" {
		return Accepted{}, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.OSType == "" {
		return Accepted{}, fmt.Errorf("%w: os_type is required", ErrInvalidRequest)
	}
	if req.Architecture == "" {
		req.Architecture = "amd64"
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Accepted{}, fmt.Errorf("%w: a valid http(s) url is required", ErrInvalidRequest)
	}

	filename, kind, err := DeriveFilename(req.URL, req.Name)
	if err != nil {
		return Accepted{}, err
	}

	if err := os.MkdirAll(c.cfg.StorageDir, 0o755); err != nil {
		return Accepted{}, fmt.Errorf("create storage dir: %w", err)
	}
	destPath := filepath.Join(c.cfg.StorageDir, filename)

	assetID, err := c.catalog.ReserveAsset(ctx, Reservation{
		Name:         req.Name,
		Filename:     filename,
		OSType:       req.OSType,
		Version:      req.Version,
		Architecture: req.Architecture,
		OwnedBy:      req.OwnedBy,
		StoragePath:  destPath,
		Size:         0,
		Checksum:     SentinelDownloading,
		Available:    false,
	})
	if err != nil {
		return Accepted{}, err
	}

	if err := c.spawnFetcher(req.URL, destPath, assetID, kind); err != nil {
		// The reservation stands; record the dispatch failure the same way a
		// transfer failure would be recorded.
		c.log.Error().Err(err).Stringer("asset_id", assetID).Msg("detached fetcher launch failed")
		_ = c.catalog.UpdateAsset(ctx, assetID, Update{
			Checksum:  strPtr(SentinelError),
			Available: boolPtr(false),
		})
		return Accepted{}, fmt.Errorf("launch fetch worker: %w", err)
	}

	ingestsStarted.WithLabelValues(modeDownload).Inc()
	c.log.Info().Stringer("asset_id", assetID).Str("url", req.URL).Str("filename", filename).Msg("download dispatched")

	return Accepted{AssetID: assetID, JobID: JobID(assetID), Filename: filename}, nil
}

// spawnFetcher starts the fetch worker in its own session so it outlives this
// process. No handle is kept: the worker reports through the catalog only.
func (c *Coordinator) spawnFetcher(srcURL, destPath string, assetID uuid.UUID, kind unpack.Kind) error {
	if c.cfg.FetcherBin == "" {
		return fmt.Errorf("fetcher binary not configured")
	}

	cmd := exec.Command(c.cfg.FetcherBin,
		"--url", srcURL,
		"--dest", destPath,
		"--asset-id", assetID.String(),
		"--compression", string(kind),
	)
	cmd.Env = append(os.Environ(), "DATABASE_DSN="+c.cfg.DatabaseDSN)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
