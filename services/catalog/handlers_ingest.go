package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bootmedia/pkg/bus"
	"bootmedia/pkg/checksum"
	"bootmedia/pkg/progress"
	"bootmedia/services/catalog/ingest"
)

// uploadSlack covers multipart framing and metadata fields on top of the
// configured artifact size cap.
const uploadSlack = 16 << 20

type downloadRequest struct {
	URL          string `json:"url"`
	Name         string `json:"name"`
	OSType       string `json:"os_type"`
	Version      string `json:"version"`
	Architecture string `json:"architecture"`
	OwnedBy      string `json:"owned_by"`
}

type acceptedResponse struct {
	Asset Asset  `json:"asset"`
	JobID string `json:"job_id"`
}

// handleUploadAsset stages the multipart body to a local temp file and hands
// it to the coordinator. The 201 means "reserved and queued"; the checksum
// arrives through the progress endpoint.
func (a *API) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	if a.config.MaxAssetSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxAssetSize+uploadSlack)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", a.config.MaxAssetSize))
			return
		}
		respondError(w, http.StatusBadRequest, fmt.Errorf("multipart field %q is required", "file"))
		return
	}
	defer file.Close()

	tempPath, err := a.stageUpload(file)
	if err != nil {
		a.log.Error().Err(err).Msg("staging upload failed")
		respondError(w, http.StatusInternalServerError, errors.New("failed to stage upload"))
		return
	}

	accepted, err := a.coord.IngestUpload(r.Context(), ingest.UploadRequest{
		TempPath:     tempPath,
		Filename:     filepath.Base(header.Filename),
		Name:         r.FormValue("name"),
		OSType:       r.FormValue("os_type"),
		Version:      r.FormValue("version"),
		Architecture: r.FormValue("architecture"),
		OwnedBy:      r.FormValue("owned_by"),
	})
	if err != nil {
		os.Remove(tempPath)
		respondIngestError(w, err)
		return
	}

	a.publishReserved(r, accepted, "upload")
	a.respondAccepted(w, r, accepted)
}

func (a *API) stageUpload(src io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "bootmedia-upload-*.iso")
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// handleDownloadAsset reserves a URL ingestion and launches the detached
// fetch worker.
func (a *API) handleDownloadAsset(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	accepted, err := a.coord.IngestURL(r.Context(), ingest.DownloadRequest{
		URL:          req.URL,
		Name:         req.Name,
		OSType:       req.OSType,
		Version:      req.Version,
		Architecture: req.Architecture,
		OwnedBy:      req.OwnedBy,
	})
	if err != nil {
		respondIngestError(w, err)
		return
	}

	a.publishReserved(r, accepted, req.URL)
	a.respondAccepted(w, r, accepted)
}

func (a *API) respondAccepted(w http.ResponseWriter, r *http.Request, accepted ingest.Accepted) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	asset, err := a.store.GetAsset(ctx, accepted.AssetID)
	if err != nil {
		a.log.Error().Err(err).Stringer("asset_id", accepted.AssetID).Msg("reading back reserved asset failed")
		respondError(w, http.StatusInternalServerError, errors.New("asset reserved but could not be read back"))
		return
	}

	respondJSON(w, http.StatusCreated, acceptedResponse{Asset: asset, JobID: accepted.JobID})
}

func (a *API) publishReserved(r *http.Request, accepted ingest.Accepted, source string) {
	if a.store.Bus == nil {
		return
	}
	err := a.store.Bus.PublishAsset(r.Context(), bus.SubjectAssetReserved, bus.AssetEvent{
		AssetID:  accepted.AssetID,
		Filename: accepted.Filename,
		Source:   source,
	})
	if err != nil {
		a.log.Warn().Err(err).Stringer("asset_id", accepted.AssetID).Msg("publishing reserved event failed")
	}
}

// handleProgress reports the live record for an asset's ingestion job. An
// unknown job is reported as finished: records are evicted after a retention
// window and lost on restart, and the catalog row holds the real outcome.
func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid asset id"))
		return
	}

	rec, ok := a.progress.Get(ingest.JobID(id))
	if !ok {
		respondJSON(w, http.StatusOK, progress.Record{
			Status:   "not_found",
			Progress: 100,
			Message:  "Upload completed or not tracked",
		})
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// handleRehash recomputes an asset's checksum from the bytes on disk in the
// background and stores the result. Pollers follow it on the progress
// endpoint under the asset's job id.
func (a *API) handleRehash(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid asset id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	asset, err := a.store.GetAsset(ctx, id)
	cancel()
	if err != nil {
		respondIngestError(w, err)
		return
	}

	if _, err := os.Stat(asset.StoragePath); err != nil {
		a.markMissing(r, id)
		respondError(w, http.StatusNotFound, errors.New("asset file not found on disk"))
		return
	}

	job := ingest.JobID(id)
	a.progress.Start(job, "Checksum recalculation queued...")

	go a.rehash(id, job, asset.StoragePath)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job,
		"message": "Checksum recalculation started",
	})
}

func (a *API) rehash(id uuid.UUID, job, path string) {
	a.progress.Update(job, progress.StatusChecksum, 0, "Calculating checksum...")

	sum, err := checksum.FileWithProgress(path, func(hashed, total int64) {
		pct := 0
		if total > 0 {
			pct = int(hashed * 100 / total)
		}
		a.progress.Update(job, progress.StatusChecksum, pct, "Calculating checksum...")
	})
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	if err != nil {
		a.log.Error().Err(err).Stringer("asset_id", id).Msg("checksum recalculation failed")
		_ = a.store.UpdateAsset(ctx, id, ingest.Update{Checksum: ptr(ingest.SentinelError)})
		a.progress.Fail(job, "Checksum calculation failed")
		return
	}

	if err := a.store.UpdateAsset(ctx, id, ingest.Update{Checksum: &sum}); err != nil {
		a.log.Error().Err(err).Stringer("asset_id", id).Msg("storing recalculated checksum failed")
		a.progress.Fail(job, "Failed to record checksum")
		return
	}

	a.progress.Complete(job, sum, "Checksum updated")
}

func (a *API) markMissing(r *http.Request, id uuid.UUID) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	if err := a.store.MarkFileMissing(ctx, id); err != nil {
		a.log.Warn().Err(err).Stringer("asset_id", id).Msg("marking asset unavailable failed")
	}
}

func ptr[T any](v T) *T { return &v }
