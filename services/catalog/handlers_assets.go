package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bootmedia/pkg/checksum"
	"bootmedia/services/catalog/ingest"
)

func (a *API) handleListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := ListFilter{OSType: q.Get("os_type")}
	if v := q.Get("skip"); v != "" {
		filter.Skip, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("available"); v != "" {
		avail, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("available must be a boolean"))
			return
		}
		filter.Available = &avail
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	assets, err := a.store.ListAssets(ctx, filter)
	if err != nil {
		a.log.Error().Err(err).Msg("listing assets failed")
		respondError(w, http.StatusInternalServerError, errors.New("failed to list assets"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"assets": assets, "count": len(assets)})
}

func (a *API) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid asset id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	asset, err := a.store.GetAsset(ctx, id)
	if err != nil {
		respondIngestError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, asset)
}

// handleDeleteAsset removes the artifact bytes first and the catalog row
// second, so an interrupted delete never leaves unrecorded bytes behind.
func (a *API) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid asset id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	asset, err := a.store.GetAsset(ctx, id)
	if err != nil {
		respondIngestError(w, err)
		return
	}

	if err := os.Remove(asset.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.log.Error().Err(err).Stringer("asset_id", id).Msg("removing asset file failed")
		respondError(w, http.StatusInternalServerError, errors.New("failed to remove asset file"))
		return
	}

	if err := a.store.DeleteAsset(ctx, id); err != nil {
		respondIngestError(w, err)
		return
	}

	a.log.Info().Stringer("asset_id", id).Str("filename", asset.Filename).Msg("asset deleted")
	w.WriteHeader(http.StatusNoContent)
}

// handleVerify rehashes the artifact on disk and compares it to the recorded
// checksum. The hash runs synchronously in the request; callers doing this
// for multi-gigabyte media should expect the call to take a while.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
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

	if ingest.IsSentinel(asset.Checksum) {
		respondError(w, http.StatusConflict, errors.New("asset has no recorded checksum yet"))
		return
	}

	actual, err := checksum.File(asset.StoragePath)
	if err != nil {
		a.log.Error().Err(err).Stringer("asset_id", id).Msg("verification hash failed")
		respondError(w, http.StatusInternalServerError, errors.New("failed to hash asset file"))
		return
	}

	if actual == asset.Checksum {
		respondJSON(w, http.StatusOK, map[string]string{
			"status":   "valid",
			"checksum": actual,
			"message":  "Checksum matches the catalog record",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "invalid",
		"expected": asset.Checksum,
		"actual":   actual,
		"message":  "Checksum does not match the catalog record",
	})
}

// handleMirror copies a verified artifact to the configured S3 bucket in the
// background and records the object location in the asset's metadata.
func (a *API) handleMirror(w http.ResponseWriter, r *http.Request) {
	if a.store.Mirror == nil || a.config.MirrorBucket == "" {
		respondError(w, http.StatusNotImplemented, errors.New("object storage mirroring is not configured"))
		return
	}

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

	if !asset.Available || ingest.IsSentinel(asset.Checksum) {
		respondError(w, http.StatusConflict, errors.New("asset is not ready to mirror"))
		return
	}

	key := mirrorKey(asset)
	go a.mirror(asset, key)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"bucket":  a.config.MirrorBucket,
		"key":     key,
		"message": "Mirror upload started",
	})
}

func mirrorKey(asset Asset) string {
	return fmt.Sprintf("assets/%s/%s", asset.ID, asset.Filename)
}

func (a *API) mirror(asset Asset, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	if err := a.store.Mirror.PutFile(ctx, a.config.MirrorBucket, key, asset.StoragePath, asset.Checksum); err != nil {
		a.log.Error().Err(err).Stringer("asset_id", asset.ID).Str("key", key).Msg("mirror upload failed")
		return
	}

	err := a.store.SetAssetMeta(ctx, asset.ID, map[string]any{
		"s3_bucket":   a.config.MirrorBucket,
		"s3_key":      key,
		"mirrored_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		a.log.Error().Err(err).Stringer("asset_id", asset.ID).Msg("recording mirror location failed")
		return
	}

	a.log.Info().Stringer("asset_id", asset.ID).Str("key", key).Msg("asset mirrored")
}

// handlePresignURL hands out a time-limited download link for a mirrored
// asset.
func (a *API) handlePresignURL(w http.ResponseWriter, r *http.Request) {
	if a.store.Mirror == nil {
		respondError(w, http.StatusNotImplemented, errors.New("object storage mirroring is not configured"))
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid asset id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	asset, err := a.store.GetAsset(ctx, id)
	if err != nil {
		respondIngestError(w, err)
		return
	}

	bucket, _ := asset.Meta["s3_bucket"].(string)
	key, _ := asset.Meta["s3_key"].(string)
	if bucket == "" || key == "" {
		respondError(w, http.StatusFailedDependency, errors.New("asset has not been mirrored"))
		return
	}

	link, err := a.store.Mirror.PresignGet(ctx, bucket, key, presignTTL)
	if err != nil {
		a.log.Error().Err(err).Stringer("asset_id", id).Msg("presigning download link failed")
		respondError(w, http.StatusInternalServerError, errors.New("failed to presign download link"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"url":        link,
		"expires_in": int(presignTTL.Seconds()),
	})
}

func (a *API) handleSources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"sources": a.sources,
		"count":   len(a.sources),
	})
}
