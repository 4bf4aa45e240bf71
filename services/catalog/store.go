package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"bootmedia/pkg/bus"
	"bootmedia/pkg/db"
	gos3 "bootmedia/pkg/s3"
	"bootmedia/services/catalog/ingest"
)

// Store holds external dependencies required by the catalog service and
// implements the ingest.Catalog contract on top of them.
type Store struct {
	DB     *pgxpool.Pool
	ORM    *gorm.DB
	Bus    *bus.Bus
	Mirror *gos3.Client
}

const uniqueViolation = "23505"

// ReserveAsset inserts a provisional asset row. The storage path namespace is
// the mutual-exclusion domain: a duplicate path or filename, on disk or in
// the catalog, fails with ErrConflict and leaves no row behind.
func (s *Store) ReserveAsset(ctx context.Context, res ingest.Reservation) (uuid.UUID, error) {
	if _, err := os.Stat(res.StoragePath); err == nil {
		return uuid.Nil, fmt.Errorf("%w: file %s already on disk", ingest.ErrConflict, res.StoragePath)
	}

	model := assetModel{
		ID:           uuid.New(),
		Name:         res.Name,
		Filename:     res.Filename,
		OSType:       res.OSType,
		Version:      res.Version,
		Architecture: res.Architecture,
		FileSize:     res.Size,
		Checksum:     res.Checksum,
		StoragePath:  res.StoragePath,
		Available:    res.Available,
		Meta:         toJSONMap(nil),
		OwnedBy:      res.OwnedBy,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.ORM.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: %s already registered", ingest.ErrConflict, res.Filename)
		}
		return uuid.Nil, fmt.Errorf("reserve asset: %w", err)
	}

	return model.ID, nil
}

// UpdateAsset applies a partial update to an asset row and fans the terminal
// transitions out on the bus. Publishing is advisory; a bus failure never
// fails the durable update.
func (s *Store) UpdateAsset(ctx context.Context, id uuid.UUID, upd ingest.Update) error {
	fields := map[string]any{}
	if upd.Size != nil {
		fields["file_size"] = *upd.Size
	}
	if upd.Checksum != nil {
		fields["checksum"] = *upd.Checksum
	}
	if upd.Available != nil {
		fields["available"] = *upd.Available
	}
	if len(fields) == 0 {
		return nil
	}

	tx := s.ORM.WithContext(ctx).Model(&assetModel{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return fmt.Errorf("update asset %s: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("update asset %s: %w", id, ingest.ErrNotFound)
	}

	if upd.Checksum != nil {
		s.publishTerminal(ctx, id, *upd.Checksum)
	}
	return nil
}

func (s *Store) publishTerminal(ctx context.Context, id uuid.UUID, checksum string) {
	if s.Bus == nil {
		return
	}
	switch {
	case checksum == ingest.SentinelError:
		_ = s.Bus.PublishAsset(ctx, bus.SubjectAssetFailed, bus.AssetEvent{AssetID: id, Error: "ingestion failed"})
	case !ingest.IsSentinel(checksum):
		_ = s.Bus.PublishAsset(ctx, bus.SubjectAssetCompleted, bus.AssetEvent{AssetID: id, Checksum: checksum})
	}
}

// GetAsset fetches one asset by id.
func (s *Store) GetAsset(ctx context.Context, id uuid.UUID) (Asset, error) {
	var model assetModel
	err := s.ORM.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Asset{}, ingest.ErrNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("get asset %s: %w", id, err)
	}
	return model.toAPI(), nil
}

// ListFilter narrows ListAssets results.
type ListFilter struct {
	OSType    string
	Available *bool
	Skip      int
	Limit     int
}

// ListAssets returns assets ordered by creation time, newest first.
func (s *Store) ListAssets(ctx context.Context, filter ListFilter) ([]Asset, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	q := s.ORM.WithContext(ctx).Model(&assetModel{}).Order("created_at DESC")
	if filter.OSType != "" {
		q = q.Where("os_type = ?", filter.OSType)
	}
	if filter.Available != nil {
		q = q.Where("available = ?", *filter.Available)
	}

	var models []assetModel
	if err := q.Offset(filter.Skip).Limit(filter.Limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	assets := make([]Asset, 0, len(models))
	for _, m := range models {
		assets = append(assets, m.toAPI())
	}
	return assets, nil
}

// DeleteAsset removes the catalog row. The caller removes the backing file
// first; the row is the last thing to go so a crash cannot orphan bytes
// without a record pointing at them.
func (s *Store) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	tx := s.ORM.WithContext(ctx).Delete(&assetModel{}, "id = ?", id)
	if tx.Error != nil {
		return fmt.Errorf("delete asset %s: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

// MarkFileMissing flips availability off for an asset whose backing file has
// vanished. The sentinel guard keeps it from racing a concurrent ingestion of
// the same identifier, whose checksum is still a placeholder.
func (s *Store) MarkFileMissing(ctx context.Context, id uuid.UUID) error {
	return s.ORM.WithContext(ctx).
		Model(&assetModel{}).
		Where("id = ? AND checksum NOT IN ?", id, []string{ingest.SentinelProcessing, ingest.SentinelDownloading}).
		Update("available", false).Error
}

// StaleIngest is an asset whose checksum is still a placeholder.
type StaleIngest struct {
	ID       uuid.UUID `db:"id"`
	Filename string    `db:"filename"`
	Checksum string    `db:"checksum"`
}

// StaleIngests lists assets left mid-ingestion. At startup a "processing..."
// entry is an upload whose in-process copy died with the previous run; a
// "downloading..." entry may still be owned by a live detached worker.
func (s *Store) StaleIngests(ctx context.Context) ([]StaleIngest, error) {
	var rows []StaleIngest
	err := db.Select(ctx, s.DB, &rows,
		"SELECT id, filename, checksum FROM assets WHERE checksum IN ($1, $2) ORDER BY created_at",
		ingest.SentinelProcessing, ingest.SentinelDownloading)
	if err != nil {
		return nil, fmt.Errorf("list stale ingests: %w", err)
	}
	return rows, nil
}

// SetAssetMeta merges the given keys into the asset's metadata document.
func (s *Store) SetAssetMeta(ctx context.Context, id uuid.UUID, keys map[string]any) error {
	var model assetModel
	err := s.ORM.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ingest.ErrNotFound
	}
	if err != nil {
		return err
	}

	meta := mapFromJSONMap(model.Meta)
	for k, v := range keys {
		meta[k] = v
	}

	return s.ORM.WithContext(ctx).
		Model(&assetModel{}).
		Where("id = ?", id).
		Update("meta", toJSONMap(meta)).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
