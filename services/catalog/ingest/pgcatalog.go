package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"bootmedia/pkg/db"
)

// PGCatalog is a minimal catalog client over a raw pgx pool. The detached
// fetch worker uses it instead of the service's ORM session: the worker owns
// its own connection and only ever patches asset rows.
type PGCatalog struct {
	Pool *pgxpool.Pool
}

// ReservedAsset is the slice of an asset row the fetch worker reads back
// before transferring anything.
type ReservedAsset struct {
	ID          uuid.UUID `db:"id"`
	Filename    string    `db:"filename"`
	Checksum    string    `db:"checksum"`
	StoragePath string    `db:"storage_path"`
}

// Reserved fetches the reservation written for id. ErrNotFound means the
// row was deleted between dispatch and worker start; the worker must not
// fetch on someone else's behalf.
func (c *PGCatalog) Reserved(ctx context.Context, id uuid.UUID) (ReservedAsset, error) {
	var row ReservedAsset
	err := db.Get(ctx, c.Pool, &row,
		"SELECT id, filename, checksum, storage_path FROM assets WHERE id = $1", id)
	if pgxscan.NotFound(err) {
		return ReservedAsset{}, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ReservedAsset{}, fmt.Errorf("read asset %s: %w", id, err)
	}
	return row, nil
}

// UpdateAsset applies a partial, last-writer-wins update to one asset row.
func (c *PGCatalog) UpdateAsset(ctx context.Context, id uuid.UUID, upd Update) error {
	sets := make([]string, 0, 3)
	args := []any{id}

	if upd.Size != nil {
		args = append(args, *upd.Size)
		sets = append(sets, fmt.Sprintf("file_size = $%d", len(args)))
	}
	if upd.Checksum != nil {
		args = append(args, *upd.Checksum)
		sets = append(sets, fmt.Sprintf("checksum = $%d", len(args)))
	}
	if upd.Available != nil {
		args = append(args, *upd.Available)
		sets = append(sets, fmt.Sprintf("available = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE assets SET %s WHERE id = $1", strings.Join(sets, ", "))

	tag, err := db.Exec(ctx, c.Pool, query, args...)
	if err != nil {
		return fmt.Errorf("update asset %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update asset %s: %w", id, ErrNotFound)
	}
	return nil
}
