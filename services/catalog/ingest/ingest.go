// Package ingest drives boot-media artifacts from an upload or a remote URL
// into verified local storage.
//
// Two execution regimes coexist: the local copy path runs inside the catalog
// service process, while the remote download path runs in a detached worker
// process so a service restart cannot abort a multi-gigabyte transfer. Both
// are dispatched through the Coordinator and report their outcome through the
// catalog record.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"bootmedia/pkg/unpack"
)

// Checksum sentinels occupying the catalog field before a real digest exists.
const (
	SentinelProcessing  = "processing..."
	SentinelDownloading = "downloading..."
	SentinelError       = "error"
)

// IsSentinel reports whether s is a placeholder rather than a hex digest.
func IsSentinel(s string) bool {
	switch s {
	case SentinelProcessing, SentinelDownloading, SentinelError:
		return true
	default:
		return false
	}
}

// Errors surfaced synchronously by the Coordinator. Everything else fails
// asynchronously and is recorded in the catalog, never returned to the caller.
var (
	ErrConflict       = fmt.Errorf("asset already exists")
	ErrTooLarge       = fmt.Errorf("asset exceeds maximum size")
	ErrInvalidRequest = fmt.Errorf("invalid ingestion request")
	ErrNotFound       = fmt.Errorf("asset not found")
)

// Update is a partial, last-writer-wins change to an asset record.
type Update struct {
	Size      *int64
	Checksum  *string
	Available *bool
}

// Updater is the slice of the catalog fetchers need: recording size, digest
// and availability as a transfer progresses to its terminal state.
type Updater interface {
	UpdateAsset(ctx context.Context, id uuid.UUID, upd Update) error
}

// Reservation carries the metadata inserted when an asset is accepted.
type Reservation struct {
	Name         string
	Filename     string
	OSType       string
	Version      string
	Architecture string
	OwnedBy      string
	StoragePath  string
	Size         int64
	Checksum     string
	Available    bool
}

// Catalog is the Coordinator's view of the durable asset store. Reserve must
// be atomic: a duplicate path or filename fails with ErrConflict and leaves
// no partial row behind.
type Catalog interface {
	Updater
	ReserveAsset(ctx context.Context, res Reservation) (uuid.UUID, error)
}

// JobID derives the progress-store key for an asset's ingestion job.
func JobID(assetID uuid.UUID) string {
	return "upload_" + assetID.String()
}

// strPtr and friends keep Update literals readable at call sites.
func strPtr(s string) *string { return &s }
func i64Ptr(n int64) *int64   { return &n }
func boolPtr(b bool) *bool    { return &b }

// DeriveFilename determines the final stored file name for a URL download and
// the compression envelope that must be stripped on the way in. The URL tail
// wins when it looks like media; otherwise the declared display name is
// sanitised and used.
func DeriveFilename(rawURL, displayName string) (string, unpack.Kind, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", unpack.KindNone, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	segments := strings.Split(parsed.Path, "/")
	tail := segments[len(segments)-1]

	kind := unpack.Detect(tail)
	name := unpack.StripSuffix(tail)

	if !strings.HasSuffix(name, ".iso") {
		if displayName == "" {
			return "", unpack.KindNone, fmt.Errorf("%w: cannot derive file name from %q", ErrInvalidRequest, rawURL)
		}
		// A compressed tail without an .iso stem (say "rootfs.gz") keeps its
		// envelope kind: the payload still gets unpacked, it is just stored
		// under the display name instead of the bare stem.
		name = strings.ReplaceAll(strings.TrimSpace(displayName), " ", "_") + ".iso"
	}

	return name, kind, nil
}
