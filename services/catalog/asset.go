package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Asset is a boot-media file tracked by the catalog. While an ingestion is in
// flight the checksum field holds a sentinel instead of a digest; Available
// is the durable signal for whether the artifact can be served.
type Asset struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Filename     string         `json:"filename"`
	OSType       string         `json:"os_type"`
	Version      string         `json:"version,omitempty"`
	Architecture string         `json:"architecture"`
	FileSize     int64          `json:"file_size"`
	Checksum     string         `json:"checksum"`
	StoragePath  string         `json:"storage_path"`
	Available    bool           `json:"is_available"`
	Meta         map[string]any `json:"meta,omitempty"`
	OwnedBy      string         `json:"owned_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
