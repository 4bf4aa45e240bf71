package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type assetModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name         string            `gorm:"type:text;not null"`
	Filename     string            `gorm:"type:text;uniqueIndex;not null"`
	OSType       string            `gorm:"type:text;not null"`
	Version      string            `gorm:"type:text"`
	Architecture string            `gorm:"type:text;not null"`
	FileSize     int64             `gorm:"type:bigint;not null;default:0"`
	Checksum     string            `gorm:"type:text;not null"`
	StoragePath  string            `gorm:"type:text;uniqueIndex;not null"`
	Available    bool              `gorm:"type:boolean;not null;default:false"`
	Meta         datatypes.JSONMap `gorm:"type:jsonb"`
	OwnedBy      string            `gorm:"type:text"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (assetModel) TableName() string { return "assets" }

func (m assetModel) toAPI() Asset {
	return Asset{
		ID:           m.ID,
		Name:         m.Name,
		Filename:     m.Filename,
		OSType:       m.OSType,
		Version:      m.Version,
		Architecture: m.Architecture,
		FileSize:     m.FileSize,
		Checksum:     m.Checksum,
		StoragePath:  m.StoragePath,
		Available:    m.Available,
		Meta:         mapFromJSONMap(m.Meta),
		OwnedBy:      m.OwnedBy,
		CreatedAt:    m.CreatedAt,
	}
}

func mapFromJSONMap(m datatypes.JSONMap) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return map[string]any(m)
}

func toJSONMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	return datatypes.JSONMap(m)
}
