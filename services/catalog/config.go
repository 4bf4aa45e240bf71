package catalog

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the catalog service.
type Config struct {
	Addr              string        `env:"ADDR,default=:8080"`
	DatabaseDSN       string        `env:"DATABASE_DSN,required"`
	NATSURL           string        `env:"NATS_URL"`
	StorageDir        string        `env:"ASSET_STORAGE_DIR,default=/var/lib/bootmedia/images"`
	MaxAssetSize      int64         `env:"MAX_ASSET_SIZE,default=10737418240"`
	FetcherBin        string        `env:"FETCHER_BIN,default=/usr/local/bin/fetchd"`
	SourcesFile       string        `env:"IMAGE_SOURCES_FILE"`
	MirrorBucket      string        `env:"S3_MIRROR_BUCKET"`
	ProgressRetention time.Duration `env:"PROGRESS_RETENTION,default=1h"`
	RequestsPerMinute int           `env:"REQUESTS_PER_MINUTE,default=100"`
	AllowedOrigins    []string      `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	OTLPEndpoint      string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadConfig returns a Config populated from environment variables.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
