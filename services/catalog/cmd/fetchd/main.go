// fetchd downloads one remote boot-media artifact and records the outcome in
// the catalog. It is launched detached from the catalog service so transfers
// survive a service restart; its only channel back is the database row.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bootmedia/pkg/db"
	"bootmedia/pkg/unpack"
	"bootmedia/services/catalog/ingest"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		srcURL      string
		destPath    string
		assetIDRaw  string
		compression string
	)

	cmd := &cobra.Command{
		Use:           "fetchd",
		Short:         "Detached boot-media fetch worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := uuid.Parse(assetIDRaw)
			if err != nil {
				return fmt.Errorf("invalid asset id %q: %w", assetIDRaw, err)
			}

			kind := unpack.ParseKind(compression)

			dsn := os.Getenv("DATABASE_DSN")
			if dsn == "" {
				return errors.New("DATABASE_DSN is required")
			}

			return run(assetID, srcURL, destPath, dsn, kind)
		},
	}

	cmd.Flags().StringVar(&srcURL, "url", "", "Source URL of the artifact")
	cmd.Flags().StringVar(&destPath, "dest", "", "Final path for the decompressed artifact")
	cmd.Flags().StringVar(&assetIDRaw, "asset-id", "", "Catalog id of the reserved asset")
	cmd.Flags().StringVar(&compression, "compression", "", "Envelope compression (gzip, bzip2, zstd); empty for none")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("dest")
	_ = cmd.MarkFlagRequired("asset-id")

	return cmd
}

func run(assetID uuid.UUID, srcURL, destPath, dsn string, kind unpack.Kind) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := newLogger(assetID)

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	catalog := &ingest.PGCatalog{Pool: pool}

	// Confirm the reservation before fetching anything. A vanished row means
	// the asset was deleted after dispatch; a non-sentinel checksum means
	// another worker already finished this job.
	reserved, err := catalog.Reserved(ctx, assetID)
	if err != nil {
		return err
	}
	if reserved.Checksum != ingest.SentinelDownloading {
		return fmt.Errorf("asset %s is not awaiting download (checksum %q)", assetID, reserved.Checksum)
	}
	if reserved.StoragePath != destPath {
		log.Warn().Str("flag_dest", destPath).Str("catalog_dest", reserved.StoragePath).Msg("destination flag disagrees with catalog; using catalog path")
		destPath = reserved.StoragePath
	}

	fetcher := ingest.NewRemoteDownload(catalog, ingest.DefaultHTTPClient(), log)

	if err := fetcher.Run(ctx, assetID, srcURL, destPath, kind); err != nil {
		log.Error().Err(err).Msg("fetch failed")
		return err
	}

	log.Info().Str("dest", destPath).Msg("fetch complete")
	return nil
}

// newLogger writes to FETCHD_LOG_DIR when set; stderr is discarded by the
// launcher, so without it the worker runs silent.
func newLogger(assetID uuid.UUID) zerolog.Logger {
	var out io.Writer = os.Stderr
	if dir := os.Getenv("FETCHD_LOG_DIR"); dir != "" {
		path := filepath.Join(dir, "fetchd-"+assetID.String()+".log")
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = f
		}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "fetchd").Stringer("asset_id", assetID).Logger()
}
