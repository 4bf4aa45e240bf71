package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bootmedia/pkg/bus"
	"bootmedia/pkg/db"
	gos3 "bootmedia/pkg/s3"
	"bootmedia/pkg/telemetry"
	"bootmedia/services/catalog"
)

const serviceName = "catalogd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Str("service", serviceName).Logger()

	cfg, err := catalog.LoadConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	shutdownTelemetry, traceMiddleware, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	pool, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	err = db.WithTimeout(ctx, time.Minute, func(ctx context.Context) error {
		return db.Migrate(ctx, pool)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	orm, err := db.OpenGorm(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open orm")
	}
	defer func() {
		if err := db.CloseGorm(orm); err != nil {
			log.Error().Err(err).Msg("close orm")
		}
	}()

	store := &catalog.Store{DB: pool, ORM: orm}

	if stale, err := store.StaleIngests(ctx); err != nil {
		log.Warn().Err(err).Msg("scan for unfinished ingests")
	} else {
		for _, st := range stale {
			log.Warn().
				Stringer("asset_id", st.ID).
				Str("filename", st.Filename).
				Str("state", st.Checksum).
				Msg("ingest unfinished at startup; detached downloads may still be running")
		}
	}

	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect nats")
		}
		defer b.Close()
		store.Bus = b
	}

	if cfg.MirrorBucket != "" {
		mirror, err := gos3.NewClientFromEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("init object storage")
		}
		store.Mirror = mirror
	}

	api, err := catalog.New(store, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	consumer, err := api.StartMirrorConsumer(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("start mirror consumer")
	}
	if consumer != nil {
		defer consumer.Close()
	}

	routes, err := api.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build router")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), pool); err != nil {
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", routes)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           traceMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("storage_dir", cfg.StorageDir).Msg("catalog listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
