package catalog

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"bootmedia/pkg/progress"
	"bootmedia/services/catalog/ingest"
)

const presignTTL = 15 * time.Minute

// API wires dependencies and configuration for the catalog HTTP handlers.
type API struct {
	store    *Store
	coord    *ingest.Coordinator
	progress *progress.Store
	sources  []ImageSource
	config   Config
	log      zerolog.Logger
}

// New initialises the API layer. The coordinator and progress store are built
// here so every ingestion path shares one dispatch surface.
func New(store *Store, cfg Config, log zerolog.Logger) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}

	prog := progress.NewStore(cfg.ProgressRetention)

	coord, err := ingest.NewCoordinator(ingest.Config{
		StorageDir:  cfg.StorageDir,
		MaxSize:     cfg.MaxAssetSize,
		FetcherBin:  cfg.FetcherBin,
		DatabaseDSN: cfg.DatabaseDSN,
	}, store, prog, log)
	if err != nil {
		return nil, err
	}

	sources, err := LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	return &API{
		store:    store,
		coord:    coord,
		progress: prog,
		sources:  sources,
		config:   cfg,
		log:      log,
	}, nil
}

// Routes constructs the chi router containing all catalog endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))
	if a.config.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(a.config.RequestsPerMinute, time.Minute))
	}

	r.Route("/v1", func(r chi.Router) {
		// The upload route streams multi-gigabyte bodies and gets no
		// server-side deadline; everything else is bounded.
		r.Post("/assets", a.handleUploadAsset)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/assets", a.handleListAssets)
			r.Post("/assets/download", a.handleDownloadAsset)
			r.Get("/assets/{id}", a.handleGetAsset)
			r.Delete("/assets/{id}", a.handleDeleteAsset)
			r.Get("/assets/{id}/progress", a.handleProgress)
			r.Post("/assets/{id}/checksum", a.handleRehash)
			r.Post("/assets/{id}/mirror", a.handleMirror)
			r.Get("/assets/{id}/url", a.handlePresignURL)
			r.Get("/sources", a.handleSources)
		})

		// Verification hashes the whole artifact synchronously; give it the
		// same open-ended budget as uploads.
		r.Post("/assets/{id}/verify", a.handleVerify)
	})

	return r, nil
}
