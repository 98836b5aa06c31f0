package relay

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/DHANNZHOST/imagetohd/internal/domain"
	"github.com/DHANNZHOST/imagetohd/internal/metrics"
	"github.com/DHANNZHOST/imagetohd/internal/repository"
	"github.com/DHANNZHOST/imagetohd/internal/storage"
	"github.com/DHANNZHOST/imagetohd/internal/upstream"
)

// RelayApp holds everything a request handler needs. It is built once at
// startup from an explicit Config.
type RelayApp struct {
	Config  *Config
	Store   *storage.Store
	Uploads domain.UploadRepository
	Relay   *Relay
	Paster  Paster
	Metrics *metrics.Registry

	now func() time.Time
}

// NewRelayApp wires the upstream clients, the upload store and the upload
// records for cfg. db must already be migrated.
func NewRelayApp(cfg *Config, db *sql.DB) (*RelayApp, error) {
	store, err := storage.NewOS(cfg.Uploads.Dir)
	if err != nil {
		return nil, err
	}
	return newRelayApp(cfg, store, repository.NewUploadRepository(db))
}

func newRelayApp(cfg *Config, store *storage.Store, uploads domain.UploadRepository) (*RelayApp, error) {
	SetLanguage(cfg.Server.Language)
	reg := metrics.NewRegistry()
	rl, err := NewRelay(cfg, store, reg)
	if err != nil {
		return nil, err
	}
	return &RelayApp{
		Config:  cfg,
		Store:   store,
		Uploads: uploads,
		Relay:   rl,
		Paster:  upstream.NewCatbox(cfg.Upstream.CatboxURL, cfg.Upstream.CatboxTimeout),
		Metrics: reg,
	}, nil
}

// NewRelay builds the relay for cfg's mode and staging backend. reg may
// be nil.
func NewRelay(cfg *Config, store *storage.Store, reg *metrics.Registry) (*Relay, error) {
	var stager Stager
	switch cfg.Staging.Backend {
	case StagingS3:
		s3, err := upstream.NewS3Stager(upstream.S3Config(cfg.Staging.S3))
		if err != nil {
			return nil, err
		}
		stager = s3
	default:
		stager = upstream.NewTmpfiles(cfg.Upstream.TmpfilesUploadURL, cfg.Upstream.TmpfilesHost, cfg.Upstream.TwoHopTimeout)
	}

	return &Relay{
		Mode:               cfg.Relay.Mode,
		TwoHopScale:        cfg.Relay.TwoHopScale,
		DefaultContentType: cfg.Relay.DefaultContentType,
		Enhancer:           upstream.NewEnhancer(cfg.Upstream.EnhanceURL, cfg.Upstream.EnhanceTimeout),
		TwoHopEnhancer:     upstream.NewEnhancer(cfg.Upstream.EnhanceURL, cfg.Upstream.TwoHopTimeout),
		Stager:             stager,
		Store:              store,
		Metrics:            reg,
	}, nil
}

func (a *RelayApp) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func (a *RelayApp) limits() Limits {
	return a.Config.Limits()
}

func (a *RelayApp) GetHTTPHandler() http.Handler {
	maxBody := a.Config.MaxBodySize()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upscale", limitBody(maxBody, a.handleUpscale))
	mux.HandleFunc("GET /api/enhance", a.handleEnhance)
	mux.HandleFunc("POST /api/upload-catbox", limitBody(maxBody, a.handleUploadCatbox))
	mux.HandleFunc("POST /api/upload-local", limitBody(maxBody, a.handleUploadLocal))
	mux.HandleFunc("DELETE /api/upload-local/{filename}", a.handleDeleteLocal)
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/uploads", a.handleListUploads)
	mux.HandleFunc("GET /api/metrics", a.Metrics.HandlerJSON)
	mux.HandleFunc(fmt.Sprintf("GET %s{filename}", a.Config.Uploads.URLPrefix), a.handleServeUpload)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /{$}", a.handleIndex)

	return traceMiddleware(HTTPLogger(i18nMiddleware(corsMiddleware(mux)), a.Metrics))
}
