package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/joeblew999/plat-coverage/internal/api"
	"github.com/joeblew999/plat-coverage/internal/backend"
	"github.com/joeblew999/plat-coverage/internal/db"
	"github.com/joeblew999/plat-coverage/internal/humastar"
	"github.com/joeblew999/plat-coverage/internal/service"
	"github.com/joeblew999/plat-coverage/internal/styles"
	"github.com/joeblew999/plat-coverage/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host           string
	Port           string
	BackendURL     string
	BackendTimeout time.Duration
	Debounce       time.Duration
	StylesPath     string // YAML palette, empty for defaults
	DataDir        string // DuckDB directory, empty for in-memory
	Logger         *slog.Logger

	// Backend overrides the HTTP client built from BackendURL.
	Backend service.Backend
}

// Server is the coverage HTTP server.
type Server struct {
	config  Config
	log     *slog.Logger
	mux     *http.ServeMux
	humaAPI huma.API
	db      *sql.DB
	session *service.Session
}

// New wires the session engine, its browser-facing adapters and the API.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	palette, err := styles.Load(cfg.StylesPath)
	if err != nil {
		return nil, err
	}
	scheme, err := palette.Scheme()
	if err != nil {
		return nil, fmt.Errorf("invalid palette: %w", err)
	}

	renderer, err := templates.New()
	if err != nil {
		return nil, fmt.Errorf("loading fragment templates: %w", err)
	}

	be := cfg.Backend
	if be == nil {
		be = backend.New(cfg.BackendURL,
			backend.WithTimeout(cfg.BackendTimeout),
			backend.WithLogger(cfg.Logger.With("component", "backend")),
		)
	}

	s := &Server{config: cfg, log: cfg.Logger, mux: http.NewServeMux()}

	// Analytics are optional; the session works without them.
	var store *db.CoverageStore
	if conn, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: "coverage"}); err != nil {
		s.log.Warn("duckdb unavailable, stats disabled", "err", err)
	} else if store, err = db.NewCoverageStore(context.Background(), conn); err != nil {
		s.log.Warn("coverage store unavailable, stats disabled", "err", err)
		conn.Close()
		store = nil
	} else {
		s.db = conn
	}

	bus := service.NewEventBus()
	remote := service.NewRemoteMap(service.Viewport{
		Longitude: service.DefaultCenter.Lon(),
		Latitude:  service.DefaultCenter.Lat(),
		Zoom:      service.DefaultZoom,
	}, bus)
	stream := service.NewStreamRenderer(bus)

	sessionCfg := service.Config{
		Backend:  be,
		Map:      remote,
		Renderer: stream,
		Errors:   service.NewBusErrorSink(bus),
		Bus:      bus,
		Scheme:   scheme,
		Logger:   cfg.Logger,
		Debounce: cfg.Debounce,
	}
	if store != nil {
		sessionCfg.Recorder = store
	}
	s.session = service.NewSession(sessionCfg)

	humaConfig := huma.DefaultConfig("plat-coverage API", "1.0.0")
	humaConfig.Info.Description = "Transit coverage analysis: dataset ingestion, coverage layers, clusters and a live map event stream."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer(), humastar.ActionTransformer())
	s.humaAPI = humago.New(s.mux, humaConfig)

	handler := api.NewAPIHandler(&api.Services{
		Session:  s.session,
		Map:      remote,
		Renderer: stream,
		Bus:      bus,
		Store:    store,
	}, renderer)
	huma.AutoRegister(s.humaAPI, handler)
	api.NewInfoHandler(cfg.BackendURL, cfg.DataDir, store != nil).RegisterRoutes(s.humaAPI)

	s.mux.HandleFunc("/", s.handleRoot)

	s.log.Info("session started", "session", s.session.ID, "backend", cfg.BackendURL)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Session returns the analysis session.
func (s *Server) Session() *service.Session {
	return s.session
}

// Close stops the session and closes the database.
func (s *Server) Close() error {
	s.session.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-coverage",
		"status":  "running",
		"session": s.session.ID,
	})
}
