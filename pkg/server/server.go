package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/otwiki/collab/pkg/api"
	"github.com/otwiki/collab/pkg/collab"
	"github.com/otwiki/collab/pkg/compression"
	"github.com/otwiki/collab/pkg/crdt"
	"github.com/otwiki/collab/pkg/hub"
	"github.com/otwiki/collab/pkg/metrics"
	"github.com/otwiki/collab/pkg/store"
)

// Server is the HTTP/WebSocket front door for the collaboration core: it
// wires the OT pipeline (pkg/collab), the CRDT pipeline (pkg/crdt), the
// connection adapter (pkg/hub) and the page store together behind one chi
// router.
type Server struct {
	config    *Config
	router    *chi.Mux
	httpSrv   *http.Server
	startTime time.Time

	pages        *store.MemoryStore
	authz        *store.TokenAuthorizer
	coordinator  *collab.Coordinator
	crdtLog      *crdt.Log
	checkpointer *crdt.Checkpointer
	committer    *crdt.Committer
	hub          *hub.Hub
	hubServer    *hub.Server

	metricsCollector *metrics.Collector
	promExporter     *metrics.PrometheusExporter
	apiHandler       *api.Handler

	runCancel context.CancelFunc
}

// New wires a complete collaboration server from config.
func New(config *Config) (*Server, error) {
	if config.EnableTLS {
		if config.TLSCertFile == "" || config.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS enabled but certificate or key file not specified")
		}
		if _, err := os.Stat(config.TLSCertFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS certificate file not found: %s", config.TLSCertFile)
		}
		if _, err := os.Stat(config.TLSKeyFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS key file not found: %s", config.TLSKeyFile)
		}
	}

	cfg := collabConfigFrom(config)
	collector := metrics.NewCollector()
	pages := store.NewMemoryStore(config.PageCacheSize, config.PageCacheTTL)
	authz := store.NewTokenAuthorizer(config.EditTokenPassphrase, config.EditTokenSalt)

	h := hub.NewHub(collector)
	coordinator := collab.NewCoordinator(cfg, pages, authz, h, collector)

	compressor, err := compression.NewCompressor(compression.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint compressor: %w", err)
	}
	crdtLog := crdt.NewLog(cfg, collector)
	checkpointer := crdt.NewCheckpointer(crdtLog, compressor, collector, cfg.CheckpointMaxUpdates, cfg.CheckpointMaxSeconds)
	committer := crdt.NewCommitter(crdtLog, checkpointer, pages, store.LogActivityLogger{})

	hubServer := hub.NewServer(h, coordinator, crdtLog, checkpointer, committer, authz, collector)
	promExporter := metrics.NewPrometheusExporter(collector)

	apiHandler, err := api.NewHandler(pages, coordinator)
	if err != nil {
		return nil, fmt.Errorf("failed to build GraphQL handler: %w", err)
	}

	srv := &Server{
		config:           config,
		router:           chi.NewRouter(),
		startTime:        time.Now(),
		pages:            pages,
		authz:            authz,
		coordinator:      coordinator,
		crdtLog:          crdtLog,
		checkpointer:     checkpointer,
		committer:        committer,
		hub:              h,
		hubServer:        hubServer,
		metricsCollector: collector,
		promExporter:     promExporter,
		apiHandler:       apiHandler,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return srv, nil
}

func collabConfigFrom(config *Config) *collab.Config {
	t := config.Collab
	if t == nil {
		return collab.DefaultConfig()
	}
	cfg := collab.DefaultConfig()
	cfg.MaxOperationHistorySize = t.MaxOperationHistorySize
	cfg.SessionTimeoutMinutes = t.SessionTimeoutMinutes
	cfg.MaxConcurrentUsersPerSession = t.MaxConcurrentUsersPerSession
	cfg.CursorBroadcastMinInterval = t.CursorBroadcastMinInterval
	cfg.AutoCleanupInterval = t.AutoCleanupInterval
	cfg.PresenceEnabled = t.PresenceEnabled
	cfg.PresenceTTL = t.PresenceTTL
	cfg.MaxUpdateBytes = t.MaxUpdateBytes
	cfg.CheckpointMaxUpdates = t.CheckpointMaxUpdates
	cfg.CheckpointMaxSeconds = t.CheckpointMaxSeconds
	return cfg
}

// setupMiddleware configures the HTTP middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

// setupRoutes configures HTTP and WebSocket routes.
func (s *Server) setupRoutes() {
	s.hubServer.Routes(s.router)

	s.router.Get("/_health", s.jsonContentType(s.handleHealth))
	s.router.Get("/_stats", s.jsonContentType(s.handleStats))
	s.router.Get("/_metrics", s.handlePrometheusMetrics)

	s.router.Route("/pages/{pageId}", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Get("/", s.handleGetPage)
		r.Put("/seed", s.handleSeedPage)
	})

	s.router.Method(http.MethodPost, "/graphql", s.apiHandler)
	s.router.Get("/graphiql", api.GraphiQLHandler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"openOTSessions":   s.coordinator.SessionCount(),
		"openCRDTSessions": len(s.crdtLog.Sessions()),
	})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageId")
	page, err := s.pages.GetPage(r.Context(), pageID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "NotFound", err.Error())
		return
	}
	WriteSuccess(w, page)
}

// handleSeedPage is a demo convenience for seeding an in-memory page
// before opening an edit session; it has no wire-protocol equivalent.
func (s *Server) handleSeedPage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageId")
	var page store.Page
	if err := json.NewDecoder(r.Body).Decode(&page); err != nil {
		WriteError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	page.ID = pageID
	s.pages.SeedPage(page)
	WriteSuccess(w, page)
}

// corsMiddleware handles CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestSizeLimitMiddleware limits request body size.
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

// handlePrometheusMetrics serves the Prometheus text-exposition endpoint.
func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := s.promExporter.WriteMetrics(w); err != nil {
		http.Error(w, fmt.Sprintf("Error writing metrics: %v", err), http.StatusInternalServerError)
		return
	}
}

// Start runs the session-reaper and checkpoint sweeps, then serves HTTP
// until an OS signal or server error arrives.
func (s *Server) Start() error {
	protocol := "http"
	wsProtocol := "ws"
	if s.config.EnableTLS {
		protocol = "https"
		wsProtocol = "wss"
		fmt.Printf("TLS enabled, certificate %s\n", s.config.TLSCertFile)
	}
	fmt.Printf("collab server starting on %s://%s:%d\n", protocol, s.config.Host, s.config.Port)
	fmt.Printf("edit-room endpoint: %s://%s:%d/_ws/collab\n", wsProtocol, s.config.Host, s.config.Port)
	fmt.Printf("graphql endpoint: %s://%s:%d/graphql (playground at /graphiql)\n", protocol, s.config.Host, s.config.Port)

	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	go s.coordinator.Run(runCtx)
	go s.checkpointer.Run(runCtx, s.config.CheckpointSweepInterval)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.httpSrv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		fmt.Printf("received signal: %v\n", sig)
		return s.Shutdown()
	}
}

// GetMetricsCollector returns the metrics collector.
func (s *Server) GetMetricsCollector() *metrics.Collector {
	return s.metricsCollector
}

// Shutdown gracefully stops the HTTP server and background sweeps.
func (s *Server) Shutdown() error {
	fmt.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		fmt.Printf("server shutdown error: %v\n", err)
	}

	if s.runCancel != nil {
		s.runCancel()
	}

	fmt.Println("server shutdown complete")
	return nil
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		fmt.Printf("error encoding JSON response: %v\n", err)
	}
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) {
	response := map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": message,
		"code":    statusCode,
	}
	WriteJSON(w, statusCode, response)
}

// WriteSuccess writes a success response.
func WriteSuccess(w http.ResponseWriter, result interface{}) {
	response := map[string]interface{}{
		"ok":     true,
		"result": result,
	}
	WriteJSON(w, http.StatusOK, response)
}
