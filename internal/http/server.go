package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Clark-Hu/bookshelf-api/internal/assets"
	"github.com/Clark-Hu/bookshelf-api/internal/auth"
	"github.com/Clark-Hu/bookshelf-api/internal/catalog"
	"github.com/Clark-Hu/bookshelf-api/internal/config"
	"github.com/Clark-Hu/bookshelf-api/internal/metrics"
	"github.com/Clark-Hu/bookshelf-api/internal/store"
)

const defaultTopRated = 3

// Deps are the collaborators the handlers call into.
type Deps struct {
	Store   *store.Store
	Catalog *catalog.Service
	Auth    *auth.Service
	Assets  assets.Store
	Metrics *metrics.Metrics
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg     config.Config
	store   *store.Store
	catalog *catalog.Service
	auth    *auth.Service
	assets  assets.Store
	covers  assets.CoverProcessor
	metrics *metrics.Metrics
	limiter *ipLimiter
	logger  *log.Logger
	router  chi.Router
	httpSrv *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, deps Deps, logger *log.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		cfg:     cfg,
		store:   deps.Store,
		catalog: deps.Catalog,
		auth:    deps.Auth,
		assets:  deps.Assets,
		covers: assets.CoverProcessor{
			Width:     cfg.CoverWidth,
			Height:    cfg.CoverHeight,
			Quality:   cfg.CoverQuality,
			MaxPixels: cfg.CoverMaxPixels,
		},
		metrics: deps.Metrics,
		limiter: newIPLimiter(cfg.AuthRatePerSec, cfg.AuthRateBurst),
		logger:  logger,
		router:  r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Use(s.recordMetrics)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	if disk, ok := s.assets.(*assets.DiskStore); ok {
		s.router.Handle("/images/*", http.StripPrefix("/images/", noListing(http.FileServer(http.Dir(disk.Dir())))))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/signup", s.handleSignup)
			r.Post("/login", s.handleLogin)
		})
		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.handleListBooks)
			r.Get("/bestrating", s.handleTopRated)
			r.Get("/{id}", s.handleGetBook)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/", s.handleCreateBook)
				r.Put("/{id}", s.handleUpdateBook)
				r.Delete("/{id}", s.handleDeleteBook)
				r.Post("/{id}/rating", s.handleRateBook)
			})
		})
	})
}

// noListing hides directory indexes of the asset dir.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start boots the HTTP server asynchronously.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
