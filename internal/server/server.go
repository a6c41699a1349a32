package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/db"
	"github.com/hirelab/assessor/internal/handlers"
	"github.com/hirelab/assessor/internal/mq"
	"github.com/hirelab/assessor/internal/ratelimit"
	"github.com/hirelab/assessor/internal/sandbox"
	"github.com/hirelab/assessor/internal/services"
	"github.com/hirelab/assessor/internal/storage"
	"github.com/hirelab/assessor/internal/store"
	"github.com/hirelab/assessor/internal/store/memory"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	shutdownTimeout = 15 * time.Second

	defaultRequestTimeout = 60 * time.Second
	defaultExecuteTimeout = 5 * time.Minute

	// writeTimeoutSlack leaves room to write the response after a handler
	// used its whole budget.
	writeTimeoutSlack = 10 * time.Second
)

// Server wraps the HTTP server, its router and the background workers.
type Server struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	ledger     *services.LedgerService
	hits       *ratelimit.MemoryStore
	storage    *storage.Storage
	events     *mq.MQ
}

// New wires the repository, the optional storage and broker backends, the
// services and the HTTP routes.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	s := &Server{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	repo, err := s.openRepository(ctx)
	if err != nil {
		return nil, err
	}

	runner, err := sandbox.NewClient(cfg.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("sandbox client: %w", err)
	}

	s.storage, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	var archive *services.ReportArchive
	if s.storage != nil {
		archive = services.NewReportArchive(s.storage)
		log.Info().Str("backend", cfg.Storage.Backend).Str("bucket", s.storage.Bucket()).Msg("execution reports archived")
	}

	s.events, err = mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("open mq: %w", err)
	}
	var events *services.Events
	if s.events != nil {
		events = services.NewEvents(s.events)
		log.Info().Str("backend", cfg.MQ.Backend).Msg("domain events enabled")
	} else {
		log.Warn().Msg("domain events disabled, invite emails will not be sent")
	}

	s.ledger = services.NewLedgerService(repo, cfg.Ledger, events)
	invites := services.NewInviteService(repo, cfg.Invite, cfg.PublicBaseURL, events)
	attempts := services.NewAttemptService(repo, s.ledger, events)
	proctoring := services.NewProctoringService(repo)
	execution := services.NewExecutionService(repo, runner, s.limiter(), archive)

	authMiddleware := handlers.RequireAuth(cfg.JWTSecret)
	debug := cfg.Debug
	requestTimeout, executeTimeout := httpTimeouts(cfg.HTTP)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestLogger,
	)
	router.Get("/healthz", handlers.Healthz)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		handlers.InviteRouter(r, invites, s.ledger, authMiddleware, debug)
	})
	router.Route("/credits", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		handlers.CreditRouter(r, s.ledger, authMiddleware, debug)
	})
	router.Route("/attempts", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		handlers.AttemptRouter(r, attempts, proctoring, authMiddleware, debug)
	})
	router.Route("/code", func(r chi.Router) {
		r.Use(middleware.Timeout(executeTimeout))
		handlers.ExecutionRouter(r, execution, authMiddleware, debug)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: max(requestTimeout, executeTimeout) + writeTimeoutSlack,
		IdleTimeout:  60 * time.Second,
	}
	ok = true
	return s, nil
}

func httpTimeouts(cfg config.HTTPConfig) (request, execute time.Duration) {
	request, execute = cfg.RequestTimeout, cfg.ExecuteTimeout
	if request <= 0 {
		request = defaultRequestTimeout
	}
	if execute <= 0 {
		execute = defaultExecuteTimeout
	}
	return request, execute
}

func (s *Server) openRepository(ctx context.Context) (services.Repository, error) {
	switch strings.ToLower(strings.TrimSpace(s.cfg.StoreBackend)) {
	case StoreBackendMemory:
		if s.cfg.Env == config.EnvProduction {
			return nil, errors.New("memory store is not allowed in production")
		}
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return memory.New(), nil
	case "", StoreBackendPostgres:
		dbConn, err := db.Open(ctx, s.cfg)
		if err != nil {
			return nil, err
		}
		s.db = dbConn
		return store.New(dbConn), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.cfg.StoreBackend)
	}
}

// limiter returns nil when rate limiting is disabled. Hits live in postgres
// unless the memory backend is selected or no database is open.
func (s *Server) limiter() *ratelimit.Limiter {
	rl := s.cfg.RateLimit
	if !rl.Enabled {
		log.Warn().Msg("execution rate limiting disabled")
		return nil
	}
	var hits ratelimit.Store
	if s.db != nil && strings.ToLower(rl.Backend) != StoreBackendMemory {
		hits = store.NewHitStore(s.db)
	} else {
		s.hits = ratelimit.NewMemoryStore()
		hits = s.hits
	}
	return ratelimit.New(hits, rl.MaxExecutions, rl.Window)
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP and runs the reservation sweeper until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.ledger.RunSweeper(ctx, s.cfg.Ledger.SweepInterval)
	})
	if s.hits != nil {
		interval := s.cfg.RateLimit.Window
		if interval <= 0 {
			interval = time.Minute
		}
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-ticker.C:
					s.hits.Sweep(now)
				}
			}
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) close() {
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			log.Warn().Err(err).Msg("close mq")
		}
	}
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			log.Warn().Err(err).Msg("close storage")
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// requestLogger writes one structured access log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := log.Info()
			if status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}
