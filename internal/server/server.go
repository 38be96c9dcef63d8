// Package server orchestrates all components: COMMS client, call journal,
// dispatcher, NATS and HTTP transports.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/rpcmesh/internal/config"
	"github.com/morezero/rpcmesh/pkg/busy"
	"github.com/morezero/rpcmesh/pkg/commsutil"
	"github.com/morezero/rpcmesh/pkg/db"
	"github.com/morezero/rpcmesh/pkg/dispatcher"
	"github.com/morezero/rpcmesh/pkg/events"
	"github.com/morezero/rpcmesh/pkg/invoke"
	"github.com/morezero/rpcmesh/pkg/transport/httprpc"
	"github.com/morezero/rpcmesh/pkg/transport/natsrpc"
)

const logPrefix = "server:server"

// Server hosts a set of contract instances on COMMS and HTTP.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	journal    *db.CallJournal
	handler    *dispatcher.RequestHandler
	service    *natsrpc.Service
	rpc        *httprpc.Handler
	httpServer *http.Server
	listener   net.Listener
}

// SetupLogging installs the default slog handler for level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run loads config, serves instances, blocks until SIGINT/SIGTERM, then
// drains in-flight calls and cleans up.
func Run(instances []*invoke.Instance) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting %s", logPrefix, cfg.COMMSName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := New(ctx, cfg, instances)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}

// New connects the server's dependencies. Nothing is served until Serve.
func New(ctx context.Context, cfg *config.Config, instances []*invoke.Instance) (*Server, error) {
	s := &Server{cfg: cfg}

	// Step 1: Connect to COMMS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.nc = nc

	// Step 2: Call journal, when a database is configured
	if cfg.JournalEnabled() {
		if err := s.openJournal(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	// Step 3: Event publishers and dispatcher
	var publishers events.MultiPublisher
	if cfg.EventSubject != "" {
		publishers = append(publishers, events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Subject: cfg.EventSubject}))
	}
	if s.journal != nil {
		publishers = append(publishers, s.journal)
	}
	s.handler = dispatcher.NewRequestHandler(instances, &dispatcher.Options{
		Publisher: publishers,
		Busy:      &busy.Flag{},
	})

	// Step 4: Transports
	s.service = natsrpc.NewService(nc, s.handler, &natsrpc.ServiceOptions{
		Subject:           cfg.Subject,
		QueueGroup:        cfg.QueueGroup,
		RequestTimeout:    cfg.RequestTimeout,
		MaxConcurrent:     cfg.MaxConcurrent,
		DrainTimeout:      cfg.DrainTimeout,
		DrainPollInterval: cfg.DrainPollInterval,
	})

	if addr := cfg.HTTPListenAddr(); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, addr, err)
		}
		s.listener = ln
		s.httpServer = &http.Server{Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	}
	return s, nil
}

func (s *Server) openJournal(ctx context.Context) error {
	opts := db.JournalOptions{EnsureDatabase: s.cfg.EnsureDatabase}
	if s.cfg.RunMigrations {
		opts.MigrationPath = s.cfg.MigrationPath
	}
	pool, err := db.OpenJournal(ctx, s.cfg.DatabaseURL, opts)
	if err != nil {
		return fmt.Errorf("%s - failed to open journal: %w", logPrefix, err)
	}
	s.pool = pool
	s.journal = db.NewCallJournal(pool)
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleHome())
	r.Get("/ready", s.handleReady)
	r.Get("/calls", s.handleCalls)
	s.rpc = httprpc.NewHandler(s.handler, &httprpc.HandlerOptions{RequestTimeout: s.cfg.RequestTimeout})
	r.Mount("/rpc", s.rpc)
	return r
}

// Handler returns the dispatcher shared by both transports.
func (s *Server) Handler() *dispatcher.RequestHandler {
	return s.handler
}

// HTTPAddr returns the bound HTTP address, or "" when HTTP is disabled.
func (s *Server) HTTPAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve starts the transports and blocks until ctx is done, then stops
// accepting calls, drains in-flight ones and closes every dependency.
func (s *Server) Serve(ctx context.Context) error {
	defer s.Close()

	if err := s.service.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.httpServer != nil {
		g.Go(func() error {
			slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, s.listener.Addr()))
			if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
			}
			return nil
		})
	}
	if s.journal != nil && s.cfg.JournalRetention > 0 {
		g.Go(func() error {
			s.pruneLoop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	slog.Info(fmt.Sprintf("%s - %s is ready on %s", logPrefix, s.cfg.COMMSName, s.service.Subject()))
	err := g.Wait()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// shutdown stops both transports. The NATS service drains the busy flag
// shared with HTTP, so HTTP stops accepting calls first.
func (s *Server) shutdown() error {
	slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))
	var errs []error

	if s.httpServer != nil {
		s.httpServer.SetKeepAlivesEnabled(false)
		s.rpc.StopAccepting()
	}
	stopCtx := context.Background()
	if err := s.service.Stop(stopCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - service stop: %v", logPrefix, err))
		errs = append(errs, err)
	}
	if s.httpServer != nil {
		httpCtx, cancel := context.WithTimeout(stopCtx, 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(httpCtx); err != nil {
			errs = append(errs, fmt.Errorf("%s - HTTP shutdown: %w", logPrefix, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := db.PruneJournal(ctx, s.pool, s.cfg.JournalRetention); err != nil && ctx.Err() == nil {
			slog.Warn(fmt.Sprintf("%s - journal prune: %v", logPrefix, err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases the listener, the COMMS connection and the database pool.
func (s *Server) Close() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.nc != nil && !s.nc.IsClosed() {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
