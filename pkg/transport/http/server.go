package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/toolgate/pkg/transport"
)

// Server runs an Adapter on an http.Server until its context ends.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	config     ServerConfig
}

// ServerConfig holds the listener settings of a Server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds the wait for open requests. Invocations still
	// running when it expires are canceled.
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// ServerOption adjusts a ServerConfig.
type ServerOption func(*ServerConfig)

func WithAddr(addr string) ServerOption {
	return func(c *ServerConfig) { c.Addr = addr }
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ReadTimeout, c.WriteTimeout = read, write }
}

func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ShutdownTimeout = d }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(c *ServerConfig) { c.Logger = l }
}

func NewServer(adapter *Adapter, opts ...ServerOption) *Server {
	cfg := DefaultServerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		adapter: adapter,
		config:  cfg,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           adapter.Handler(),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			ErrorLog:          slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelWarn),
		},
	}
}

// DefaultMiddleware is the invocation chain installed by the serve
// command, outermost first.
func DefaultMiddleware(logger *slog.Logger) []transport.Middleware {
	return []transport.Middleware{
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(logger),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.ServeOn(ctx, ln)
}

// ServeOn serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	log := s.config.Logger
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})
	return g.Wait()
}

func (s *Server) shutdown() error {
	log := s.config.Logger
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	log.Info("shutting down", "timeout", s.config.ShutdownTimeout)
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		if n := s.adapter.inflight.CancelAll(); n > 0 {
			log.Warn("canceled invocations still running at shutdown", "count", n)
		}
		err = s.httpServer.Close()
	}
	if err != nil {
		log.Error("shutdown failed", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

// Shutdown stops the server without the ShutdownTimeout fallback.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
