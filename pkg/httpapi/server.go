package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marmos91/tenantfs/internal/logger"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Prefix is the group the file routes are mounted on. Default: "/files"
	Prefix string

	Metrics RequestObserver
}

// NewRouter builds the gin engine serving h, with request ids, access
// logging, metrics and panic recovery.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	if cfg.Prefix == "" {
		cfg.Prefix = "/files"
	}

	r := gin.New()
	r.Use(RequestID(), AccessLog(), Metrics(cfg.Metrics), Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})

	h.RegisterRoutes(r.Group(cfg.Prefix))
	return r
}

// ServerConfig configures the file server.
type ServerConfig struct {
	// Listen address. Default: ":8080"
	Listen string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration
}

// Server runs a router until its context is cancelled.
type Server struct {
	server          *http.Server
	listen          string
	shutdownTimeout time.Duration
	listener        net.Listener
	ready           chan struct{}
	shutdownOnce    sync.Once
}

// NewServer creates a stopped server for handler.
func NewServer(handler http.Handler, cfg ServerConfig) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		listen:          cfg.Listen,
		shutdownTimeout: cfg.ShutdownTimeout,
		ready:           make(chan struct{}),
	}
}

// Start serves until ctx is cancelled and then drains open requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	s.listener = ln
	close(s.ready)
	logger.Info("File server listening on %s", ln.Addr())

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("File server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("file server failed: %w", err)
	}
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("file server shutdown error: %w", err)
			return
		}
		logger.Info("File server stopped gracefully")
	})
	return shutdownErr
}

// Addr blocks until the server is listening and returns the bound address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}
