package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/artifact"
	"github.com/gin-gonic/gin"
)

// DefaultShutdownTimeout bounds how long Stop waits for in-flight jobs.
const DefaultShutdownTimeout = 30 * time.Second

// Options configures the router and listener.
type Options struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
	// Sweeper, when set, is swept after every request.
	Sweeper *artifact.Store
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(handler *Handler, opts Options, log *logger.Logger) *gin.Engine {
	engine := gin.New()

	engine.Use(Recovery(log))
	engine.Use(RequestLogger(log))
	engine.Use(BodySizeLimit(opts.MaxUploadBytes))

	if opts.Sweeper != nil {
		engine.Use(SweepAfterRequest(opts.Sweeper))
	}

	engine.GET("/", handler.Banner)
	engine.GET(healthPath, handler.Health)

	engine.POST("/transcribe", handler.Transcribe)
	engine.POST("/synthesize", handler.Synthesize)
	engine.POST("/tts", handler.Synthesize)
	engine.POST("/transcode", handler.Transcode)
	engine.POST("/ffmpeg", handler.Transcode)

	return engine
}

// Server is the HTTP listener.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *logger.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer wraps handler in an http.Server.
func NewServer(handler http.Handler, opts Options, log *logger.Logger) *Server {
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Address,
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
		},
		shutdownTimeout: shutdownTimeout,
		log:             log,
	}
}

// Start binds the port and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("HTTP server listening on %s", listener.Addr())

	go func() {
		serveErr := s.httpServer.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.log.Error("HTTP server error: %v", serveErr)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.httpServer.Addr
}

// Stop shuts the server down, letting in-flight requests finish within the
// shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.log.Info("HTTP server shut down")

	return nil
}
