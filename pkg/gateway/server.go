package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server is the HTTP API in front of the agent: blocking queries, SSE and
// websocket streams, health and service info.
type Server struct {
	options        ServerOptions
	server         *http.Server
	agent          Agent
	queryLimiter   Limiter
	streamLimiter  Limiter
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// ServerOptions holds server configuration.
type ServerOptions struct {
	Host string
	Port int
}

// NewServer creates a new API server. Limiters are optional; a nil limiter
// admits everything.
func NewServer(options ServerOptions, ag Agent, queryLimiter, streamLimiter Limiter, logger zerolog.Logger) (*Server, error) {
	if ag == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if options.Port == 0 {
		options.Port = 8000
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}

	return &Server{
		options:       options,
		agent:         ag,
		queryLimiter:  queryLimiter,
		streamLimiter: streamLimiter,
		logger:        logger,
		startTime:     time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}, nil
}

// Handler builds the route table. Exposed separately so tests can drive the
// server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.withRequest("", nil, s.handleRoot))
	mux.HandleFunc("/health", s.withRequest("", nil, s.handleHealth))
	mux.HandleFunc("/query", s.withRequest("query", s.queryLimiter, s.handleQuery))
	mux.HandleFunc("/stream", s.withRequest("stream", s.streamLimiter, s.handleStream))
	mux.HandleFunc("/ws", s.withRequest("stream", s.streamLimiter, s.handleWebSocket))
	return mux
}

// Start starts the API server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	// Wait for in-flight requests with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}
