// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes research jobs over HTTP: job submission and
// status, live progress over WebSocket or server-sent events, report
// downloads, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/storage"
	"github.com/teradata-labs/loom-research/pkg/stream"
)

// Jobs is the job surface the server needs. *jobs.Manager implements it.
type Jobs interface {
	Submit(ctx context.Context, query, analysisType string) (*storage.Job, error)
	Get(ctx context.Context, id string) (*storage.Job, error)
	List(ctx context.Context, limit int) ([]*storage.Job, error)
	Stream(id string) (*stream.Queue, error)
	Cancel(ctx context.Context, id string) error
	Active() int
}

// Reports opens persisted report files. *artifacts.Store implements it.
type Reports interface {
	Open(jobID, file string) (*os.File, fs.FileInfo, error)
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the HTTP listener.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// PingInterval is how often idle WebSocket and SSE streams are kept
	// alive. Zero disables keepalives.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	CORS         CORSConfig    `mapstructure:"cors"`
}

// DefaultConfig returns the listener defaults. WriteTimeout is never set
// because progress streams stay open for the whole job.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		ReadTimeout:     30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		PingInterval:    30 * time.Second,
		CORS:            DefaultCORSConfig(),
	}
}

// Server serves the research API.
type Server struct {
	config   Config
	jobs     Jobs
	reports  Reports
	health   Pinger
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck makes /health ping p.
func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.health = p }
}

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a server. jobs and reports are required.
func New(cfg Config, jobs Jobs, reports Reports, opts ...Option) (*Server, error) {
	if jobs == nil {
		return nil, errors.New("server: jobs is required")
	}
	if reports == nil {
		return nil, errors.New("server: reports is required")
	}
	s := &Server{
		config:  cfg,
		jobs:    jobs,
		reports: reports,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.Handler(),
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the routed handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /analysis", s.handleCreateAnalysis)
	mux.HandleFunc("GET /analysis", s.handleListAnalyses)
	mux.HandleFunc("GET /analysis/{id}", s.handleGetAnalysis)
	mux.HandleFunc("POST /analysis/{id}/cancel", s.handleCancelAnalysis)

	mux.HandleFunc("GET /ws/research/{id}", s.handleWebSocket)
	mux.HandleFunc("GET /events/{id}", s.handleSSE)

	mux.HandleFunc("GET /reports/{jobID}/{file}", s.handleReport)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	if s.config.CORS.Enabled {
		handler = corsMiddleware(s.config.CORS, handler)
	}
	return s.logRequests(handler)
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the server. Open progress streams are cut when
// ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
		return err
	}
	return nil
}
