package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// ServerConfig configures the metrics and health listener.
type ServerConfig struct {
	Host        string
	Port        int
	MetricsPath string
	HealthPath  string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{Port: 9090, MetricsPath: "/metrics", HealthPath: "/health"}
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

// Check is the outcome of one named health check. Anything other than
// StatusHealthy marks the process unhealthy.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker reports the state of one dependency, typically whether a
// gateway session is connected.
type HealthChecker func() Check

// Server exposes prometheus metrics plus /health, /ready and /live probes.
type Server struct {
	cfg     ServerConfig
	logger  *slog.Logger
	started time.Time
	srv     *http.Server

	mu     sync.RWMutex
	checks map[string]HealthChecker
}

func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
		checks:  make(map[string]HealthChecker),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.HealthPath, s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the mux serving metrics and probes.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// RegisterHealthCheck adds or replaces the checker stored under name.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	s.checks[name] = checker
	s.mu.Unlock()
}

// Start listens synchronously so bind failures reach the caller, then
// serves on a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("metrics server listening", "addr", ln.Addr().String(), "path", s.cfg.MetricsPath)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "err", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("metrics server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) Uptime() time.Duration { return time.Since(s.started) }

// evaluate runs every checker outside the lock and returns the results
// together with the sorted names of failing checks.
func (s *Server) evaluate() (map[string]Check, []string) {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checks))
	for name, fn := range s.checks {
		checkers[name] = fn
	}
	s.mu.RUnlock()

	results := make(map[string]Check, len(checkers))
	var failing []string
	for name, fn := range checkers {
		c := fn()
		results[name] = c
		if c.Status != StatusHealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return results, failing
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	results, failing := s.evaluate()

	body := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    s.Uptime().Round(time.Second).String(),
		Checks:    results,
	}
	code := http.StatusOK
	if len(failing) > 0 {
		body.Status = StatusUnhealthy
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	if _, failing := s.evaluate(); len(failing) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready: %s", strings.Join(failing, ", "))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("alive"))
}
