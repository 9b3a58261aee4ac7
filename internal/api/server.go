// Package api serves the tool facade over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tathienbao/tradegate/internal/metrics"
	"github.com/tathienbao/tradegate/internal/registry"
	"github.com/tathienbao/tradegate/internal/tool"
)

// Config holds HTTP API configuration.
type Config struct {
	Host         string
	Port         int
	Token        string
	RateLimit    float64
	RateBurst    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default API configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         8080,
		RateLimit:    10,
		RateBurst:    20,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
}

// Runner executes tool calls.
type Runner interface {
	Run(ctx context.Context, req tool.Request) string
}

// StatusProvider reports registered platforms.
type StatusProvider interface {
	Statuses() []registry.Status
	CurrentAccount() (platform, account string, ok bool)
}

// PlatformsView is the body of GET /api/v1/platforms.
type PlatformsView struct {
	Platforms       []registry.Status `json:"platforms"`
	CurrentPlatform string            `json:"current_platform,omitempty"`
	CurrentAccount  string            `json:"current_account,omitempty"`
}

// Server is the HTTP front of the tool facade.
type Server struct {
	cfg        Config
	runner     Runner
	status     StatusProvider
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer builds the router. It does not start listening.
func NewServer(cfg Config, runner Runner, status StatusProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	s := &Server{
		cfg:    cfg,
		runner: runner,
		status: status,
		logger: logger.With("component", "api"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger, metrics.NewRecorder()))
	s.setupRoutes(router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.Use(bearerAuth(s.cfg.Token))
	{
		tools := v1.Group("/tools")
		tools.Use(rateLimit(s.cfg.RateLimit, s.cfg.RateBurst))
		{
			tools.POST("/trading", s.handleTrading)
		}

		v1.GET("/platforms", s.handlePlatforms)
	}
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("starting API server", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "err", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// handleTrading runs one tool call. Tool failures are part of the result
// text, so any well-formed body gets 200.
func (s *Server) handleTrading(c *gin.Context) {
	var req tool.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid tool arguments: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, ToolResult{Result: s.runner.Run(c.Request.Context(), req)})
}

func (s *Server) handlePlatforms(c *gin.Context) {
	view := PlatformsView{Platforms: s.status.Statuses()}
	if platform, account, ok := s.status.CurrentAccount(); ok {
		view.CurrentPlatform = platform
		view.CurrentAccount = account
	}
	success(c, view)
}
