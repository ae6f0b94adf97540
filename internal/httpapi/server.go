// File: internal/httpapi/server.go

// Package httpapi exposes repair runs over HTTP: trigger a run, poll its
// status, and fetch the final summary once it completes.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/repair"
)

// Runner executes a repair run and blocks until it finishes.
type Runner interface {
	Run(ctx context.Context, runID string, req schemas.RunRequest) (*repair.Result, error)
}

// Server serves the run API. Runs triggered through POST /api/v1/runs execute
// in the background; their lifecycle is tracked in the in-memory registry.
type Server struct {
	cfg      config.ServerConfig
	runner   Runner
	registry *Registry
	log      *zap.Logger

	// baseCtx is the lifetime context for background runs. Serve replaces it
	// with its own context before accepting connections.
	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewServer(cfg config.ServerConfig, runner Runner, logger *zap.Logger) (*Server, error) {
	if runner == nil {
		return nil, errors.New("httpapi: a runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		runner:   runner,
		registry: NewRegistry(),
		log:      logger.Named("httpapi"),
		baseCtx:  context.Background(),
	}, nil
}

// Routes builds the gin engine with all handlers attached.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealthz)

	api := router.Group("/api/v1")
	if s.cfg.AuthSecret != "" {
		api.Use(bearerAuth(s.cfg.AuthSecret))
	}
	api.POST("/runs", s.handleCreateRun)
	api.POST("/runs/sync", s.handleRunSync)
	api.GET("/runs/:id", s.handleGetRun)
	api.GET("/runs/:id/summary", s.handleGetSummary)
	return router
}

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully and waits for in-flight background runs to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.baseCtx = ctx

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("API server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_conns", s.cfg.MaxConns),
		zap.Bool("auth_enabled", s.cfg.AuthSecret != ""),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// Background runs observe the cancelled context and stop at the next
	// iteration boundary.
	s.wg.Wait()
	s.log.Info("API server stopped")
	return err
}

func (s *Server) handleCreateRun(c *gin.Context) {
	req, ok := s.bindRunRequest(c)
	if !ok {
		return
	}
	entry := s.registry.Create(req)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(entry.ID, req)
	}()
	c.JSON(http.StatusAccepted, gin.H{
		"run_id":  entry.ID,
		"status":  entry.Status,
		"message": fmt.Sprintf("Repair run started. Poll /api/v1/runs/%s for progress.", entry.ID),
	})
}

func (s *Server) handleRunSync(c *gin.Context) {
	req, ok := s.bindRunRequest(c)
	if !ok {
		return
	}
	entry := s.registry.Create(req)
	res, err := s.runner.Run(c.Request.Context(), entry.ID, req)
	if err != nil {
		s.registry.Fail(entry.ID, res, err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "status": StatusFailed})
		return
	}
	s.registry.Complete(entry.ID, res)
	if res == nil || res.Summary == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run finished without a summary", "status": StatusFailed})
		return
	}
	c.JSON(http.StatusOK, res.Summary)
}

func (s *Server) handleGetRun(c *gin.Context) {
	entry, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":       entry.ID,
		"status":       entry.Status,
		"started_at":   entry.StartedAt,
		"completed_at": entry.CompletedAt,
		"has_results":  entry.Result != nil && entry.Result.Summary != nil,
	})
}

func (s *Server) handleGetSummary(c *gin.Context) {
	entry, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	switch {
	case entry.Status == StatusRunning:
		c.JSON(http.StatusAccepted, gin.H{"error": "run still in progress", "status": StatusRunning})
	case entry.Status == StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": entry.Error, "status": StatusFailed})
	case entry.Result == nil || entry.Result.Summary == nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run finished without a summary", "status": entry.Status})
	default:
		c.JSON(http.StatusOK, entry.Result.Summary)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// execute drives a background run to completion and records the outcome.
func (s *Server) execute(runID string, req schemas.RunRequest) {
	res, err := s.runner.Run(s.baseCtx, runID, req)
	if err != nil {
		s.log.Error("Repair run failed", zap.String("run_id", runID), zap.Error(err))
		s.registry.Fail(runID, res, err.Error())
		return
	}
	s.registry.Complete(runID, res)
	s.log.Info("Repair run completed", zap.String("run_id", runID))
}

// bindRunRequest decodes the request body and rejects repositories that do
// not exist on disk before any run state is created.
func (s *Server) bindRunRequest(c *gin.Context) (schemas.RunRequest, bool) {
	var req schemas.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body required"})
		return req, false
	}
	if info, err := os.Stat(req.RepoPath); err != nil || !info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid repo_path: %s", req.RepoPath)})
		return req, false
	}
	return req, true
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// bearerAuth validates HS256 bearer tokens signed with the shared secret.
func bearerAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
