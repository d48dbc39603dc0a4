// Package server exposes the HTTP surface: task submission, status
// polling, CSV export, health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geowatch/internal/engine"
	"geowatch/internal/export"
	"geowatch/internal/logging"
	"geowatch/internal/metrics"
	"geowatch/internal/status"
	"geowatch/internal/store"
)

type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Debug         bool
}

type Server struct {
	cfg        Config
	engine     *engine.Engine
	projector  *status.Projector
	exporter   *export.Exporter
	store      *store.Store
	logger     *logging.Logger
	router     *gin.Engine
	httpServer *http.Server
}

func New(cfg Config, eng *engine.Engine, proj *status.Projector, exp *export.Exporter, st *store.Store, m *metrics.Metrics, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		engine:    eng,
		projector: proj,
		exporter:  exp,
		store:     st,
		logger:    logger.Component("http"),
		router:    router,
	}

	router.POST("/mock", s.handleSubmit)
	router.GET("/status", s.handleStatus)
	router.GET("/export", s.handleExport)
	router.POST("/cancel", s.handleCancel)
	router.GET("/health", s.handleHealth)
	if m != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errc
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req engine.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	taskID, err := s.engine.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("task submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID})
}

func (s *Server) handleStatus(c *gin.Context) {
	ids, err := taskIDs(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	envelope, err := s.projector.Status(c.Request.Context(), ids)
	if err != nil {
		s.logger.Error("status projection failed", "task_ids", ids, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load status"})
		return
	}
	c.JSON(http.StatusOK, envelope)
}

func (s *Server) handleExport(c *gin.Context) {
	ids, err := taskIDs(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(ids)))
	if err := s.exporter.WriteCSV(c.Request.Context(), c.Writer, ids); err != nil {
		// Headers may already be out; log and drop the connection.
		s.logger.Error("csv export failed", "task_ids", ids, "error", err)
		c.Abort()
	}
}

func (s *Server) handleCancel(c *gin.Context) {
	ids, err := taskIDs(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, id := range ids {
		s.engine.Cancel(id)
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": ids})
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// taskIDs reads ?id= or ?ids= (comma separated).
func taskIDs(c *gin.Context) ([]int64, error) {
	raw := c.Query("ids")
	if raw == "" {
		raw = c.Query("id")
	}
	if raw == "" {
		return nil, fmt.Errorf("missing id or ids parameter")
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid task id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("missing id or ids parameter")
	}
	return ids, nil
}
