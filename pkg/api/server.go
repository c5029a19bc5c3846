// Package api provides the arbiter's HTTP surface: health, recent
// decisions, aggregate statistics, and manual approval.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medic/arbiter/pkg/config"
	"github.com/medic/arbiter/pkg/models"
	"github.com/medic/arbiter/pkg/store"
	"github.com/medic/arbiter/pkg/version"
)

// requestTimeout bounds every handler, per spec §5 ("The HTTP server
// imposes a 30 s request timeout").
const requestTimeout = 30 * time.Second

// statsWindow is the rolling window used by GET /stats.
const statsWindow = 30 * 24 * time.Hour

// OutcomeStore is the subset of the outcome store the API reads from.
type OutcomeStore interface {
	ListRecent(ctx context.Context, limit int) ([]models.OutcomeRecord, error)
	Statistics(ctx context.Context, window time.Duration) (*models.Statistics, error)
	Health(ctx context.Context) (*store.HealthStatus, error)
}

// Approver is the subset of the orchestrator the API invokes for manual
// approval and pending-queue size reporting.
type Approver interface {
	Approve(ctx context.Context, killID string) (outcome models.OutcomeType, found bool, err error)
	PendingCount() int
}

// ConfidenceReporter exposes the engine's live-adjusted auto-approval
// confidence floor for GET /stats.
type ConfidenceReporter interface {
	AutoMinConfidence() float64
}

// Server is the arbiter's HTTP API server, built on gin the way the
// teacher's cmd/tarsy wires gin.Default(), translated here into a
// dedicated Server type in the shape of the teacher's echo-based
// pkg/api/server.go (Set*-free: the arbiter has exactly three
// dependencies, all supplied at construction).
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	store      OutcomeStore
	approver   Approver
	confidence ConfidenceReporter
	startedAt  time.Time
}

// NewServer creates a new API server and registers its routes.
func NewServer(cfg *config.Config, store OutcomeStore, approver Approver, confidence ConfidenceReporter) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:     engine,
		cfg:        cfg,
		store:      store,
		approver:   approver,
		confidence: confidence,
		startedAt:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(timeoutMiddleware(requestTimeout))

	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/decisions/recent", s.recentDecisionsHandler)
	s.engine.GET("/stats", s.statsHandler)
	s.engine.POST("/approve/:kill_id", s.approveHandler)
}

// timeoutMiddleware caps request context lifetime; handlers that read from
// ctx (store queries, the approve path's resurrection call) observe the
// deadline.
func timeoutMiddleware(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	storeHealth, err := s.store.Health(c.Request.Context())
	status := "healthy"
	if err != nil {
		status = "unhealthy"
	}

	resp := HealthResponse{
		Status:         status,
		Version:        version.Full(),
		Mode:           string(s.cfg.Mode),
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		PendingReviews: s.approver.PendingCount(),
		Store:          storeHealth,
	}

	code := http.StatusOK
	if err != nil {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// recentDecisionsHandler handles GET /decisions/recent: the last 20
// outcome records, newest first.
func (s *Server) recentDecisionsHandler(c *gin.Context) {
	const limit = 20
	records, err := s.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, mapStoreError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": records})
}

// statsHandler handles GET /stats.
func (s *Server) statsHandler(c *gin.Context) {
	stats, err := s.store.Statistics(c.Request.Context(), statsWindow)
	if err != nil {
		writeError(c, mapStoreError(err))
		return
	}

	resp := StatsResponse{
		Statistics:        *stats,
		AutoMinConfidence: s.confidence.AutoMinConfidence(),
	}
	c.JSON(http.StatusOK, resp)
}

// approveHandler handles POST /approve/:kill_id.
func (s *Server) approveHandler(c *gin.Context) {
	killID := c.Param("kill_id")
	outcome, found, err := s.approver.Approve(c.Request.Context(), killID)
	if err != nil {
		writeError(c, mapApproveError(err))
		return
	}
	if !found {
		writeError(c, &apiError{status: http.StatusNotFound, message: "no pending review for this kill_id"})
		return
	}
	c.JSON(http.StatusOK, ApproveResponse{KillID: killID, OutcomeType: outcome})
}
