// Package api exposes the HTTP surface: connector operations, workflow
// starts, and task inspection. Every response uses the {code, message, data}
// envelope; all routes except /health require a bearer API key that resolves
// to a tenant identity.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sniper-hq/sniper/pkg/config"
	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/database"
	"github.com/sniper-hq/sniper/pkg/gate"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
	"github.com/sniper-hq/sniper/pkg/version"
)

// ConnectorScope is one request's gated view of the connectors. The handler
// opens a scope, runs the operation, and Closes it so held locks are
// released after the response (or after an SSE stream is drained).
// connectors.Service satisfies this.
type ConnectorScope interface {
	SearchAndExtract(ctx context.Context, platform string, keywords []string, limit int) ([]models.NoteCard, error)
	GetNoteDetails(ctx context.Context, platform string, urls []string, concurrency int) ([]models.NoteDetail, error)
	StreamNoteDetails(ctx context.Context, platform string, urls []string, concurrency int) (<-chan connectors.DetailEvent, error)
	HarvestUserContent(ctx context.Context, platform string, creatorIDs []string, limit int) ([]models.CreatorContent, error)
	PublishContent(ctx context.Context, platform string, req models.PublishRequest) (*models.PublishResult, error)
	Login(ctx context.Context, platform, method string, cookies map[string]string) (*models.LoginResult, error)
	ConfirmLogin(ctx context.Context, platform, contextID string) error
	Close(ctx context.Context, runErr error)
}

// ScopeFactory opens a request-scoped connector service for a tenant.
type ScopeFactory func(tenant connectors.Tenant) ConnectorScope

// Workflows is the slice of the orchestrators the API drives.
type Workflows interface {
	StartCreatorMonitor(ctx context.Context, tenant connectors.Tenant, creatorIDs []string, windowDays int) (*models.Task, error)
	StartTrendAnalysis(ctx context.Context, tenant connectors.Tenant, keywords []string) (*models.Task, error)
	StartArticleAnalysis(ctx context.Context, tenant connectors.Tenant, urls []string, mode string) (*models.Task, error)
	Resume(ctx context.Context, tenant connectors.Tenant, taskID string) (*models.Task, error)
}

// Server wires the HTTP handlers to their backing services.
type Server struct {
	db       *database.Client
	store    *gate.Store
	registry *connectors.Registry
	scopes   ScopeFactory
	tasks    *services.TaskService
	flows    Workflows
	apiKeys  map[string]config.Identity
	logger   *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server. db and store may be nil in tests; the
// health endpoint then reports only the dependencies it has.
func NewServer(db *database.Client, store *gate.Store, registry *connectors.Registry, scopes ScopeFactory, tasks *services.TaskService, flows Workflows, apiKeys map[string]config.Identity) *Server {
	return &Server{
		db:       db,
		store:    store,
		registry: registry,
		scopes:   scopes,
		tasks:    tasks,
		flows:    flows,
		apiKeys:  apiKeys,
		logger:   slog.Default().With("component", "api"),
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders(), requestLogger(s.logger))

	r.GET("/health", s.Health)

	conn := r.Group("/connectors", s.requireAuth)
	conn.POST("/extract-summary", s.ExtractSummary)
	conn.POST("/harvest", s.Harvest)
	conn.POST("/get-note-detail", s.GetNoteDetail)
	conn.POST("/search-and-extract", s.SearchAndExtract)
	conn.POST("/publish", s.Publish)
	conn.POST("/login", s.Login)
	conn.POST("/login/:platform/confirm", s.ConfirmLogin)
	conn.GET("/platforms", s.Platforms)

	sniper := r.Group("/sniper", s.requireAuth)
	sniper.POST("/xhs/harvest", s.StartCreatorMonitor)
	sniper.POST("/xhs/trend", s.StartTrendAnalysis)
	sniper.POST("/wechat/analyze", s.StartArticleAnalysis)
	sniper.GET("/task/:id", s.GetTask)
	sniper.GET("/task/:id/logs", s.GetTaskLogs)
	sniper.POST("/tasks", s.ListTasks)

	return r
}

// Start runs the HTTP server on addr. Blocks until shutdown or failure.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Health reports liveness of the database and the lock store.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy := true
	payload := gin.H{"version": version.Full()}

	if s.db != nil {
		dbHealth, err := database.Health(ctx, s.db.Pool())
		payload["database"] = dbHealth
		if err != nil {
			healthy = false
		}
	}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			healthy = false
			payload["redis"] = "unhealthy"
		} else {
			payload["redis"] = "healthy"
		}
	}

	if !healthy {
		payload["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, payload)
		return
	}
	payload["status"] = "healthy"
	c.JSON(http.StatusOK, payload)
}
