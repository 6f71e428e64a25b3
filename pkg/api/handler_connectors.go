package api

import (
	"context"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

const defaultStreamConcurrency = 2

// withScope runs one gated connector operation inside a request scope and
// releases the scope's locks before responding.
func (s *Server) withScope(c *gin.Context, fn func(ctx context.Context, scope ConnectorScope) (any, error)) {
	ctx := c.Request.Context()
	scope := s.scopes(tenantFrom(c))
	data, err := fn(ctx, scope)
	scope.Close(ctx, err)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, data)
}

// SearchAndExtract runs multi-keyword search on a platform.
func (s *Server) SearchAndExtract(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.Platform == "" || len(req.Keywords) == 0 {
		respondError(c, services.NewValidationError("keywords", "platform and keywords are required"))
		return
	}
	s.withScope(c, func(ctx context.Context, scope ConnectorScope) (any, error) {
		notes, err := scope.SearchAndExtract(ctx, req.Platform, req.Keywords, req.Limit)
		if err != nil {
			return nil, err
		}
		return gin.H{"notes": notes, "count": len(notes)}, nil
	})
}

// Harvest collects recent content for each creator id.
func (s *Server) Harvest(c *gin.Context) {
	var req harvestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.Platform == "" || len(req.CreatorIDs) == 0 {
		respondError(c, services.NewValidationError("creator_ids", "platform and creator_ids are required"))
		return
	}
	s.withScope(c, func(ctx context.Context, scope ConnectorScope) (any, error) {
		creators, err := scope.HarvestUserContent(ctx, req.Platform, req.CreatorIDs, req.Limit)
		if err != nil {
			return nil, err
		}
		return gin.H{"creators": creators}, nil
	})
}

// GetNoteDetail fetches full records for each URL, blocking until all done.
func (s *Server) GetNoteDetail(c *gin.Context) {
	var req noteDetailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.Platform == "" || len(req.URLs) == 0 {
		respondError(c, services.NewValidationError("urls", "platform and urls are required"))
		return
	}
	s.withScope(c, func(ctx context.Context, scope ConnectorScope) (any, error) {
		notes, err := scope.GetNoteDetails(ctx, req.Platform, req.URLs, defaultStreamConcurrency)
		if err != nil {
			return nil, err
		}
		return gin.H{"notes": notes}, nil
	})
}

// Publish posts content through the platform's agent-driven publish flow.
func (s *Server) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.Platform == "" || req.Content == "" {
		respondError(c, services.NewValidationError("content", "platform and content are required"))
		return
	}
	s.withScope(c, func(ctx context.Context, scope ConnectorScope) (any, error) {
		return scope.PublishContent(ctx, req.Platform, models.PublishRequest{
			Content:     req.Content,
			ContentType: req.ContentType,
			Images:      req.Images,
			Tags:        req.Tags,
		})
	})
}

// Login starts a cookie or QR login on a platform.
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.Platform == "" {
		respondError(c, services.NewValidationError("platform", "required"))
		return
	}
	s.withScope(c, func(ctx context.Context, scope ConnectorScope) (any, error) {
		return scope.Login(ctx, req.Platform, req.Method, req.Cookies)
	})
}

// ConfirmLogin finishes a pending QR login, then resumes any of the tenant's
// tasks that parked in waiting_login for that platform.
func (s *Server) ConfirmLogin(c *gin.Context) {
	platform := c.Param("platform")
	var req confirmLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.ContextID == "" {
		respondError(c, services.NewValidationError("context_id", "required"))
		return
	}

	ctx := c.Request.Context()
	tenant := tenantFrom(c)
	scope := s.scopes(tenant)
	err := scope.ConfirmLogin(ctx, platform, req.ContextID)
	scope.Close(ctx, err)
	if err != nil {
		respondError(c, err)
		return
	}

	resumed := s.resumeWaitingTasks(ctx, tenant)
	respond(c, gin.H{"context_id": req.ContextID, "confirmed": true, "resumed_tasks": resumed})
}

// resumeWaitingTasks relaunches the tenant's waiting_login trend tasks after
// a confirmed login. Resume failures are logged, not surfaced: the login
// confirmation itself succeeded.
func (s *Server) resumeWaitingTasks(ctx context.Context, tenant connectors.Tenant) []string {
	tasks, err := s.tasks.List(ctx, models.TaskFilter{
		SourceID: tenant.SourceID,
		Status:   string(models.TaskStatusWaitingLogin),
	})
	if err != nil {
		s.logger.Warn("Failed to list waiting tasks after login", "source_id", tenant.SourceID, "error", err)
		return nil
	}

	resumed := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if task.Source != tenant.Source {
			continue
		}
		if _, err := s.flows.Resume(ctx, tenant, task.ID); err != nil {
			s.logger.Warn("Failed to resume task after login", "task_id", task.ID, "error", err)
			continue
		}
		resumed = append(resumed, task.ID)
	}
	return resumed
}

// Platforms serves the static capability manifest.
func (s *Server) Platforms(c *gin.Context) {
	respond(c, gin.H{"platforms": s.registry.Manifest()})
}

// streamFrame is one SSE payload: the event type plus its data.
type streamFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExtractSummary streams per-URL extraction results as SSE events. The
// operation lock stays held until the stream is drained, then the scope is
// closed.
func (s *Server) ExtractSummary(c *gin.Context) {
	var req extractSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	if req.Platform == "" || len(req.URLs) == 0 {
		respondError(c, services.NewValidationError("urls", "platform and urls are required"))
		return
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = defaultStreamConcurrency
	}

	ctx := c.Request.Context()
	scope := s.scopes(tenantFrom(c))
	events, err := scope.StreamNoteDetails(ctx, req.Platform, req.URLs, concurrency)
	if err != nil {
		scope.Close(ctx, err)
		respondError(c, err)
		return
	}
	defer scope.Close(ctx, nil)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	total := len(req.URLs)
	writeFrame(c, streamFrame{Type: "start", Data: gin.H{"total": total, "platform": req.Platform}})

	current, successes := 0, 0
	for ev := range events {
		current++
		if ev.Detail.Success {
			successes++
		}
		writeFrame(c, streamFrame{Type: "result", Data: gin.H{
			"record": ev.Detail,
			"progress": gin.H{
				"current":       current,
				"total":         total,
				"success_count": successes,
			},
		}})
	}

	if err := ctx.Err(); err != nil {
		writeFrame(c, streamFrame{Type: "error", Data: gin.H{"message": err.Error()}})
		return
	}
	writeFrame(c, streamFrame{Type: "complete", Data: gin.H{
		"total":         total,
		"success_count": successes,
		"failed_count":  total - successes,
	}})
}

func writeFrame(c *gin.Context, frame streamFrame) {
	if err := sse.Encode(c.Writer, sse.Event{Data: frame}); err != nil {
		return
	}
	c.Writer.Flush()
}
