package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// StartCreatorMonitor launches a creator-monitor task on xhs.
func (s *Server) StartCreatorMonitor(c *gin.Context) {
	var req monitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	task, err := s.flows.StartCreatorMonitor(c.Request.Context(), tenantFrom(c), req.CreatorIDs, req.WindowDays)
	if err != nil {
		respondError(c, err)
		return
	}
	respondTaskStarted(c, task)
}

// StartTrendAnalysis launches a trend-analysis task on xhs.
func (s *Server) StartTrendAnalysis(c *gin.Context) {
	var req trendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	task, err := s.flows.StartTrendAnalysis(c.Request.Context(), tenantFrom(c), req.Keywords)
	if err != nil {
		respondError(c, err)
		return
	}
	respondTaskStarted(c, task)
}

// StartArticleAnalysis launches an article-analysis task on wechat_article.
func (s *Server) StartArticleAnalysis(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, services.NewValidationError("body", err.Error()))
		return
	}
	task, err := s.flows.StartArticleAnalysis(c.Request.Context(), tenantFrom(c), req.URLs, req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	respondTaskStarted(c, task)
}

func respondTaskStarted(c *gin.Context, task *models.Task) {
	respond(c, gin.H{
		"task_id":   task.ID,
		"task_type": task.TaskType,
		"status":    task.Status,
	})
}

// GetTask returns a task in agent-readable form. Tasks belonging to other
// tenants are reported as not found.
func (s *Server) GetTask(c *gin.Context) {
	task, err := s.ownedTask(c)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, s.tasks.AgentReadable(task))
}

// GetTaskLogs returns a page of a task's step logs starting at ?offset=N.
func (s *Server) GetTaskLogs(c *gin.Context) {
	task, err := s.ownedTask(c)
	if err != nil {
		respondError(c, err)
		return
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		respondError(c, services.NewValidationError("offset", "must be a non-negative integer"))
		return
	}

	logs := task.Logs
	total := len(logs)
	if offset > total {
		offset = total
	}
	respond(c, gin.H{
		"task_id": task.ID,
		"logs":    logs[offset:],
		"offset":  offset,
		"total":   total,
	})
}

// ListTasks lists the tenant's tasks, newest first. The source filter is
// forced to the authenticated tenant.
func (s *Server) ListTasks(c *gin.Context) {
	var filter models.TaskFilter
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&filter); err != nil {
			respondError(c, services.NewValidationError("body", err.Error()))
			return
		}
	}
	tenant := tenantFrom(c)
	filter.SourceID = tenant.SourceID

	tasks, err := s.tasks.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	owned := make([]*models.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Source == tenant.Source {
			owned = append(owned, task)
		}
	}
	respond(c, gin.H{"tasks": owned, "count": len(owned)})
}

// ownedTask loads the task in the path and enforces tenant ownership.
func (s *Server) ownedTask(c *gin.Context) (*models.Task, error) {
	task, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	tenant := tenantFrom(c)
	if task.Source != tenant.Source || task.SourceID != tenant.SourceID {
		return nil, services.ErrNotFound
	}
	return task, nil
}
