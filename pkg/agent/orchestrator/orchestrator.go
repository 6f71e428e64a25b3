// Package orchestrator implements the long-running agent workflows: creator
// monitoring, trend analysis, and article analysis. Each workflow runs as a
// background task inside a connector-service scope, so gate locks are
// released and the task lifecycle is settled on every exit path.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sniper-hq/sniper/pkg/agent"
	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// Task types written to the task store.
const (
	TaskTypeCreatorMonitor  = "creator_monitor"
	TaskTypeTrendAnalysis   = "trend_analysis"
	TaskTypeArticleAnalysis = "article_analysis"
)

// ConnectorScope is the slice of the connector service the workflows use.
// One scope per task; Close settles locks and the task lifecycle.
type ConnectorScope interface {
	SearchAndExtract(ctx context.Context, platform string, keywords []string, limit int) ([]models.NoteCard, error)
	GetNoteDetails(ctx context.Context, platform string, urls []string, concurrency int) ([]models.NoteDetail, error)
	HarvestUserContent(ctx context.Context, platform string, creatorIDs []string, limit int) ([]models.CreatorContent, error)
	Login(ctx context.Context, platform, method string, cookies map[string]string) (*models.LoginResult, error)
	Close(ctx context.Context, runErr error)
}

// ScopeFactory opens a connector-service scope for one task.
type ScopeFactory func(tenant connectors.Tenant, taskID string) ConnectorScope

// KeywordPlanner expands seed keywords into search terms.
type KeywordPlanner interface {
	ExpandKeywords(ctx context.Context, seeds []string) []string
}

// Orchestrators wires the workflows to their dependencies and the background
// runner.
type Orchestrators struct {
	tasks       *services.TaskService
	scopes      ScopeFactory
	planner     KeywordPlanner
	llm         agent.Runner
	runner      *Runner
	taskTimeout time.Duration
	logger      *slog.Logger
}

func New(tasks *services.TaskService, scopes ScopeFactory, planner KeywordPlanner, llm agent.Runner, runner *Runner, taskTimeout time.Duration) *Orchestrators {
	return &Orchestrators{
		tasks:       tasks,
		scopes:      scopes,
		planner:     planner,
		llm:         llm,
		runner:      runner,
		taskTimeout: taskTimeout,
		logger:      slog.Default().With("component", "orchestrator"),
	}
}

// Runner exposes the background runner for shutdown draining.
func (o *Orchestrators) Runner() *Runner { return o.runner }

// start creates the task record and launches the workflow in the background.
func (o *Orchestrators) start(ctx context.Context, tenant connectors.Tenant, taskType string, run func(ctx context.Context, taskID string)) (*models.Task, error) {
	task, err := o.tasks.Create(ctx, tenant.Source, tenant.SourceID, taskType, o.taskTimeout)
	if err != nil {
		return nil, err
	}
	if err := o.runner.Launch(task.ID, func(ctx context.Context) {
		run(ctx, task.ID)
	}); err != nil {
		_, _ = o.tasks.Fail(ctx, task.ID, err.Error(), nil)
		return nil, err
	}
	o.logger.Info("Task launched", "task_id", task.ID, "task_type", taskType,
		"source", tenant.Source, "source_id", tenant.SourceID)
	return task, nil
}

// runScoped is the shared workflow shell: open the scope, move the task to
// running, execute, and let Close settle the exit (release locks; cancelled
// context → cancelled, error → failed, otherwise the workflow already
// completed or parked the task itself).
func (o *Orchestrators) runScoped(ctx context.Context, tenant connectors.Tenant, taskID string, work func(ctx context.Context, scope ConnectorScope) error) {
	scope := o.scopes(tenant, taskID)
	var runErr error
	defer func() { scope.Close(ctx, runErr) }()

	if _, err := o.tasks.Start(ctx, taskID); err != nil {
		runErr = err
		return
	}
	runErr = work(ctx, scope)
	if runErr != nil {
		o.logger.Warn("Task workflow failed", "task_id", taskID, "error", runErr)
	}
}

// Resume restarts a task parked in waiting_login after the user confirmed
// the platform login. The workflow's inputs are recovered from its init step
// log. Only trend analysis parks on login today.
func (o *Orchestrators) Resume(ctx context.Context, tenant connectors.Tenant, taskID string) (*models.Task, error) {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.TaskType != TaskTypeTrendAnalysis {
		return nil, services.NewValidationError("task_id",
			fmt.Sprintf("task type %s cannot be resumed", task.TaskType))
	}
	seeds := initKeywords(task)
	if len(seeds) == 0 {
		return nil, services.NewValidationError("task_id", "task has no recorded seed keywords")
	}

	task, err = o.tasks.Resume(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := o.runner.Launch(taskID, func(ctx context.Context) {
		scope := o.scopes(tenant, taskID)
		var runErr error
		defer func() { scope.Close(ctx, runErr) }()
		runErr = o.runTrend(ctx, scope, taskID, seeds)
		if runErr != nil {
			o.logger.Warn("Resumed task failed", "task_id", taskID, "error", runErr)
		}
	}); err != nil {
		return nil, err
	}
	o.logger.Info("Task resumed after login", "task_id", taskID)
	return task, nil
}

// initKeywords recovers the seed keywords a trend task was started with from
// its init step log.
func initKeywords(task *models.Task) []string {
	for _, log := range task.Logs {
		if log.Step != 1 {
			continue
		}
		raw, _ := log.Input["keywords"].([]any)
		seeds := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				seeds = append(seeds, s)
			}
		}
		if len(seeds) > 0 {
			return seeds
		}
		// In-memory repositories hand the slice back untouched.
		if typed, ok := log.Input["keywords"].([]string); ok {
			return typed
		}
	}
	return nil
}

// logStep records a step, warning instead of failing the workflow when the
// write does not stick.
func (o *Orchestrators) logStep(ctx context.Context, taskID string, step int, name string, input, output map[string]any) {
	if err := o.tasks.LogStep(ctx, taskID, step, name, input, output, "completed"); err != nil {
		o.logger.Warn("Step log write failed", "task_id", taskID, "step", step, "error", err)
	}
}

func (o *Orchestrators) setProgress(ctx context.Context, taskID string, progress int) {
	if err := o.tasks.SetProgress(ctx, taskID, progress); err != nil {
		o.logger.Warn("Progress write failed", "task_id", taskID, "error", err)
	}
}
