package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

func TestStartTrendAnalysis(t *testing.T) {
	flows := &fakeWorkflows{task: &models.Task{
		ID:       "task-1",
		TaskType: "trend_analysis",
		Status:   models.TaskStatusPending,
	}}
	f := newAPIFixture(t, &fakeConnScope{}, flows)

	env := ok(t, f.do(t, http.MethodPost, "/sniper/xhs/trend", testKey,
		map[string]any{"keywords": []string{"coffee", "espresso"}}))
	assert.Equal(t, "task-1", env.Data["task_id"])
	assert.Equal(t, "pending", env.Data["status"])
	assert.Equal(t, []string{"coffee", "espresso"}, flows.trendSeeds)
}

func TestStartCreatorMonitor(t *testing.T) {
	flows := &fakeWorkflows{task: &models.Task{
		ID:       "task-2",
		TaskType: "creator_monitor",
		Status:   models.TaskStatusPending,
	}}
	f := newAPIFixture(t, &fakeConnScope{}, flows)

	env := ok(t, f.do(t, http.MethodPost, "/sniper/xhs/harvest", testKey,
		map[string]any{"creator_ids": []string{"c1", "c2"}}))
	assert.Equal(t, "task-2", env.Data["task_id"])
	assert.Equal(t, []string{"c1", "c2"}, flows.monitorIDs)
}

func TestStartArticleAnalysis(t *testing.T) {
	flows := &fakeWorkflows{task: &models.Task{
		ID:       "task-3",
		TaskType: "article_analysis",
		Status:   models.TaskStatusPending,
	}}
	f := newAPIFixture(t, &fakeConnScope{}, flows)

	env := ok(t, f.do(t, http.MethodPost, "/sniper/wechat/analyze", testKey,
		map[string]any{"urls": []string{"https://mp/a"}, "mode": "quick"}))
	assert.Equal(t, "task-3", env.Data["task_id"])
	assert.Equal(t, []string{"https://mp/a"}, flows.analyzeURL)
}

func TestStartWorkflowValidationError(t *testing.T) {
	flows := &fakeWorkflows{err: services.NewValidationError("keywords", "at least one seed keyword is required")}
	f := newAPIFixture(t, &fakeConnScope{}, flows)

	rec := f.do(t, http.MethodPost, "/sniper/xhs/trend", testKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 422, decodeEnvelope(t, rec).Code)
}

func TestGetTaskAgentReadable(t *testing.T) {
	f := newAPIFixture(t, &fakeConnScope{}, &fakeWorkflows{})
	ctx := context.Background()

	task, err := f.tasks.Create(ctx, "acme", "user-1", "trend_analysis", 0)
	require.NoError(t, err)

	env := ok(t, f.do(t, http.MethodGet, "/sniper/task/"+task.ID, testKey, nil))
	assert.Equal(t, task.ID, env.Data["task_id"])
	assert.Equal(t, "pending", env.Data["status"])
	assert.NotEmpty(t, env.Data["summary"])
	assert.NotEmpty(t, env.Data["next_step_hint"])
}

func TestGetTaskHidesOtherTenants(t *testing.T) {
	f := newAPIFixture(t, &fakeConnScope{}, &fakeWorkflows{})
	ctx := context.Background()

	task, err := f.tasks.Create(ctx, "acme", "user-2", "trend_analysis", 0)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/sniper/task/"+task.ID, testKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 404, decodeEnvelope(t, rec).Code)
}

func TestGetTaskUnknownID(t *testing.T) {
	f := newAPIFixture(t, &fakeConnScope{}, &fakeWorkflows{})

	rec := f.do(t, http.MethodGet, "/sniper/task/no-such-task", testKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskLogsPagination(t *testing.T) {
	f := newAPIFixture(t, &fakeConnScope{}, &fakeWorkflows{})
	ctx := context.Background()

	task, err := f.tasks.Create(ctx, "acme", "user-1", "trend_analysis", 0)
	require.NoError(t, err)
	_, err = f.tasks.Start(ctx, task.ID)
	require.NoError(t, err)
	for step := 1; step <= 3; step++ {
		require.NoError(t, f.tasks.LogStep(ctx, task.ID, step, "step", nil, nil, "completed"))
	}

	env := ok(t, f.do(t, http.MethodGet, "/sniper/task/"+task.ID+"/logs?offset=2", testKey, nil))
	assert.Equal(t, float64(3), env.Data["total"])
	assert.Equal(t, float64(2), env.Data["offset"])
	logs, _ := env.Data["logs"].([]any)
	assert.Len(t, logs, 1)

	env = ok(t, f.do(t, http.MethodGet, "/sniper/task/"+task.ID+"/logs?offset=10", testKey, nil))
	logs, _ = env.Data["logs"].([]any)
	assert.Empty(t, logs)

	rec := f.do(t, http.MethodGet, "/sniper/task/"+task.ID+"/logs?offset=-1", testKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTasksScopedToTenant(t *testing.T) {
	f := newAPIFixture(t, &fakeConnScope{}, &fakeWorkflows{})
	ctx := context.Background()

	mine, err := f.tasks.Create(ctx, "acme", "user-1", "trend_analysis", 0)
	require.NoError(t, err)
	_, err = f.tasks.Create(ctx, "acme", "user-2", "trend_analysis", 0)
	require.NoError(t, err)
	// Same source_id under a different source must stay invisible.
	_, err = f.tasks.Create(ctx, "rival", "user-1", "trend_analysis", 0)
	require.NoError(t, err)

	env := ok(t, f.do(t, http.MethodPost, "/sniper/tasks", testKey, map[string]any{}))
	assert.Equal(t, float64(1), env.Data["count"])
	tasks, _ := env.Data["tasks"].([]any)
	require.Len(t, tasks, 1)
	first, _ := tasks[0].(map[string]any)
	assert.Equal(t, mine.ID, first["task_id"])
}

func TestListTasksStatusFilter(t *testing.T) {
	f := newAPIFixture(t, &fakeConnScope{}, &fakeWorkflows{})
	ctx := context.Background()

	pending, err := f.tasks.Create(ctx, "acme", "user-1", "trend_analysis", 0)
	require.NoError(t, err)
	running, err := f.tasks.Create(ctx, "acme", "user-1", "creator_monitor", 0)
	require.NoError(t, err)
	_, err = f.tasks.Start(ctx, running.ID)
	require.NoError(t, err)

	env := ok(t, f.do(t, http.MethodPost, "/sniper/tasks", testKey,
		map[string]any{"status": "pending"}))
	tasks, _ := env.Data["tasks"].([]any)
	require.Len(t, tasks, 1)
	first, _ := tasks[0].(map[string]any)
	assert.Equal(t, pending.ID, first["task_id"])
}
