package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/sniper-hq/sniper/pkg/config"
	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

const (
	testKey      = "test-key"
	otherTestKey = "other-key"
)

// fakeConnScope is a canned ConnectorScope recording every call.
type fakeConnScope struct {
	mu sync.Mutex

	err    error // returned by every gated operation when set
	notes  []models.NoteCard
	detail []models.NoteDetail
	stream []connectors.DetailEvent
	login  *models.LoginResult

	confirmCalls [][2]string // platform, contextID
	closeErrs    []error
}

func (f *fakeConnScope) SearchAndExtract(context.Context, string, []string, int) ([]models.NoteCard, error) {
	return f.notes, f.err
}

func (f *fakeConnScope) GetNoteDetails(context.Context, string, []string, int) ([]models.NoteDetail, error) {
	return f.detail, f.err
}

func (f *fakeConnScope) StreamNoteDetails(context.Context, string, []string, int) (<-chan connectors.DetailEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan connectors.DetailEvent, len(f.stream))
	for _, ev := range f.stream {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeConnScope) HarvestUserContent(context.Context, string, []string, int) ([]models.CreatorContent, error) {
	return nil, f.err
}

func (f *fakeConnScope) PublishContent(_ context.Context, platform string, req models.PublishRequest) (*models.PublishResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.PublishResult{Success: true, Platform: platform, Content: req.Content}, nil
}

func (f *fakeConnScope) Login(context.Context, string, string, map[string]string) (*models.LoginResult, error) {
	return f.login, f.err
}

func (f *fakeConnScope) ConfirmLogin(_ context.Context, platform, contextID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls = append(f.confirmCalls, [2]string{platform, contextID})
	return f.err
}

func (f *fakeConnScope) Close(_ context.Context, runErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeErrs = append(f.closeErrs, runErr)
}

func (f *fakeConnScope) closed() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.closeErrs...)
}

// fakeWorkflows records workflow starts and resumes.
type fakeWorkflows struct {
	mu sync.Mutex

	task *models.Task
	err  error

	monitorIDs []string
	trendSeeds []string
	analyzeURL []string
	resumed    []string
}

func (f *fakeWorkflows) StartCreatorMonitor(_ context.Context, _ connectors.Tenant, creatorIDs []string, _ int) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitorIDs = append(f.monitorIDs, creatorIDs...)
	return f.task, f.err
}

func (f *fakeWorkflows) StartTrendAnalysis(_ context.Context, _ connectors.Tenant, keywords []string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trendSeeds = append(f.trendSeeds, keywords...)
	return f.task, f.err
}

func (f *fakeWorkflows) StartArticleAnalysis(_ context.Context, _ connectors.Tenant, urls []string, _ string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeURL = append(f.analyzeURL, urls...)
	return f.task, f.err
}

func (f *fakeWorkflows) Resume(_ context.Context, _ connectors.Tenant, taskID string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, taskID)
	return &models.Task{ID: taskID, Status: models.TaskStatusRunning}, nil
}

type apiFixture struct {
	tasks  *services.TaskService
	scope  *fakeConnScope
	flows  *fakeWorkflows
	router *gin.Engine
}

func newAPIFixture(t *testing.T, scope *fakeConnScope, flows *fakeWorkflows) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tasks := services.NewTaskService(services.NewMemoryTaskRepository())
	registry := connectors.NewRegistry(connectors.Deps{}, "")
	keys := map[string]config.Identity{
		testKey:      {Source: "acme", SourceID: "user-1"},
		otherTestKey: {Source: "acme", SourceID: "user-2"},
	}

	srv := NewServer(nil, nil, registry,
		func(connectors.Tenant) ConnectorScope { return scope },
		tasks, flows, keys)
	return &apiFixture{tasks: tasks, scope: scope, flows: flows, router: srv.Routes()}
}

// do performs one authenticated request and returns the recorder.
func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// testEnvelope is the decoded response body for assertions.
type testEnvelope struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return env
}

func ok(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	env := decodeEnvelope(t, rec)
	require.Equal(t, 0, env.Code)
	return env
}
