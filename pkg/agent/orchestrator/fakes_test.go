package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// fakeScope is a canned ConnectorScope recording every call. Close mirrors
// the production lifecycle coupling so workflow errors surface as failed
// tasks in these tests too.
type fakeScope struct {
	mu sync.Mutex

	tasks  *services.TaskService
	taskID string

	loginResult *models.LoginResult
	loginErr    error
	cards       []models.NoteCard
	harvested   []models.CreatorContent
	details     map[string]models.NoteDetail

	searchCalls  int
	harvestCalls int
	detailCalls  [][]string
	closeRunErrs []error
}

func (f *fakeScope) SearchAndExtract(_ context.Context, _ string, _ []string, _ int) ([]models.NoteCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	return f.cards, nil
}

func (f *fakeScope) GetNoteDetails(_ context.Context, _ string, urls []string, _ int) ([]models.NoteDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls = append(f.detailCalls, append([]string(nil), urls...))
	out := make([]models.NoteDetail, 0, len(urls))
	for _, u := range urls {
		if d, ok := f.details[u]; ok {
			out = append(out, d)
		} else {
			out = append(out, models.NoteDetail{FullURL: u, Success: false, Error: "not found"})
		}
	}
	return out, nil
}

func (f *fakeScope) HarvestUserContent(_ context.Context, _ string, _ []string, _ int) ([]models.CreatorContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.harvestCalls++
	return f.harvested, nil
}

func (f *fakeScope) Login(_ context.Context, _, _ string, _ map[string]string) (*models.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginResult, f.loginErr
}

func (f *fakeScope) Close(_ context.Context, runErr error) {
	f.mu.Lock()
	f.closeRunErrs = append(f.closeRunErrs, runErr)
	tasks, taskID := f.tasks, f.taskID
	f.mu.Unlock()

	if runErr != nil && tasks != nil && taskID != "" {
		_, _ = tasks.Fail(context.Background(), taskID, runErr.Error(), nil)
	}
}

func (f *fakeScope) searched() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

func (f *fakeScope) detailedURLs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.detailCalls...)
}

// fakePlanner echoes the seeds with one expansion appended.
type fakePlanner struct{}

func (fakePlanner) ExpandKeywords(_ context.Context, seeds []string) []string {
	out := append([]string(nil), seeds...)
	if len(out) < 3 {
		out = append(out, seeds[0]+" tips")
	}
	return out
}

// fakeLLM returns a fixed completion.
type fakeLLM struct {
	response string
	err      error
}

func (f fakeLLM) Run(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fixture struct {
	tasks *services.TaskService
	scope *fakeScope
	orch  *Orchestrators
}

func newFixture(scope *fakeScope, llm fakeLLM) *fixture {
	tasks := services.NewTaskService(services.NewMemoryTaskRepository())
	orch := New(tasks,
		func(_ connectors.Tenant, taskID string) ConnectorScope {
			scope.mu.Lock()
			scope.tasks = tasks
			scope.taskID = taskID
			scope.mu.Unlock()
			return scope
		},
		fakePlanner{}, llm, NewRunner(), time.Minute)
	return &fixture{tasks: tasks, scope: scope, orch: orch}
}

var testTenant = connectors.Tenant{Source: "acme", SourceID: "user-1"}

func loggedIn() *models.LoginResult {
	return &models.LoginResult{IsLoggedIn: true, ContextID: "xhs-context:acme-user-1"}
}

func loginPending() *models.LoginResult {
	return &models.LoginResult{
		IsLoggedIn:     false,
		ContextID:      "xhs-context:acme-user-1",
		QRCodeURL:      "https://viewer.fake/qr",
		ResourceURL:    "https://viewer.fake/qr",
		TimeoutSeconds: 300,
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
