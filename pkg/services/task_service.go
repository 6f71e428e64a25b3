package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sniper-hq/sniper/pkg/models"
)

// TaskRepository is the persistence boundary for tasks. Update is
// conditional on the caller's view of the current status so that two writers
// (orchestrator and timeout sweeper) cannot both move a task out of the same
// state; the loser gets ErrConcurrentModification.
type TaskRepository interface {
	Insert(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task, expectStatus models.TaskStatus) error
	List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error)
}

// TaskService owns the task state machine. Every mutation persists before
// returning; writes to one task are serialized by a per-task mutex.
type TaskService struct {
	repo TaskRepository

	mu     sync.Mutex
	byTask map[string]*sync.Mutex
}

// NewTaskService creates a TaskService over the given repository.
func NewTaskService(repo TaskRepository) *TaskService {
	if repo == nil {
		panic("services: TaskRepository is required")
	}
	return &TaskService{
		repo:   repo,
		byTask: make(map[string]*sync.Mutex),
	}
}

// Create persists a new pending task and returns it.
func (s *TaskService) Create(ctx context.Context, source, sourceID, taskType string, timeout time.Duration) (*models.Task, error) {
	if taskType == "" {
		return nil, NewValidationError("task_type", "required")
	}
	task := &models.Task{
		ID:             uuid.NewString(),
		Source:         source,
		SourceID:       sourceID,
		TaskType:       taskType,
		Status:         models.TaskStatusPending,
		Progress:       0,
		Logs:           []models.StepLog{},
		TimeoutSeconds: int(timeout.Seconds()),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// Get returns a task by id.
func (s *TaskService) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.repo.Get(ctx, id)
}

// List returns tasks matching the filter, newest first.
func (s *TaskService) List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	return s.repo.List(ctx, filter)
}

// Start moves a pending task to running and stamps started_at.
func (s *TaskService) Start(ctx context.Context, id string) (*models.Task, error) {
	return s.transition(ctx, id, models.TaskStatusRunning, func(t *models.Task) {
		now := time.Now().UTC()
		t.StartedAt = &now
	})
}

// WaitingLogin parks a running task until the user completes a platform
// login. The login info is stored on the result under login_required=true.
func (s *TaskService) WaitingLogin(ctx context.Context, id string, info map[string]any) (*models.Task, error) {
	return s.transition(ctx, id, models.TaskStatusWaitingLogin, func(t *models.Task) {
		if t.Result == nil {
			t.Result = make(map[string]any)
		}
		t.Result["login_required"] = true
		for k, v := range info {
			t.Result[k] = v
		}
	})
}

// Resume moves a waiting_login task back to running after the user confirmed
// the platform login.
func (s *TaskService) Resume(ctx context.Context, id string) (*models.Task, error) {
	unlock := s.lockTask(id)
	defer unlock()

	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusWaitingLogin {
		return nil, &InvalidTransitionError{TaskID: id, From: string(task.Status), To: string(models.TaskStatusRunning)}
	}
	prev := task.Status
	task.Status = models.TaskStatusRunning
	delete(task.Result, "login_required")
	if err := s.repo.Update(ctx, task, prev); err != nil {
		return nil, err
	}
	return task, nil
}

// Complete finishes a task with its result and forces progress to 100.
func (s *TaskService) Complete(ctx context.Context, id string, result map[string]any) (*models.Task, error) {
	return s.transition(ctx, id, models.TaskStatusCompleted, func(t *models.Task) {
		t.Progress = 100
		t.Result = result
	})
}

// Fail terminates a task with an error message. When progress is non-nil it
// records how far the task got before failing.
func (s *TaskService) Fail(ctx context.Context, id, errText string, progress *int) (*models.Task, error) {
	return s.transition(ctx, id, models.TaskStatusFailed, func(t *models.Task) {
		t.Error = errText
		if progress != nil && *progress > t.Progress {
			t.Progress = *progress
		}
	})
}

// Cancel terminates a task in response to a cancellation signal.
func (s *TaskService) Cancel(ctx context.Context, id string) (*models.Task, error) {
	return s.transition(ctx, id, models.TaskStatusCancelled, nil)
}

// SetProgress raises the progress of a non-terminal task. Decreases are
// ignored: progress is monotonic until the task terminates.
func (s *TaskService) SetProgress(ctx context.Context, id string, progress int) error {
	unlock := s.lockTask(id)
	defer unlock()

	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status.Terminal() || progress <= task.Progress {
		return nil
	}
	if progress > 100 {
		progress = 100
	}
	task.Progress = progress
	return s.repo.Update(ctx, task, task.Status)
}

// LogStep appends a step record, or updates in place when the step number
// was already logged. Terminal tasks reject log writes: their logs are
// immutable.
func (s *TaskService) LogStep(ctx context.Context, id string, step int, name string, input, output map[string]any, status string) error {
	unlock := s.lockTask(id)
	defer unlock()

	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is %s: logs are immutable", id, task.Status)
	}

	entry := models.StepLog{
		Step:      step,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Input:     input,
		Output:    output,
		Status:    status,
	}
	updated := false
	for i := range task.Logs {
		if task.Logs[i].Step == step {
			task.Logs[i] = entry
			updated = true
			break
		}
	}
	if !updated {
		task.Logs = append(task.Logs, entry)
	}
	return s.repo.Update(ctx, task, task.Status)
}

// AgentReadable renders a task for LLM or end-user consumption: raw state
// plus a natural-language summary and a status-dependent next-step hint.
func (s *TaskService) AgentReadable(task *models.Task) models.AgentReadableTask {
	return models.AgentReadableTask{
		TaskID:       task.ID,
		Status:       task.Status,
		Progress:     task.Progress,
		Summary:      summarize(task),
		Logs:         task.Logs,
		Result:       task.Result,
		Error:        task.Error,
		NextStepHint: nextStepHint(task.Status),
	}
}

// transition applies one edge of the status DAG under the per-task lock.
// mutate runs after the status change and before persistence.
func (s *TaskService) transition(ctx context.Context, id string, next models.TaskStatus, mutate func(*models.Task)) (*models.Task, error) {
	unlock := s.lockTask(id)
	defer unlock()

	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.Status.CanTransition(next) {
		return nil, &InvalidTransitionError{TaskID: id, From: string(task.Status), To: string(next)}
	}

	prev := task.Status
	task.Status = next
	if mutate != nil {
		mutate(task)
	}
	if next.Terminal() {
		now := time.Now().UTC()
		task.CompletedAt = &now
	}
	if err := s.repo.Update(ctx, task, prev); err != nil {
		return nil, err
	}
	if next.Terminal() {
		s.forgetTask(id)
	}
	return task, nil
}

func (s *TaskService) lockTask(id string) func() {
	s.mu.Lock()
	m, ok := s.byTask[id]
	if !ok {
		m = &sync.Mutex{}
		s.byTask[id] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *TaskService) forgetTask(id string) {
	s.mu.Lock()
	delete(s.byTask, id)
	s.mu.Unlock()
}

func summarize(t *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s is %s at %d%% progress.", t.TaskType, t.Status, t.Progress)

	if n := len(t.Logs); n > 0 {
		names := make([]string, 0, n)
		for _, l := range t.Logs {
			names = append(names, l.Name)
		}
		fmt.Fprintf(&b, " %d steps recorded: %s.", n, strings.Join(names, ", "))
	}

	if t.Error != "" {
		fmt.Fprintf(&b, " Error: %s.", t.Error)
	}

	if len(t.Result) > 0 {
		if raw, err := json.Marshal(t.Result); err == nil {
			head := string(raw)
			if len(head) > 200 {
				head = head[:200] + "..."
			}
			fmt.Fprintf(&b, " Result: %s", head)
		}
	}
	return b.String()
}

func nextStepHint(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusPending:
		return "task is queued and will start shortly; poll task status"
	case models.TaskStatusRunning:
		return "task is in progress; poll task status for updates"
	case models.TaskStatusWaitingLogin:
		return "task awaits login, complete platform login to continue"
	case models.TaskStatusCompleted:
		return "task finished; read the result"
	case models.TaskStatusFailed:
		return "task failed; inspect the error before retrying"
	case models.TaskStatusCancelled:
		return "task was cancelled; start a new task if still needed"
	default:
		return ""
	}
}
