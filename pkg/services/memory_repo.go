package services

import (
	"context"
	"sort"
	"sync"

	"github.com/sniper-hq/sniper/pkg/models"
)

// MemoryTaskRepository is an in-memory TaskRepository used in tests and for
// single-node local development. It honours the same conditional-update
// contract as the Postgres repository.
type MemoryTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

// NewMemoryTaskRepository creates an empty in-memory repository.
func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{tasks: make(map[string]*models.Task)}
}

// Insert stores a copy of the task.
func (r *MemoryTaskRepository) Insert(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get returns a copy of the task, or ErrNotFound.
func (r *MemoryTaskRepository) Get(_ context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

// Update replaces the stored task iff its current status matches
// expectStatus.
func (r *MemoryTaskRepository) Update(_ context.Context, task *models.Task, expectStatus models.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status != expectStatus {
		return ErrConcurrentModification
	}
	r.tasks[task.ID] = cloneTask(task)
	return nil
}

// List returns tasks matching the filter, newest first.
func (r *MemoryTaskRepository) List(_ context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		if filter.SourceID != "" && task.SourceID != filter.SourceID {
			continue
		}
		if filter.Status != "" && string(task.Status) != filter.Status {
			continue
		}
		if filter.TaskType != "" && task.TaskType != filter.TaskType {
			continue
		}
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	if t.Result != nil {
		c.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			c.Result[k] = v
		}
	}
	c.Logs = make([]models.StepLog, len(t.Logs))
	copy(c.Logs, t.Logs)
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}
