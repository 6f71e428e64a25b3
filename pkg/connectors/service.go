package connectors

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sniper-hq/sniper/pkg/config"
	"github.com/sniper-hq/sniper/pkg/gate"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// Login methods accepted by Login.
const (
	LoginMethodCookie = "cookie"
	LoginMethodQR     = "qrcode"
)

// Service is one request's (or one task's) scoped view of the connectors.
// Every operation is admitted through the gate table — rate window first,
// then the per-tenant operation lock — and every acquired lock is held until
// Close. Construct one per request/task; never share across scopes.
type Service struct {
	registry *Registry
	store    *gate.Store
	table    config.GateTable
	tasks    *services.TaskService
	tenant   Tenant
	taskID   string

	// owner is the lock value written on every acquire: releases CAS on it,
	// so a lock that expired and was re-acquired elsewhere is never stolen.
	owner  string
	held   []heldLock
	logger *slog.Logger
}

type heldLock struct {
	key string
}

// NewService creates a per-scope connector service. tasks and taskID are
// optional: request-scoped operations with no backing task pass nil and "".
func NewService(registry *Registry, store *gate.Store, table config.GateTable, tasks *services.TaskService, tenant Tenant, taskID string) *Service {
	owner := taskID
	if owner == "" {
		owner = uuid.NewString()
	}
	return &Service{
		registry: registry,
		store:    store,
		table:    table,
		tasks:    tasks,
		tenant:   tenant,
		taskID:   taskID,
		owner:    owner,
		logger:   slog.Default().With("source", tenant.Source, "source_id", tenant.SourceID),
	}
}

// Tenant returns the identity this scope runs on behalf of.
func (s *Service) Tenant() Tenant { return s.tenant }

// SearchAndExtract runs keyword searches on a platform.
func (s *Service) SearchAndExtract(ctx context.Context, platform string, keywords []string, limit int) ([]models.NoteCard, error) {
	conn, err := s.admit(ctx, platform, OpSearchAndExtract)
	if err != nil {
		return nil, err
	}
	return conn.Search(ctx, s.tenant, keywords, limit)
}

// GetNoteDetails fetches full records for each URL.
func (s *Service) GetNoteDetails(ctx context.Context, platform string, urls []string, concurrency int) ([]models.NoteDetail, error) {
	conn, err := s.admit(ctx, platform, OpGetNoteDetail)
	if err != nil {
		return nil, err
	}
	return conn.NoteDetails(ctx, s.tenant, urls, concurrency)
}

// StreamNoteDetails is GetNoteDetails with results streamed in completion
// order. The operation lock stays held until Close, which must run after the
// stream is drained.
func (s *Service) StreamNoteDetails(ctx context.Context, platform string, urls []string, concurrency int) (<-chan DetailEvent, error) {
	conn, err := s.admit(ctx, platform, OpGetNoteDetail)
	if err != nil {
		return nil, err
	}
	return conn.StreamNoteDetails(ctx, s.tenant, urls, concurrency)
}

// HarvestUserContent collects recent content for each creator id.
func (s *Service) HarvestUserContent(ctx context.Context, platform string, creatorIDs []string, limit int) ([]models.CreatorContent, error) {
	conn, err := s.admit(ctx, platform, OpHarvestUserContent)
	if err != nil {
		return nil, err
	}
	return conn.HarvestUser(ctx, s.tenant, creatorIDs, limit)
}

// PublishContent posts through the platform's publish flow.
func (s *Service) PublishContent(ctx context.Context, platform string, req models.PublishRequest) (*models.PublishResult, error) {
	conn, err := s.admit(ctx, platform, OpPublishContent)
	if err != nil {
		return nil, err
	}
	return conn.Publish(ctx, s.tenant, req)
}

// Login runs a cookie or QR login on the platform.
func (s *Service) Login(ctx context.Context, platform, method string, cookies map[string]string) (*models.LoginResult, error) {
	conn, err := s.admit(ctx, platform, OpLogin)
	if err != nil {
		return nil, err
	}
	switch method {
	case LoginMethodCookie:
		return conn.LoginCookie(ctx, s.tenant, cookies)
	case LoginMethodQR, "":
		return conn.LoginQR(ctx, s.tenant)
	default:
		return nil, &services.ValidationError{Field: "method", Message: "login method must be cookie or qrcode"}
	}
}

// ConfirmLogin finishes a pending QR login. Not gated: the user already paid
// the login budget when the flow started.
func (s *Service) ConfirmLogin(ctx context.Context, platform, contextID string) error {
	conn, err := s.registry.Get(platform)
	if err != nil {
		return err
	}
	return conn.ConfirmLogin(ctx, contextID)
}

// admit checks the gate for (tenant, platform, operation) and resolves the
// connector. Operations absent from the table bypass gating. The rate window
// fails open on a store outage; the lock fails closed.
func (s *Service) admit(ctx context.Context, platform, operation string) (Connector, error) {
	conn, err := s.registry.Get(platform)
	if err != nil {
		return nil, err
	}

	rule, gated := s.table.Lookup(platform, operation)
	if !gated {
		return conn, nil
	}

	// A lock this scope already holds admits repeat calls: chunked work (the
	// detail batches of the creator monitor, say) is one admitted operation,
	// not a contender against itself.
	lockKey := gate.LockKey(s.tenant.Source, s.tenant.SourceID, platform, operation)
	for _, h := range s.held {
		if h.key == lockKey {
			return conn, nil
		}
	}

	rateKey := gate.RateKey(s.tenant.Source, s.tenant.SourceID, platform, operation)
	count, err := s.store.RateIncr(ctx, rateKey, rule.Window)
	if err == nil && count > int64(rule.MaxRequests) {
		return nil, &services.RateLimitError{Platform: platform, Operation: operation, Limit: rule.MaxRequests}
	}

	if !s.store.AcquireLock(ctx, lockKey, s.owner, rule.LockTimeout) {
		return nil, &services.LockConflictError{Platform: platform, Operation: operation}
	}
	s.held = append(s.held, heldLock{key: lockKey})
	return conn, nil
}

// Close ends the scope: releases every held lock in reverse acquisition
// order and, when a task backs this scope, applies the lifecycle coupling —
// a cancelled context marks the task cancelled, an error marks it failed,
// and a clean exit leaves the task to its own completion call.
func (s *Service) Close(ctx context.Context, runErr error) {
	// Lock release must proceed even when the scope's context is cancelled.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(s.held) - 1; i >= 0; i-- {
		s.store.ReleaseLock(releaseCtx, s.held[i].key, s.owner)
	}
	s.held = nil

	if s.tasks == nil || s.taskID == "" {
		return
	}

	switch {
	case ctx.Err() != nil:
		if _, err := s.tasks.Cancel(releaseCtx, s.taskID); err != nil && !terminalRace(err) {
			s.logger.Warn("Failed to cancel task on scope exit", "task_id", s.taskID, "error", err)
		}
	case runErr != nil:
		if _, err := s.tasks.Fail(releaseCtx, s.taskID, runErr.Error(), nil); err != nil && !terminalRace(err) {
			s.logger.Warn("Failed to mark task failed on scope exit", "task_id", s.taskID, "error", err)
		}
	}
}

// terminalRace reports whether a lifecycle write lost to another writer that
// already terminated the task (the sweeper, or the orchestrator's own
// complete call). Losing that race is fine.
func terminalRace(err error) bool {
	var transition *services.InvalidTransitionError
	return errors.Is(err, services.ErrConcurrentModification) || errors.As(err, &transition)
}
