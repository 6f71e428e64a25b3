package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrUnauthorized is returned for a missing or invalid API credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConcurrentModification is returned when a conditional task update
	// touches a row whose status changed underneath it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrSessionCreation is returned when the remote browser provider fails
	// to allocate a session.
	ErrSessionCreation = errors.New("browser session creation failed")

	// ErrBrowserInit is returned when session fingerprint/stealth
	// initialization fails.
	ErrBrowserInit = errors.New("browser initialization failed")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InvalidTransitionError reports an illegal task status transition.
type InvalidTransitionError struct {
	TaskID string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
}

// RateLimitError is returned when the fixed-window rate counter for a
// tenant+platform+operation key is over budget.
type RateLimitError struct {
	Platform  string
	Operation string
	Limit     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s %s (max %d per window)", e.Platform, e.Operation, e.Limit)
}

// LockConflictError is returned when another task already holds the
// operation lock for the same tenant.
type LockConflictError struct {
	Platform  string
	Operation string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("another task for this tenant is already running %s on %s", e.Operation, e.Platform)
}

// ContextNotFoundError is returned when an operation requires a persisted
// platform login and no browser context exists for the tenant.
type ContextNotFoundError struct {
	Platform  string
	ContextID string
}

func (e *ContextNotFoundError) Error() string {
	return fmt.Sprintf("no login context for platform %s (context %s); log in first", e.Platform, e.ContextID)
}

// NotLoggedInError is the task-level login requirement: unlike
// ContextNotFoundError it carries a viewer URL the user can open to log in.
type NotLoggedInError struct {
	Platform    string
	ContextID   string
	ResourceURL string
}

func (e *NotLoggedInError) Error() string {
	return fmt.Sprintf("platform %s requires login (context %s)", e.Platform, e.ContextID)
}

// NotImplementedError is returned when a platform connector does not support
// the requested operation.
type NotImplementedError struct {
	Platform  string
	Operation string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("platform %s does not support %s", e.Platform, e.Operation)
}
