package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sniper-hq/sniper/pkg/services"
)

// Business result codes carried in the response envelope. The envelope code
// is distinct from the HTTP status: clients branch on the envelope.
const (
	codeOK            = 0
	codeBadRequest    = 400
	codeUnauthorized  = 401
	codeNotFound      = 404
	codeValidation    = 422
	codeInternal      = 500
	codeLoginRequired = 604
)

// envelope is the uniform response body: code=0 on success, a business code
// plus message otherwise.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: codeOK, Message: "ok", Data: data})
}

// respondError maps a service error to its HTTP status and envelope.
func respondError(c *gin.Context, err error) {
	status, body := mapServiceError(err)
	c.JSON(status, body)
}

// mapServiceError translates the service error taxonomy into transport terms.
// HTTP status and envelope code diverge deliberately for the gate errors:
// the HTTP layer signals retry semantics while the business code stays 400.
func mapServiceError(err error) (int, envelope) {
	var validation *services.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, envelope{Code: codeValidation, Message: validation.Error()}
	}

	var rateLimit *services.RateLimitError
	if errors.As(err, &rateLimit) {
		return http.StatusTooManyRequests, envelope{Code: codeBadRequest, Message: rateLimit.Error()}
	}

	var lockConflict *services.LockConflictError
	if errors.As(err, &lockConflict) {
		return http.StatusConflict, envelope{Code: codeBadRequest, Message: lockConflict.Error()}
	}

	var noContext *services.ContextNotFoundError
	if errors.As(err, &noContext) {
		return http.StatusUnauthorized, envelope{
			Code:    codeBadRequest,
			Message: noContext.Error(),
			Data: gin.H{
				"error_type": "context_not_found",
				"platform":   noContext.Platform,
				"context_id": noContext.ContextID,
			},
		}
	}

	var notLoggedIn *services.NotLoggedInError
	if errors.As(err, &notLoggedIn) {
		return http.StatusOK, envelope{
			Code:    codeLoginRequired,
			Message: notLoggedIn.Error(),
			Data: gin.H{
				"platform":       notLoggedIn.Platform,
				"context_id":     notLoggedIn.ContextID,
				"resource_url":   notLoggedIn.ResourceURL,
				"requires_login": true,
			},
		}
	}

	var notImplemented *services.NotImplementedError
	if errors.As(err, &notImplemented) {
		return http.StatusBadRequest, envelope{Code: codeBadRequest, Message: notImplemented.Error()}
	}

	var transition *services.InvalidTransitionError
	if errors.As(err, &transition) {
		return http.StatusConflict, envelope{Code: codeBadRequest, Message: transition.Error()}
	}

	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized, envelope{Code: codeUnauthorized, Message: "unauthorized"}
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, envelope{Code: codeNotFound, Message: "not found"}
	case errors.Is(err, services.ErrSessionCreation), errors.Is(err, services.ErrBrowserInit):
		return http.StatusInternalServerError, envelope{Code: codeInternal, Message: err.Error()}
	}

	slog.Error("Unexpected error in API handler", "error", err)
	return http.StatusInternalServerError, envelope{Code: codeInternal, Message: "internal server error"}
}
