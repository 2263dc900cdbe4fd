// Package http hosts the dashboard-facing query handlers and the shared
// error responder.
package http

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"linkpulse/internal/errs"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	Method     string `json:"method"`
}

func kindLabel(kind errs.Kind) string {
	switch kind {
	case errs.KindValidation:
		return "validation_error"
	case errs.KindNotFound:
		return "not_found"
	case errs.KindUnavailable:
		return "unavailable"
	case errs.KindConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

// RespondError renders err using the shared error shape. Unexpected errors
// are reported as opaque internals; Unavailable carries a retry hint but no
// dependency details.
func RespondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal server error"
	kind := errs.KindInternal

	var appErr *errs.Error
	if errors.As(err, &appErr) {
		status = appErr.StatusCode()
		kind = appErr.Kind
		message = appErr.Message
		if kind == errs.KindValidation && len(appErr.Fields) > 0 {
			message += " (fields: " + strings.Join(appErr.Fields, ", ") + ")"
		}
		if kind == errs.KindUnavailable {
			message = appErr.Message + "; please retry"
		}
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
		message = fiberErr.Message
	}

	return c.Status(status).JSON(errorBody{
		Error:      kindLabel(kind),
		Message:    message,
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       c.Path(),
		Method:     c.Method(),
	})
}
