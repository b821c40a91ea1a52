package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tOgg1/campusmarket/internal/models"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// Unwrap maps the status onto the shared error kinds so callers can use
// errors.Is with models.ErrAuthorization and friends.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return models.ErrAuthorization
	case e.StatusCode == http.StatusNotFound:
		return models.ErrNotFound
	case e.StatusCode == http.StatusConflict && strings.Contains(strings.ToLower(e.Message), "completed"):
		return models.ErrAlreadyCompleted
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return models.ErrNetwork
	default:
		return nil
	}
}

func newStatusError(method, path string, status int, body []byte) *StatusError {
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Message:    errorMessage(body),
	}
}

// errorMessage pulls "error" or "message" out of a JSON error body, or
// falls back to the trimmed text.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}
