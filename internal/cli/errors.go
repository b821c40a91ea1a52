package cli

import (
	"errors"
	"fmt"

	"github.com/tOgg1/campusmarket/internal/models"
)

// Exit codes.
const (
	ExitCodeFailure  = 1
	ExitCodeUsage    = 2
	ExitCodeAuth     = 3
	ExitCodeNotFound = 4
	ExitCodeConflict = 5
	ExitCodeNetwork  = 6
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exitf builds an ExitError from a format string.
func Exitf(code int, format string, args ...any) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

func exitCodeFor(err error) int {
	var validation *models.ValidationErrors
	switch {
	case errors.Is(err, models.ErrAuthorization):
		return ExitCodeAuth
	case errors.Is(err, models.ErrNotFound):
		return ExitCodeNotFound
	case errors.Is(err, models.ErrAlreadyCompleted), errors.Is(err, models.ErrConversationClosed), errors.Is(err, models.ErrInvalidState):
		return ExitCodeConflict
	case errors.Is(err, models.ErrNetwork), errors.Is(err, models.ErrConnection):
		return ExitCodeNetwork
	case errors.As(err, &validation):
		return ExitCodeUsage
	default:
		return ExitCodeFailure
	}
}
