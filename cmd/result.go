package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/joescharf/prcycle/internal/cycle"
)

// errorDocument is the JSON result of a command that failed before it
// produced a result of its own.
type errorDocument struct {
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// statusExitCode maps a result status onto the process exit code.
func statusExitCode(status string) int {
	switch status {
	case cycle.StatusError:
		return exitError
	case cycle.StatusTimeout:
		return exitTimeout
	case cycle.StatusInterrupted:
		return exitInterrupted
	}
	return exitOK
}

// emit prints v as the command result and returns the error carrying the
// exit code for status, if any.
func emit(v any, status string, cause error) error {
	if err := ui.JSON(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	code := statusExitCode(status)
	if code == exitOK && cause == nil {
		return nil
	}
	if code == exitOK {
		code = exitError
	}
	if cause != nil {
		ui.Error("%v", cause)
	}
	return &exitCodeError{code: code, err: cause, printed: true}
}

// fail prints err as a structured error result.
func fail(err error) error {
	if errors.Is(err, context.Canceled) {
		return emit(errorDocument{Status: cycle.StatusInterrupted, ErrorKind: cycle.ErrorKind(err), Message: "interrupted"},
			cycle.StatusInterrupted, nil)
	}
	return emit(errorDocument{Status: cycle.StatusError, ErrorKind: cycle.ErrorKind(err), Message: err.Error()},
		cycle.StatusError, err)
}

// parsePR validates a PR number argument.
func parsePR(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return 0, errInvalidf("pr_number must be a positive integer, got %q", arg)
	}
	return n, nil
}

func errInvalidf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", cycle.ErrInvalidArgument, fmt.Sprintf(format, a...))
}
