package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Operation succeeded
	ExitFailure      = 1 // Operation outcome failure (key not found, CAS lost, lock busy)
	ExitCommandError = 2 // Command error (bad flags, unreachable database, bad config)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitCommandError (2) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// Response is the standard JSON response format for CLI output.
type Response struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *OpError    `json:"error,omitempty"` // error details
}

// OpError is the error structure for CLI responses.
type OpError struct {
	Code    string `json:"code"`    // "not_found", "cas_failed", "lock_busy", ...
	Message string `json:"message"` // human-readable message
}

// Success outputs a successful result in the configured format.
// In text mode, string payloads are printed bare; other payloads use
// their default formatting.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{
			Status: "ok",
			Data:   data,
		})
	}

	if s, ok := data.(string); ok {
		if s != "" {
			fmt.Fprintln(f.Writer, s)
		}
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Failure reports an operation-outcome failure (a missing key, a lost
// CAS) in the configured format and returns the matching ExitError so the
// process exits with code 1.
func (f *OutputFormatter) Failure(code, message string) error {
	if f.Format == "json" {
		if err := json.NewEncoder(f.Writer).Encode(Response{
			Status: "error",
			Error:  &OpError{Code: code, Message: message},
		}); err != nil {
			return err
		}
		return &ExitError{Code: ExitFailure, Message: message}
	}

	fmt.Fprintln(f.Writer, message)
	return &ExitError{Code: ExitFailure, Message: message}
}
