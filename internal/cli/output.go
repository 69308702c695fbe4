package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/ui"
)

// Exit codes for CLI commands.
const (
	ExitSuccess = 0 // Successful execution
	ExitFailure = 1 // The operation failed (rejected, unreachable, not signed in)
	ExitUsage   = 2 // Bad arguments or flags
)

// ExitError carries an exit code through cobra's error return.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return ExitUsage
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope written with --format json.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Printer *ui.Printer
}

func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Success writes data as JSON, or prints text with the printer.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	f.Printer.OK(text)
	return nil
}

// Error reports err in the configured format.
func (f *OutputFormatter) Error(err error) {
	msg := errorMessage(err)
	if f.JSON() {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: errorCode(err), Message: msg},
		})
		return
	}
	f.Printer.Fail(msg)
	if GetExitCode(err) == ExitUsage {
		f.Printer.Hint("Run 'todo --help' for usage.")
	}
}

func errorMessage(err error) string {
	var ee *ExitError
	if errors.As(err, &ee) {
		if ee.Err == nil {
			return ee.Message
		}
		return ee.Message + ": " + apperr.UserMessage(ee.Err)
	}
	return apperr.UserMessage(err)
}

func errorCode(err error) string {
	if GetExitCode(err) == ExitUsage {
		return "usage"
	}
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
