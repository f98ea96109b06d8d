package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/canvaslog/internal/canvas"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Verification or scenario failure, rejected append
	ExitCommandError = 2 // Command error (bad flags, unreachable store, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// reported is set once an OutputFormatter has written the error.
	reported bool
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
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostics and text-mode errors (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command's output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
// Code is the canvas error code when the failure came from the store or the
// coordinator.
type CLIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Success writes data. In text mode text renders it; a nil text prints data
// with fmt.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	if text != nil {
		text(f.Writer)
		return nil
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Report writes a result that may describe a failure, such as a
// verification run. A non-nil failure sets the JSON status to "error" and
// is returned as a reported ExitFailure.
func (f *OutputFormatter) Report(data any, failure *CLIError, text func(w io.Writer)) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: data}
		if failure != nil {
			resp.Status = "error"
			resp.Error = failure
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		text(f.Writer)
	}
	if failure != nil {
		return &ExitError{Code: ExitFailure, Message: failure.Message, reported: true}
	}
	return nil
}

// Fail writes err in the configured format and returns it as a reported
// ExitError carrying code.
func (f *OutputFormatter) Fail(code int, message string, err error) error {
	exitErr := WrapExitError(code, message, err)
	cliErr := &CLIError{Code: errorCode(err), Message: exitErr.Error()}
	var ce *canvas.Error
	if errors.As(err, &ce) && len(ce.Details) > 0 {
		cliErr.Details = ce.Details
	}

	if f.Format == "json" {
		if encErr := f.encode(CLIResponse{Status: "error", Error: cliErr}); encErr != nil {
			return encErr
		}
	} else {
		w := f.GetErrWriter()
		fmt.Fprintf(w, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
		if f.Verbose {
			for k, v := range cliErr.Details {
				fmt.Fprintf(w, "  %s: %s\n", k, v)
			}
		}
	}
	exitErr.reported = true
	return exitErr
}

// VerboseLog outputs a message only if verbose mode is enabled.
// It writes to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// errorCode maps err to the CLIError code: the canvas code when there is
// one, otherwise E_COMMAND.
func errorCode(err error) string {
	if code := canvas.CodeOf(err); code != "" {
		return string(code)
	}
	return "E_COMMAND"
}
