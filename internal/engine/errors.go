package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/benzoXdev/obfuslua/internal/lua"
)

// ParseError is surfaced unmodified from the frontend.
type ParseError = lua.ParseError

// ResourceExceeded reports a driver bound that was blown: input size, AST
// depth or output expansion.
type ResourceExceeded struct {
	Limit  string
	Actual string
}

func (e *ResourceExceeded) Error() string {
	return fmt.Sprintf("resource exceeded: %s (got %s)", e.Limit, e.Actual)
}

// InvalidOption reports a rejected option key or value.
type InvalidOption struct {
	Key    string
	Reason string
}

func (e *InvalidOption) Error() string {
	return fmt.Sprintf("invalid option %q: %s", e.Key, e.Reason)
}

// Internal reports a pass invariant violation. Impossible for well-formed
// input; any occurrence is a bug.
type Internal struct {
	Stage string
	Cause error
}

func (e *Internal) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error in %s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("internal error in %s", e.Stage)
}

func (e *Internal) Unwrap() error { return e.Cause }

// ErrorHint maps common failures to a one-line hint for the CLI.
func ErrorHint(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return "the input is not well-formed source; fix the syntax error at the reported offset"
	}
	var re *ResourceExceeded
	if errors.As(err, &re) {
		return "the input exceeds a pipeline bound; split the script or raise the limit"
	}
	var io *InvalidOption
	if errors.As(err, &io) {
		return "run -h for the recognized option keys and ranges"
	}
	msg := err.Error()
	if strings.Contains(msg, "file not found") {
		return "check the -i path, or pipe the script via -stdin"
	}
	return ""
}
