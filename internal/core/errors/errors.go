// Package errors is the failure taxonomy shared by analysis, planning,
// execution and verification. Callers branch on the code, never the text:
// a validation error is a usage mistake, a parse error costs one file, and
// a corrupt checkpoint store or a permission failure aborts the whole run.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorCode string

const (
	// CodeNotFound covers missing projects, plans, runs and checkpoints.
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeValidationError is bad input from the user or the configuration.
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	// CodeConflict is a request the current migration state forbids, such
	// as switching plans mid-run or skipping a phase.
	CodeConflict         ErrorCode = "CONFLICT"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
	CodeNotSupported     ErrorCode = "NOT_SUPPORTED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	// CodeParse is an unreadable manifest, source file or knowledge base.
	CodeParse ErrorCode = "PARSE_ERROR"
	// CodeCorruptState means the checkpoint store can no longer be trusted.
	CodeCorruptState ErrorCode = "CORRUPT_STATE"
	CodeTimeout      ErrorCode = "TIMEOUT"
	// CodeBlocked stops a phase that still has failed files.
	CodeBlocked ErrorCode = "PHASE_BLOCKED"
)

// Context keys. Error renders them in this order.
const (
	CtxOperation = "operation"
	CtxPhase     = "phase"
	CtxPath      = "path"
	CtxArtifact  = "artifact"
	CtxSymbol    = "symbol"
)

var contextOrder = []string{CtxOperation, CtxPhase, CtxPath, CtxArtifact, CtxSymbol}

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

func (e *DomainError) WithContext(key string, value any) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Error reads "[CODE] message: cause (operation=execute phase=3)".
func (e *DomainError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Context) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(e.Context))
	for _, k := range contextOrder {
		if _, ok := e.Context[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range e.Context {
		if !isKnownKey(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	b.WriteString(" (")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
	}
	b.WriteByte(')')
	return b.String()
}

func isKnownKey(k string) bool {
	for _, known := range contextOrder {
		if k == known {
			return true
		}
	}
	return false
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Newf(code ErrorCode, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// AddContext attaches a key/value pair to err, wrapping plain errors as internal.
func AddContext(err error, key string, value any) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return err
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]any{key: value},
	}
}

// Lift tags err with the operation that hit it. Errors that already carry
// a code keep it; anything else becomes code.
func Lift(err error, code ErrorCode, op string) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if !errors.As(err, &de) {
		err = Wrap(err, code, op)
	}
	return AddContext(err, CtxOperation, op)
}

// CodeOf returns the code of the outermost DomainError in err's chain, or
// the empty code.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsFatal reports whether err must abort a whole run rather than a single file.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeCorruptState, CodePermissionDenied:
		return true
	}
	return false
}
