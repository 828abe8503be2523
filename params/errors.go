package params

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProblemKind classifies a binding problem.
type ProblemKind int

const (
	// Missing means a required parameter has no value.
	Missing ProblemKind = iota
	// Extra means a value was supplied for an unknown parameter.
	Extra
	// Mismatch means a value does not fit the parameter type.
	Mismatch
)

// String returns the string representation of the kind.
func (k ProblemKind) String() string {
	switch k {
	case Missing:
		return "MISSING"
	case Extra:
		return "EXTRA"
	case Mismatch:
		return "MISMATCH"
	default:
		return "UNKNOWN"
	}
}

// Problem is one reason a binding was rejected.
type Problem struct {
	Kind  ProblemKind `json:"kind"`
	Param string      `json:"param"`
	// Row is the 1-based batch row, or 0 outside batches.
	Row     int    `json:"row,omitempty"`
	Message string `json:"message"`
}

// String renders the problem on one line.
func (p Problem) String() string {
	if p.Row > 0 {
		return fmt.Sprintf("row %d: %s %s: %s", p.Row, p.Kind, p.Param, p.Message)
	}
	return fmt.Sprintf("%s %s: %s", p.Kind, p.Param, p.Message)
}

// BindingError reports every problem found while binding parameter values.
type BindingError struct {
	Code     string                 `json:"code"`
	Type     string                 `json:"type"`
	Message  string                 `json:"message"`
	Problems []Problem              `json:"problems,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Cause    error                  `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *BindingError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *BindingError) FormatError(debugMode bool) string {
	if !debugMode {
		msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
		if len(e.Problems) > 0 {
			parts := make([]string, len(e.Problems))
			for i, p := range e.Problems {
				parts[i] = p.String()
			}
			msg = fmt.Sprintf("%s [%s]", msg, strings.Join(parts, "; "))
		}
		if e.Cause != nil {
			msg = fmt.Sprintf("%s (caused by: %s)", msg, e.Cause.Error())
		}
		return msg
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}
	if len(e.Problems) > 0 {
		errorData["problems"] = e.Problems
	}
	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}
	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *BindingError) Unwrap() error {
	return e.Cause
}

// Has reports whether the error contains a problem of kind for param.
func (e *BindingError) Has(kind ProblemKind, param string) bool {
	for _, p := range e.Problems {
		if p.Kind == kind && p.Param == param {
			return true
		}
	}
	return false
}

// ErrInvalidParameters creates a binding error from a problem list.
func ErrInvalidParameters(problems []Problem) *BindingError {
	return &BindingError{
		Code:     "E_INVALID_PARAMETERS",
		Type:     "BINDING_ERROR",
		Message:  fmt.Sprintf("%d parameter problem(s)", len(problems)),
		Problems: problems,
	}
}

// ErrNotBatchable creates an error for batch operations on a query that has
// no single list-of-struct or list-of-tuple parameter.
func ErrNotBatchable(reason string) *BindingError {
	return &BindingError{
		Code:    "E_NOT_BATCHABLE",
		Type:    "BINDING_ERROR",
		Message: fmt.Sprintf("query cannot be executed as a batch: %s", reason),
	}
}

// ErrEmptyBatch creates an error for BindBatch without any added row.
func ErrEmptyBatch() *BindingError {
	return &BindingError{
		Code:    "E_EMPTY_BATCH",
		Type:    "BINDING_ERROR",
		Message: "batch contains no rows",
	}
}
