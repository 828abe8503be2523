package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// UnsupportedQueryKindError reports a query kind that is not valid for the
// calling context, such as a scheme query passed to a prepared statement.
type UnsupportedQueryKindError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	QueryType  query.QueryType        `json:"-"`
	StackTrace []string               `json:"stack_trace,omitempty"`
}

// Error implements the error interface.
func (e *UnsupportedQueryKindError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *UnsupportedQueryKindError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":       e.Code,
		"type":       e.Type,
		"message":    e.Message,
		"query_type": e.QueryType.String(),
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// ErrUnsupportedQueryKind creates an error for a query kind the operation
// does not accept.
func ErrUnsupportedQueryKind(operation string, qt query.QueryType) *UnsupportedQueryKindError {
	return &UnsupportedQueryKindError{
		Code:      "E_UNSUPPORTED_QUERY_KIND",
		Type:      "QUERY_KIND_ERROR",
		Message:   fmt.Sprintf("%s does not support %s", operation, qt),
		QueryType: qt,
		Details: map[string]interface{}{
			"operation": operation,
		},
		StackTrace: captureStackTrace(),
	}
}

// TransactionPolicyError reports a scan or scheme query refused inside an
// open transaction by the ERROR fake transaction mode.
type TransactionPolicyError struct {
	Code          string                 `json:"code"`
	Type          string                 `json:"type"`
	Message       string                 `json:"message"`
	Details       map[string]interface{} `json:"details"`
	QueryType     query.QueryType        `json:"-"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	StackTrace    []string               `json:"stack_trace,omitempty"`
}

// Error implements the error interface.
func (e *TransactionPolicyError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *TransactionPolicyError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s (TX: %s)", e.Code, e.Message, e.TransactionID)
	}

	errorData := map[string]interface{}{
		"code":           e.Code,
		"type":           e.Type,
		"message":        e.Message,
		"query_type":     e.QueryType.String(),
		"transaction_id": e.TransactionID,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// ErrQueryInsideTransaction creates an error for a query kind that cannot run
// inside the open transaction txID.
func ErrQueryInsideTransaction(qt query.QueryType, txID string) *TransactionPolicyError {
	what := "scan query"
	if qt == query.SchemeQuery {
		what = "scheme query"
	}
	return &TransactionPolicyError{
		Code:          "E_QUERY_INSIDE_TX",
		Type:          "TRANSACTION_POLICY_ERROR",
		Message:       fmt.Sprintf("%s cannot be executed inside a transaction", what),
		QueryType:     qt,
		TransactionID: txID,
		Details: map[string]interface{}{
			"fake_tx_mode": FakeTxError.String(),
		},
		StackTrace: captureStackTrace(),
	}
}

// ConnectionClosedError reports an operation on a closed connection.
type ConnectionClosedError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	StackTrace []string               `json:"stack_trace,omitempty"`
}

// Error implements the error interface.
func (e *ConnectionClosedError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *ConnectionClosedError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
		"details": e.Details,
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// ErrConnectionClosed creates an error for operation on a closed connection.
func ErrConnectionClosed(operation string) *ConnectionClosedError {
	return &ConnectionClosedError{
		Code:    "E_CONNECTION_CLOSED",
		Type:    "STATE_ERROR",
		Message: fmt.Sprintf("%s: connection is closed", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		StackTrace: captureStackTrace(),
	}
}

// ErrStatementClosed creates an error for operation on a closed statement.
func ErrStatementClosed(operation string) *ConnectionClosedError {
	return &ConnectionClosedError{
		Code:    "E_STATEMENT_CLOSED",
		Type:    "STATE_ERROR",
		Message: fmt.Sprintf("%s: statement is closed", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		StackTrace: captureStackTrace(),
	}
}

// ResultTruncatedError reports a result set cut at the service row limit
// when truncated results are not accepted.
type ResultTruncatedError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	Index      int                    `json:"index"`
	Rows       int                    `json:"rows"`
	StackTrace []string               `json:"stack_trace,omitempty"`
}

// Error implements the error interface.
func (e *ResultTruncatedError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *ResultTruncatedError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
		"index":   e.Index,
		"rows":    e.Rows,
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// ErrResultTruncated creates an error for the truncated result set at index.
func ErrResultTruncated(index, rows int) *ResultTruncatedError {
	return &ResultTruncatedError{
		Code:       "E_RESULT_TRUNCATED",
		Type:       "RESULT_ERROR",
		Message:    fmt.Sprintf("result set #%d was truncated at %d rows", index+1, rows),
		Index:      index,
		Rows:       rows,
		StackTrace: captureStackTrace(),
	}
}

// RemoteExecutionError wraps a failure of the table service or of the
// transport to it.
type RemoteExecutionError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	Operation  string                 `json:"operation"`
	Status     codes.Code             `json:"-"`
	Issues     []tableclient.Issue    `json:"issues,omitempty"`
	Attempts   int                    `json:"attempts"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *RemoteExecutionError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *RemoteExecutionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s [%s] (caused by: %s)", e.Code, e.Message, e.Status, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, e.Status)
	}

	errorData := map[string]interface{}{
		"code":      e.Code,
		"type":      e.Type,
		"message":   e.Message,
		"operation": e.Operation,
		"status":    e.Status.String(),
		"attempts":  e.Attempts,
	}

	if len(e.Issues) > 0 {
		errorData["issues"] = e.Issues
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *RemoteExecutionError) Unwrap() error {
	return e.Cause
}

// GRPCStatus exposes the remote status to status.FromError.
func (e *RemoteExecutionError) GRPCStatus() *status.Status {
	return status.New(e.Status, e.Message)
}

// ErrRemoteExecution wraps cause returned by operation.
func ErrRemoteExecution(operation string, cause error, attempts int) *RemoteExecutionError {
	code := remoteCode(cause)
	msg := cause.Error()
	if st, ok := status.FromError(cause); ok {
		msg = st.Message()
	}
	return &RemoteExecutionError{
		Code:      "E_REMOTE_EXECUTION",
		Type:      "REMOTE_ERROR",
		Message:   fmt.Sprintf("%s failed: %s", operation, msg),
		Operation: operation,
		Status:    code,
		Attempts:  attempts,
		Cause:     cause,
		Details: map[string]interface{}{
			"status": code.String(),
		},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// TransactionError represents transaction-related errors.
type TransactionError struct {
	Code          string                 `json:"code"`
	Type          string                 `json:"type"`
	Message       string                 `json:"message"`
	Details       map[string]interface{} `json:"details"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	State         string                 `json:"state,omitempty"`
	Cause         error                  `json:"cause,omitempty"`
	StackTrace    []string               `json:"stack_trace,omitempty"`
	Timestamp     time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *TransactionError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *TransactionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (TX: %s, caused by: %s)", e.Code, e.Message, e.TransactionID, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s (TX: %s)", e.Code, e.Message, e.TransactionID)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if e.TransactionID != "" {
		errorData["transaction_id"] = e.TransactionID
	}

	if e.State != "" {
		errorData["state"] = e.State
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *TransactionError) Unwrap() error {
	return e.Cause
}

// ErrIsolationChangeInTransaction creates an error for changing the
// isolation level while a transaction is open.
func ErrIsolationChangeInTransaction(txID string, from, to IsolationLevel) *TransactionError {
	return &TransactionError{
		Code:          "E_TX_ISOLATION_CHANGE",
		Type:          "TRANSACTION_ERROR",
		Message:       fmt.Sprintf("cannot change isolation level from %s to %s inside a transaction", from, to),
		TransactionID: txID,
		State:         InTransaction.String(),
		Details: map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrInvalidIsolationLevel creates an error for an unknown isolation level.
func ErrInvalidIsolationLevel(level IsolationLevel) *TransactionError {
	return &TransactionError{
		Code:       "E_TX_INVALID_ISOLATION",
		Type:       "TRANSACTION_ERROR",
		Message:    fmt.Sprintf("unsupported isolation level %d", int(level)),
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrReadOnlyInTransaction creates an error for toggling read-only while a
// transaction is open.
func ErrReadOnlyInTransaction(txID string) *TransactionError {
	return &TransactionError{
		Code:          "E_TX_READONLY_CHANGE",
		Type:          "TRANSACTION_ERROR",
		Message:       "cannot change read-only mode inside a transaction",
		TransactionID: txID,
		State:         InTransaction.String(),
		StackTrace:    captureStackTrace(),
		Timestamp:     time.Now(),
	}
}

var retryableCodes = map[codes.Code]bool{
	codes.Unavailable:       true,
	codes.ResourceExhausted: true,
	codes.Aborted:           true,
}

var sessionBrokenCodes = map[codes.Code]bool{
	codes.Unavailable:        true,
	codes.NotFound:           true,
	codes.FailedPrecondition: true,
	codes.DeadlineExceeded:   true,
	codes.Canceled:           true,
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	return err != nil && retryableCodes[remoteCode(err)]
}

// IsSessionBroken reports whether err leaves the session it came from in an
// unknown state, so the session must not be reused.
func IsSessionBroken(err error) bool {
	return err != nil && sessionBrokenCodes[remoteCode(err)]
}

func remoteCode(err error) codes.Code {
	var ree *RemoteExecutionError
	if errors.As(err, &ree) {
		return ree.Status
	}
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

// Helper functions

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs) // Skip captureStackTrace, the error constructor, and runtime.Callers

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()
		frames = append(frames, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}

	return frames
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}

	type debugFormatter interface {
		FormatError(bool) string
	}

	var formatter debugFormatter
	if errors.As(err, &formatter) {
		return formatter.FormatError(debugMode)
	}

	return err.Error()
}
