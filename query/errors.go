package query

import (
	"encoding/json"
	"fmt"
)

// ClassificationError reports query text that cannot be parsed or whose shape
// is not supported.
type ClassificationError struct {
	Code    string                 `json:"code"`
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Token   string                 `json:"token,omitempty"`
	Pos     int                    `json:"pos"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *ClassificationError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *ClassificationError) FormatError(debugMode bool) string {
	if !debugMode {
		msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
		if e.Token != "" {
			msg = fmt.Sprintf("%s (token %q at %d)", msg, e.Token, e.Pos)
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
		"pos":     e.Pos,
	}
	if e.Token != "" {
		errorData["token"] = e.Token
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
func (e *ClassificationError) Unwrap() error {
	return e.Cause
}

func classificationError(code, message, token string, pos int) *ClassificationError {
	return &ClassificationError{
		Code:    code,
		Type:    "CLASSIFICATION_ERROR",
		Message: message,
		Token:   token,
		Pos:     pos,
	}
}

// ErrUnsupportedQueryType creates an error for a statement shape the
// classifier does not recognize.
func ErrUnsupportedQueryType(token string) *ClassificationError {
	return classificationError("E_UNSUPPORTED_QUERY_TYPE",
		fmt.Sprintf("unsupported query type: %s", token), token, -1)
}

// ErrEmptyQuery creates an error for query text without any statement.
func ErrEmptyQuery() *ClassificationError {
	return classificationError("E_EMPTY_QUERY", "query text contains no statements", "", 0)
}
