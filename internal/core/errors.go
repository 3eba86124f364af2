package core

import "fmt"

// Error codes.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternalError  = "internal_error"
)

// Error is the structured error body returned by the HTTP API.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewInvalidRequestError creates an invalid_request error.
func NewInvalidRequestError(message string, details map[string]any) *Error {
	return &Error{Code: ErrCodeInvalidRequest, Message: message, Details: details}
}

// NewNotFoundError creates a not_found error for a resource.
func NewNotFoundError(resourceType, resourceID string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

// NewInternalError creates an internal_error.
func NewInternalError(message string) *Error {
	return &Error{Code: ErrCodeInternalError, Message: message}
}
