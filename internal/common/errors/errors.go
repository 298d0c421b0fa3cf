// Package errors provides structured error handling for riskgate
package errors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCode represents an application error code
type ErrorCode string

const (
	// General errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrBadRequest   ErrorCode = "BAD_REQUEST"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrTimeout      ErrorCode = "TIMEOUT"

	// Engine errors
	ErrIndicatorInvalid  ErrorCode = "INDICATOR_INVALID"
	ErrIndicatorNotFound ErrorCode = "INDICATOR_NOT_FOUND"
	ErrProfileExpired    ErrorCode = "RISK_PROFILE_EXPIRED"
	ErrAssessmentAborted ErrorCode = "ASSESSMENT_ABORTED"
	ErrOracleUnavailable ErrorCode = "ORACLE_UNAVAILABLE"

	// Session errors
	ErrSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrSessionClosed   ErrorCode = "SESSION_CLOSED"

	// Storage errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrRedisError ErrorCode = "REDIS_ERROR"
)

// statusCodes maps error codes to HTTP status codes
var statusCodes = map[ErrorCode]int{
	ErrInternal:          http.StatusInternalServerError,
	ErrNotFound:          http.StatusNotFound,
	ErrBadRequest:        http.StatusBadRequest,
	ErrUnauthorized:      http.StatusUnauthorized,
	ErrForbidden:         http.StatusForbidden,
	ErrConflict:          http.StatusConflict,
	ErrValidation:        http.StatusBadRequest,
	ErrTimeout:           http.StatusGatewayTimeout,
	ErrIndicatorInvalid:  http.StatusBadRequest,
	ErrIndicatorNotFound: http.StatusNotFound,
	ErrProfileExpired:    http.StatusGone,
	ErrAssessmentAborted: http.StatusRequestTimeout,
	ErrOracleUnavailable: http.StatusBadGateway,
	ErrSessionNotFound:   http.StatusNotFound,
	ErrSessionClosed:     http.StatusConflict,
	ErrDatabase:          http.StatusInternalServerError,
	ErrRedisError:        http.StatusInternalServerError,
}

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Err        error                  `json:"-"` // Original error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError; the HTTP status is derived from the code
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusFor(code),
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusFor(code),
		Err:        err,
	}
}

func statusFor(code ErrorCode) int {
	if status, ok := statusCodes[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrInternal, message)
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource))
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return New(ErrBadRequest, message)
}

// ValidationError creates a validation error
func ValidationError(message string) *AppError {
	return New(ErrValidation, message)
}

// Timeout creates a timeout error
func Timeout(message string) *AppError {
	return New(ErrTimeout, message)
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *AppError {
	return New(ErrSessionNotFound, "Session not found").WithMetadata("session_id", sessionID)
}

// SessionClosed creates a session closed error
func SessionClosed(sessionID string) *AppError {
	return New(ErrSessionClosed, "Session is already closed").WithMetadata("session_id", sessionID)
}

// ProfileExpired creates a risk profile expired error
func ProfileExpired(userID string) *AppError {
	return New(ErrProfileExpired, "Risk profile has expired and must be recomputed").WithMetadata("user_id", userID)
}

// DatabaseError creates a database error
func DatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrDatabase, "Database operation failed").WithDetails(operation)
}

// ErrorResponse is the JSON response structure for errors
type ErrorResponse struct {
	Error     ErrorCode              `json:"error"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HandleError sends an error response to the client
func HandleError(c *gin.Context, err error) {
	var appErr *AppError
	var ok bool

	if appErr, ok = err.(*AppError); !ok {
		appErr = Internal("An unexpected error occurred", err)
	}

	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	c.JSON(appErr.StatusCode, ErrorResponse{
		Error:     appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Metadata:  appErr.Metadata,
		RequestID: reqIDStr,
	})
}

// ErrorHandler is a middleware that converts panics to error responses
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				var appErr *AppError

				switch e := err.(type) {
				case *AppError:
					appErr = e
				case error:
					appErr = Internal("Internal server error", e)
				default:
					appErr = Internal("Internal server error", fmt.Errorf("%v", err))
				}

				HandleError(c, appErr)
				c.Abort()
			}
		}()

		c.Next()
	}
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
