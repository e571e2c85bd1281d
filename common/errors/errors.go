package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an application error for propagation and user messaging.
type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindOrderCreation        Kind = "order_creation_error"
	KindVerificationMismatch Kind = "verification_mismatch"
	KindPollingTimeout       Kind = "polling_timeout"
	KindUserCancelled        Kind = "user_cancelled"
	KindConflict             Kind = "conflict"
	KindNotFound             Kind = "not_found"
	KindInternal             Kind = "internal"
)

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so that errors.Is(err, ErrValidation) holds for any
// validation error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a new Error
func New(kind Kind, code int, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Sentinels used with errors.Is. Never mutate these; use the constructors.
var (
	ErrValidation           = New(KindValidation, http.StatusBadRequest, "Validation error", nil)
	ErrOrderCreation        = New(KindOrderCreation, http.StatusBadGateway, "Failed to create payment order", nil)
	ErrVerificationMismatch = New(KindVerificationMismatch, http.StatusBadRequest, "Payment could not be verified. Please contact support", nil)
	ErrPollingTimeout       = New(KindPollingTimeout, http.StatusGatewayTimeout, "Payment verification timeout", nil)
	ErrUserCancelled        = New(KindUserCancelled, http.StatusConflict, "Payment cancelled by user", nil)
	ErrConflict             = New(KindConflict, http.StatusConflict, "Request already in progress", nil)
	ErrNotFound             = New(KindNotFound, http.StatusNotFound, "Not found", nil)
	ErrInternalServer       = New(KindInternal, http.StatusInternalServerError, "Internal server error", nil)
)

func Validation(message string) *Error {
	return New(KindValidation, http.StatusBadRequest, message, nil)
}

func OrderCreation(err error) *Error {
	return New(KindOrderCreation, http.StatusBadGateway, ErrOrderCreation.Message, err)
}

func VerificationMismatch(err error) *Error {
	return New(KindVerificationMismatch, http.StatusBadRequest, ErrVerificationMismatch.Message, err)
}

func PollingTimeout(err error) *Error {
	return New(KindPollingTimeout, http.StatusGatewayTimeout, ErrPollingTimeout.Message, err)
}

func UserCancelled() *Error {
	return New(KindUserCancelled, http.StatusConflict, ErrUserCancelled.Message, nil)
}

func Conflict(message string) *Error {
	return New(KindConflict, http.StatusConflict, message, nil)
}

func NotFound(message string) *Error {
	return New(KindNotFound, http.StatusNotFound, message, nil)
}

func Internal(message string, err error) *Error {
	return New(KindInternal, http.StatusInternalServerError, message, err)
}

// From returns err as an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal(ErrInternalServer.Message, err)
}

// Error middleware for Gin
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := From(c.Errors.Last().Err)
			c.JSON(appErr.Code, gin.H{"success": false, "message": appErr.Message, "kind": appErr.Kind})
			c.Abort()
		}
	}
}
