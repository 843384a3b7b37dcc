// Package apperr defines the error codes the API exposes and the error type
// that carries them from services to the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, client-visible error identifier bound to an HTTP status.
type Code struct {
	Name    string
	Status  int
	Message string
}

var (
	Internal     = Code{"INTERNAL_ERROR", http.StatusInternalServerError, "internal server error"}
	InvalidInput = Code{"INVALID_INPUT", http.StatusBadRequest, "invalid input"}
	TooMany      = Code{"TOO_MANY_REQUESTS", http.StatusTooManyRequests, "rate limit exceeded, try again later"}

	InvalidToken        = Code{"INVALID_TOKEN", http.StatusUnauthorized, "invalid token"}
	InvalidLogin        = Code{"INVALID_LOGIN_REQUEST", http.StatusUnauthorized, "email or password does not match"}
	ExpiredToken        = Code{"EXPIRED_TOKEN", http.StatusUnauthorized, "token expired"}
	InvalidRefreshToken = Code{"INVALID_REFRESH_TOKEN", http.StatusUnauthorized, "invalid refresh token"}
	MissingJWTPayload   = Code{"MISSING_JWT_PAYLOAD", http.StatusBadRequest, "token payload is incomplete"}

	UserNotFound           = Code{"USER_NOT_FOUND", http.StatusNotFound, "user not found"}
	DeletedUser            = Code{"DELETED_USER", http.StatusBadRequest, "user has been deleted"}
	UserEmailExists        = Code{"USER_EMAIL_ALREADY_EXISTS", http.StatusConflict, "email already registered"}
	InvalidCurrentPassword = Code{"INVALID_CURRENT_PASSWORD", http.StatusBadRequest, "current password does not match"}
	UserAlreadyDeleted     = Code{"USER_ALREADY_DELETED", http.StatusConflict, "user already deleted"}

	CardExists            = Code{"CARD_ALREADY_EXISTS", http.StatusConflict, "card already registered"}
	CardNotFound          = Code{"CARD_NOT_FOUND", http.StatusNotFound, "card not found"}
	CardTransactionExists = Code{"CARD_TRANSACTION_ALREADY_EXISTS", http.StatusConflict, "card transaction already exists"}

	APIClientError  = Code{"API_CALL_CLIENT_ERROR", http.StatusBadGateway, "external API rejected the request"}
	APIServerError  = Code{"API_CALL_SERVER_ERROR", http.StatusBadGateway, "external API failed"}
	APIWrongAnswer  = Code{"API_CALL_WRONG_ANSWER", http.StatusBadGateway, "external API returned an unusable answer"}
	APIRateLimited  = Code{"API_RATE_LIMIT_EXCEEDED", http.StatusBadGateway, "external API rate limit exceeded"}
	APITimeout      = Code{"API_CALL_TIMEOUT", http.StatusGatewayTimeout, "external API timed out"}
	JSONParsing     = Code{"CONVERT_JSON_PARSING", http.StatusInternalServerError, "failed to parse JSON"}
	ReportNotFound  = Code{"REPORT_NOT_FOUND", http.StatusNotFound, "report not found"}
	BatchRun        = Code{"BATCH_RUN_ERROR", http.StatusInternalServerError, "batch job failed"}
	BatchCompleted  = Code{"BATCH_ALREADY_COMPLETED", http.StatusConflict, "batch job already completed for these parameters"}
)

// FieldError describes one failing request field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error is a domain failure with a client-visible code.
type Error struct {
	Code   Code
	Fields []FieldError
	Err    error
}

// New returns an error for code.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Wrap returns an error for code that keeps err as its cause.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Invalid returns an INVALID_INPUT error listing the failing fields.
func Invalid(fields ...FieldError) *Error {
	return &Error{Code: InvalidInput, Fields: fields}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code.Name, e.Code.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code.Name, e.Code.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code name.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code.Name == e.Code.Name
}

// CodeOf returns the code carried by err, or Internal.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return Internal
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code.Name == code.Name
}
