package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"budget/internal/apperr"
	applog "budget/internal/log"
)

const successMessage = "success"

type successBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorBody struct {
	Status  int                 `json:"status"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
}

// ResponseBuilder provides a fluent API for writing the JSON envelope.
type ResponseBuilder struct {
	status  int
	message string
	data    any
	cookies []*http.Cookie
}

// NewResponse creates a builder with a 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{status: http.StatusOK, message: successMessage}
}

// Status sets the HTTP status code.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.status = code
	return b
}

// Data sets the payload. A nil payload is omitted from the body.
func (b *ResponseBuilder) Data(data any) *ResponseBuilder {
	b.data = data
	return b
}

// Cookie adds a Set-Cookie header.
func (b *ResponseBuilder) Cookie(c *http.Cookie) *ResponseBuilder {
	b.cookies = append(b.cookies, c)
	return b
}

// Write sends the envelope.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for _, c := range b.cookies {
		http.SetCookie(w, c)
	}
	writeJSON(w, b.status, successBody{Status: b.status, Message: b.message, Data: b.data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its client-visible code. Anything without a code
// is logged and reported as INTERNAL_ERROR.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		err = apperr.Invalid(apperr.FieldError{Field: "body", Reason: "request body too large"})
	}

	code := apperr.CodeOf(err)
	logger := applog.FromContext(r.Context())
	if code.Status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			applog.FieldErrorCode, code.Name,
			applog.FieldError, err)
	} else {
		logger.DebugContext(r.Context(), "Request rejected",
			applog.FieldErrorCode, code.Name,
			applog.FieldError, err)
	}

	body := errorBody{Status: code.Status, Code: code.Name, Message: code.Message}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Errors = ae.Fields
	}
	writeJSON(w, code.Status, body)
}
