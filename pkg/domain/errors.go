package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound      = NewErr("PASTE_NOT_FOUND", "Paste not found or has expired", http.StatusNotFound)
	ErrPasteTooLarge      = NewErr("PASTE_TOO_LARGE", "Paste too large", http.StatusBadRequest)
	ErrInvalidRequest     = NewErr("INVALID_REQUEST", "Invalid request body", http.StatusBadRequest)
	ErrContentRequired    = NewErr("CONTENT_REQUIRED", "Invalid content. Content must be a non-empty string.", http.StatusBadRequest)
	ErrInvalidEventType   = NewErr("INVALID_EVENT_TYPE", "Invalid event type", http.StatusBadRequest)
	ErrRateLimitExceeded  = NewErr("RATE_LIMIT_EXCEEDED", "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	ErrUnauthorized       = NewErr("UNAUTHORIZED", "Unauthorized", http.StatusUnauthorized)
	ErrKeyNotConfigured   = NewErr("KEY_NOT_CONFIGURED", "API key not configured", http.StatusNotFound)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrIDGenerationFailed = NewErr("ID_GENERATION_FAILED", "id generation failed", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// ErrResp is the JSON body written for every failed request.
type ErrResp struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func asErr(err error) (*Err, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Err); ok {
		return e, true
	}
	e, ok := errors.Cause(err).(*Err)
	return e, ok
}

// ToResp maps err to a response body. Anything that is not a domain error,
// and every 5xx, is reported as a generic internal error.
func ToResp(err error) ErrResp {
	e, ok := asErr(err)
	if !ok || e.Status >= http.StatusInternalServerError {
		return ErrResp{Error: ErrInternalServer.Msg, Code: ErrInternalServer.Code}
	}
	return ErrResp{Error: e.Msg, Code: e.Code}
}
func Status(err error) int {
	if e, ok := asErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
