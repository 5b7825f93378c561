// Package coachapi provides an HTTP client for the coaching/planning backend
// with cookie sessions, bounded retry, proposal-aware write decoding, and
// tagged transport errors.
package coachapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, coachapi.ErrNotFound) to check.
var (
	ErrBadRequest    = errors.New("coachapi: bad request")
	ErrUnauthorized  = errors.New("coachapi: unauthorized")
	ErrForbidden     = errors.New("coachapi: forbidden")
	ErrNotFound      = errors.New("coachapi: not found")
	ErrConflict      = errors.New("coachapi: conflict")
	ErrUnprocessable = errors.New("coachapi: unprocessable entity")
	ErrThrottled     = errors.New("coachapi: throttled")
	ErrServerError   = errors.New("coachapi: server error")
	ErrTimeout       = errors.New("coachapi: request timeout")
	ErrNetwork       = errors.New("coachapi: network failure")
	ErrClientError   = errors.New("coachapi: client error")

	// ErrUserAction marks a response the backend cannot complete without
	// further input from the athlete (missing profile data, unanswered
	// onboarding step, manual conflict review).
	ErrUserAction = errors.New("coachapi: user action required")
)

// CodeRequiresUserInput is the backend error code that turns an otherwise
// terminal 4xx into a user-action failure.
const CodeRequiresUserInput = "requires_user_input"

// APIError is the single tagged error type produced at the transport
// boundary. StatusCode is 0 for failures that never produced a response.
type APIError struct {
	StatusCode int
	RequestID  string
	Code       string // backend error code, if the body carried one
	Message    string
	Err        error // sentinel, for errors.Is()
	Cause      error // underlying transport error for network failures
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("coachapi: network error: %s", e.Message)
	}

	if e.RequestID != "" {
		return fmt.Sprintf("coachapi: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("coachapi: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes both the sentinel and the transport cause so callers can
// match either with errors.Is / errors.As.
func (e *APIError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}

	return []error{e.Err, e.Cause}
}

// errorBody is the backend's error envelope. Both the nested and the flat
// form are in use depending on the endpoint.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newAPIError builds an APIError from a non-2xx response body.
func newAPIError(status int, requestID string, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		RequestID:  requestID,
		Message:    strings.TrimSpace(string(body)),
		Err:        classifyStatus(status),
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Error != nil:
			apiErr.Code = eb.Error.Code
			if eb.Error.Message != "" {
				apiErr.Message = eb.Error.Message
			}
		case eb.Code != "" || eb.Message != "" || eb.Detail != "":
			apiErr.Code = eb.Code
			if eb.Message != "" {
				apiErr.Message = eb.Message
			} else if eb.Detail != "" {
				apiErr.Message = eb.Detail
			}
		}
	}

	if apiErr.Code == CodeRequiresUserInput {
		apiErr.Err = ErrUserAction
	}

	return apiErr
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestTimeout:
		return ErrTimeout
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusBadRequest {
			return ErrClientError
		}

		return nil
	}
}

// IsRetryableStatus reports whether the given HTTP status code is worth
// another attempt. The same table drives the transport's internal retry
// loop and errclass, so the two never disagree.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return code >= http.StatusInternalServerError
	}
}
