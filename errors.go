package soar

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNoCredentials          = errors.New("soar: no credentials configured")
	ErrIncompleteCredentials  = errors.New("soar: both username and password are required")
	ErrNoBaseURL              = errors.New("soar: no base URL configured")
	ErrNoIdentifier           = errors.New("soar: object has no server identifier")
	ErrNoPlaybooks            = errors.New("soar: no playbooks to run")
	ErrUnansweredPrompt       = errors.New("soar: no configured answers for prompt")
	ErrPromptAnswersExhausted = errors.New("soar: configured answers for prompt exhausted")
	ErrRunTimeout             = errors.New("soar: playbook run did not finish in time")
	ErrRunFailed              = errors.New("soar: playbook run failed")
	ErrAmbiguousPlaybook      = errors.New("soar: playbook name matches more than one playbook")
)

// APIError represents a general SOAR API error.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	RequestID  string `json:"-"`
	Method     string `json:"-"`
	Path       string `json:"-"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "soar: API error %d", e.StatusCode)
	if e.Method != "" {
		fmt.Fprintf(&b, " (%s %s)", e.Method, e.Path)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request_id=%s)", e.RequestID)
	}
	return b.String()
}

// AuthenticationError indicates authentication failure (401/403) or a
// failed authorization check.
type AuthenticationError struct {
	APIError
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("soar: authentication failed: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *AuthenticationError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// NotFoundError indicates the requested resource was not found (404).
type NotFoundError struct {
	APIError
	ResourceType string
	ResourceID   string
}

func (e *NotFoundError) Error() string {
	if e.ResourceType != "" && e.ResourceID != "" {
		return fmt.Sprintf("soar: %s not found: %s", e.ResourceType, e.ResourceID)
	}
	return fmt.Sprintf("soar: resource not found: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *NotFoundError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// ValidationError indicates invalid request data (400) or a local object
// that cannot be submitted as is.
type ValidationError struct {
	APIError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("soar: validation error: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *ValidationError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// RateLimitError indicates the API rate limit was exceeded (429).
type RateLimitError struct {
	APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("soar: rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "soar: rate limit exceeded"
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *RateLimitError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// ServerError indicates an internal server error (5xx).
type ServerError struct {
	APIError
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("soar: server error %d: %s", e.StatusCode, e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *ServerError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// ReferenceError reports an operation that needs a server identifier the
// object does not have yet, such as refreshing a container never created.
type ReferenceError struct {
	Op       string
	Resource string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("soar: %s requires a %s with a server id", e.Op, e.Resource)
}

// Is matches ErrNoIdentifier.
func (e *ReferenceError) Is(target error) bool {
	return target == ErrNoIdentifier
}

// PlaybookError reports a playbook run that did not succeed.
// Err holds the cause and is reachable with errors.Is / errors.As.
type PlaybookError struct {
	Playbook string
	RunID    int64
	Status   string
	Detail   string
	Err      error
}

func (e *PlaybookError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "soar: playbook %q", e.Playbook)
	if e.RunID != 0 {
		fmt.Fprintf(&b, " run %d", e.RunID)
	}
	if e.Status != "" {
		fmt.Fprintf(&b, " (%s)", e.Status)
	}
	switch {
	case e.Detail != "":
		fmt.Fprintf(&b, ": %s", e.Detail)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PlaybookError) Unwrap() error {
	return e.Err
}

// parseError converts an HTTP response into the appropriate error type.
func parseError(statusCode int, body []byte, headers http.Header) error {
	base := APIError{
		StatusCode: statusCode,
		RequestID:  headers.Get("X-Request-ID"),
	}

	// SOAR replies {"failed": true, "message": "..."} on most errors
	if err := json.Unmarshal(body, &base); err != nil || base.Message == "" {
		base.Message = strings.TrimSpace(string(body))
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &AuthenticationError{APIError: base}
	case statusCode == http.StatusNotFound:
		return &NotFoundError{APIError: base}
	case statusCode == http.StatusBadRequest:
		return &ValidationError{APIError: base}
	case statusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			APIError:   base,
			RetryAfter: parseRetryAfter(headers.Get("Retry-After")),
		}
	case statusCode >= http.StatusInternalServerError:
		return &ServerError{APIError: base}
	default:
		return &base
	}
}

// parseRetryAfter parses the Retry-After header value.
// It handles both seconds (integer) and HTTP-date formats.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := time.Parse(time.RFC1123, value); err == nil {
		duration := time.Until(t)
		if duration > 0 {
			return duration
		}
	}

	return 0
}

func validationError(format string, args ...any) error {
	return &ValidationError{
		APIError: APIError{Message: fmt.Sprintf(format, args...)},
	}
}
