package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoAPIKey       = errors.New("API key is required")
	ErrInvalidBaseURL = errors.New("invalid base URL")
	ErrNilContext     = errors.New("context cannot be nil")
	ErrNoEmbedding    = errors.New("no embedding returned")
)

type APIErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// RateLimitError maps provider 429 responses. Eligible for fallback
// synthesis.
type RateLimitError struct {
	APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %s", e.StatusCode, e.Message)
}

// AuthError maps 401/403 responses. Fatal: a configuration problem that
// must reach operators, never substituted by fallback vectors.
type AuthError struct {
	APIError
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Message)
}

// InvalidInputError maps empty or rejected input. Fatal: the caller must
// fix the document.
type InvalidInputError struct {
	APIError
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input (status %d): %s", e.StatusCode, e.Message)
}

// UnavailableError covers network failures, timeouts and 5xx responses.
// Eligible for fallback synthesis and degraded search.
type UnavailableError struct {
	APIError
	Cause error
}

func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider unavailable: %v", e.Cause)
	}
	return fmt.Sprintf("provider unavailable (status %d): %s", e.StatusCode, e.Message)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

func parseAPIError(statusCode int, header http.Header, body []byte) error {
	var resp APIErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		resp.Error = APIError{Message: string(body)}
	}

	apiErr := APIError{
		StatusCode: statusCode,
		Message:    resp.Error.Message,
		Type:       resp.Error.Type,
		Code:       resp.Error.Code,
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		retryAfter := retryAfterFromHeader(header)
		if retryAfter == 0 {
			retryAfter = parseRetryAfter(string(body))
		}
		return &RateLimitError{
			APIError:   apiErr,
			RetryAfter: retryAfter,
		}
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return &AuthError{APIError: apiErr}
	case statusCode == http.StatusBadRequest, statusCode == http.StatusUnprocessableEntity:
		return &InvalidInputError{APIError: apiErr}
	case statusCode >= 500, statusCode == http.StatusRequestTimeout:
		return &UnavailableError{APIError: apiErr}
	default:
		return &apiErr
	}
}

// retryAfterFromHeader reads the standard Retry-After header, which
// carries either delay-seconds or an HTTP-date.
func retryAfterFromHeader(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func parseRetryAfter(body string) time.Duration {
	lowerBody := strings.ToLower(body)
	idx := strings.Index(lowerBody, "retry-after")
	if idx == -1 {
		return 0
	}

	rest := strings.TrimSpace(body[idx+len("retry-after"):])
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return 0
	}

	if n, err := strconv.Atoi(strings.Trim(parts[0], `":,`)); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}

	return 0
}

func IsRateLimited(err error) bool {
	var rateLimitErr *RateLimitError
	return errors.As(err, &rateLimitErr)
}

func IsUnauthorized(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func IsInvalidInput(err error) bool {
	var invalidErr *InvalidInputError
	return errors.As(err, &invalidErr)
}

func IsUnavailable(err error) bool {
	var unavailableErr *UnavailableError
	return errors.As(err, &unavailableErr)
}

// IsFallbackEligible reports whether the failure may be substituted by a
// synthesized vector. Auth and input errors must propagate instead.
func IsFallbackEligible(err error) bool {
	return IsRateLimited(err) || IsUnavailable(err)
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		(statusCode >= 500 && statusCode < 600)
}
