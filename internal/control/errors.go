package control

import (
	"errors"
	"fmt"
	"strings"

	"github.com/HyphaGroup/execstream/internal/logger"
)

// ErrRateLimited is returned when a control call is throttled locally
var ErrRateLimited = errors.New("control rate limit exceeded")

// APIError is a non-2xx response from a control endpoint
type APIError struct {
	Command    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed: HTTP %d", e.Command, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Command, e.StatusCode, e.Message)
}

// sensitivePatterns contains substrings that indicate credentials in an error
var sensitivePatterns = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"secret",
	"credential",
	"authorization",
	"bearer",
}

// internalErrorPatterns contains substrings that indicate transport internals
var internalErrorPatterns = []string{
	"connection refused",
	"no such host",
	"tls:",
	"x509",
	"i/o timeout",
	"broken pipe",
}

// SanitizeError returns a message safe to show the user.
// The full error is logged.
func SanitizeError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrRateLimited) {
		return fmt.Errorf("%s failed: too many requests, slow down", operation)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && !containsAny(apiErr.Message, sensitivePatterns) {
		return err
	}

	errStr := err.Error()
	if containsAny(errStr, sensitivePatterns) {
		logger.Error("%s failed (sensitive): %v", operation, err)
		return fmt.Errorf("%s failed: authentication or configuration error", operation)
	}
	if containsAny(errStr, internalErrorPatterns) {
		logger.Error("%s failed (network): %v", operation, err)
		return fmt.Errorf("%s failed: server unreachable", operation)
	}
	if len(errStr) < 120 {
		return err
	}

	logger.Error("%s failed: %v", operation, err)
	return fmt.Errorf("%s failed: an unexpected error occurred", operation)
}

func containsAny(s string, patterns []string) bool {
	lower := strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
