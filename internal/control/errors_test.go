package control

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantNil  bool
		contains string
		excludes string
	}{
		{"nil", nil, true, "", ""},
		{"rate limited", fmt.Errorf("pause: %w", ErrRateLimited), false, "too many requests", ""},
		{"api error passes", &APIError{Command: "stop", StatusCode: 409, Message: "not running"}, false, "not running", ""},
		{"api error with token", &APIError{Command: "stop", StatusCode: 401, Message: "bad token abc123"}, false, "authentication", "abc123"},
		{"credential in url", errors.New(`Post "http://x/?api_key=hunter2": EOF`), false, "authentication", "hunter2"},
		{"network", errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), false, "server unreachable", "10.0.0.1"},
		{"short passes", errors.New("execution_id is required"), false, "execution_id is required", ""},
		{"long generic", errors.New(strings.Repeat("x", 200)), false, "unexpected error", "xxxx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeError(tt.err, "pause")
			if tt.wantNil {
				if got != nil {
					t.Errorf("SanitizeError() = %v, want nil", got)
				}
				return
			}
			if !strings.Contains(got.Error(), tt.contains) {
				t.Errorf("SanitizeError() = %q, want it to contain %q", got, tt.contains)
			}
			if tt.excludes != "" && strings.Contains(got.Error(), tt.excludes) {
				t.Errorf("SanitizeError() = %q leaks %q", got, tt.excludes)
			}
		})
	}
}
