package validation

import (
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr string
	}{
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", ""},
		{"prefixed", "exec_20240101_abc", ""},
		{"namespaced", "wf:daily-report.v2", ""},
		{"empty", "", "is required"},
		{"too long", strings.Repeat("a", MaxIDLength+1), "exceeds"},
		{"path traversal", "../../etc/passwd", "invalid"},
		{"double dot inside", "a..b", "invalid"},
		{"slash", "a/b", "invalid"},
		{"query", "a?x=1", "invalid"},
		{"leading dash", "-rf", "invalid"},
		{"space", "a b", "invalid"},
		{"sql", "'; DROP TABLE messages; --", "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID("execution_id", tt.id)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateID() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateID() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateKinds(t *testing.T) {
	if err := ValidateApprovalID(""); err == nil || !strings.Contains(err.Error(), "approval_id") {
		t.Errorf("ValidateApprovalID() error = %v", err)
	}
	if err := ValidateTargetID("x/y"); err == nil || !strings.Contains(err.Error(), "target_id") {
		t.Errorf("ValidateTargetID() error = %v", err)
	}
	if err := ValidateExecutionID("exec-1"); err != nil {
		t.Errorf("ValidateExecutionID() error = %v", err)
	}
}
