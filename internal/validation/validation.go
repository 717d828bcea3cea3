// Package validation checks identifiers before they are placed in request paths.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIDLength bounds any identifier sent to the server
const MaxIDLength = 128

// idRegex matches server identifiers: UUIDs, prefixed ids, slugs
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// ValidateID checks that id is a safe single path segment; kind names it in errors
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s exceeds %d characters", kind, MaxIDLength)
	}
	if strings.Contains(id, "..") || !idRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format: %q", kind, id)
	}
	return nil
}

// ValidateExecutionID validates an execution id
func ValidateExecutionID(id string) error {
	return ValidateID("execution_id", id)
}

// ValidateApprovalID validates an approval id
func ValidateApprovalID(id string) error {
	return ValidateID("approval_id", id)
}

// ValidateTargetID validates a workflow or agent id
func ValidateTargetID(id string) error {
	return ValidateID("target_id", id)
}
