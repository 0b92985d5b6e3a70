package authz

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when an entity id does not resolve.
var ErrNotFound = errors.New("entity not found")

// DenialError indicates the caller lacks the role required for an operation.
// It carries the operation so consuming layers can render a precise message.
type DenialError struct {
	Op       Permission
	EntityID uuid.UUID
	Required Role
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("permission denied: %s on %s requires %s", e.Op, e.EntityID, e.Required)
}

// IsDenial reports whether err is (or wraps) a permission denial.
func IsDenial(err error) bool {
	var de *DenialError
	return errors.As(err, &de)
}

// ValidationError indicates malformed caller input, rejected before any
// persistence. The caller must correct the request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a validation fault.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IntegrityError indicates a data-integrity fault (publisher cycle, undefined
// role threshold, failed propagation). The surrounding operation must abort
// and roll back; this is a system alarm, not a user-facing denial.
type IntegrityError struct {
	EntityID uuid.UUID
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity fault on %s: %s", e.EntityID, e.Reason)
}

// IsIntegrity reports whether err is (or wraps) an integrity fault.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
