package audit

import "errors"

// ErrImmutableRecord is returned by every attempt to update or delete an
// audit record. The trail is append-only without exception.
var ErrImmutableRecord = errors.New("audit records are immutable")

// ValidationError reports a record rejected before write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid audit record: " + e.Field + ": " + e.Message
}
