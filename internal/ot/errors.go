package ot

import "fmt"

// ValidationError marks an operation that is malformed or out of range for
// the document it was applied to. It is rejected at submission and never
// committed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid operation: " + e.Reason
}

// ConflictError is the payload of the panic raised when the transform meets
// an operation pair it has no case for. After Validate this is unreachable;
// if it fires, the transform is defective and the document session must be
// torn down rather than allowed to diverge silently.
type ConflictError struct {
	A, B Operation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unresolvable transform conflict: %v vs %v", e.A, e.B)
}
