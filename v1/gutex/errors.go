package gutex

import (
	"errors"
	"fmt"

	"github.com/mirkobrombin/go-gutex/v1/borrow"
)

// BorrowError is the panic value of a conflicting Read or Write, and the
// error returned by a conflicting TryRead or TryWrite. It unwraps to the
// underlying *borrow.ConflictError and therefore matches
// errors.ErrBorrowConflict with errors.Is.
type BorrowError struct {
	Group string
	Field string
	Op    string
	Err   error
}

func (e *BorrowError) Error() string {
	return fmt.Sprintf("%v (group %s, field %s)", e.Err, e.Group, e.Field)
}

func (e *BorrowError) Unwrap() error { return e.Err }

// Rule returns the violated borrow rule.
func (e *BorrowError) Rule() borrow.Rule {
	var ce *borrow.ConflictError
	if errors.As(e.Err, &ce) {
		return ce.Rule
	}
	return 0
}
