package errors

import "errors"

var (
	// ErrBorrowConflict reports a violation of the many readers XOR one
	// writer rule on a single field.
	ErrBorrowConflict = errors.New("gutex: borrow conflict")
	// ErrWouldBlock is returned by the non-blocking borrows when another
	// goroutine holds the group.
	ErrWouldBlock = errors.New("gutex: group held by another goroutine")
	// ErrNotOwner reports a release from a goroutine that does not hold the
	// group lock.
	ErrNotOwner = errors.New("gutex: release by non-owning goroutine")
	// ErrUnbalancedRelease reports a release without a matching acquire.
	ErrUnbalancedRelease = errors.New("gutex: release without matching acquire")
	// ErrGuardReleased reports use of a guard after it was released.
	ErrGuardReleased = errors.New("gutex: guard already released")
)
