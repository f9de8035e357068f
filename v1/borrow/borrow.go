// Package borrow tracks the shared/exclusive borrow state of a single value.
//
// A Cell is a runtime-checked borrow flag in the spirit of a RefCell: any
// number of readers, or exactly one writer, never both. Conflicts are
// reported immediately instead of blocking.
//
// Cell performs no synchronization of its own. Callers must serialize every
// access, typically by holding the lock of the group the cell belongs to.
package borrow

import (
	"fmt"

	gutexerrors "github.com/mirkobrombin/go-gutex/v1/errors"
)

// Rule names the borrow rule a request violated.
type Rule int

const (
	// ReadWhileWriting is a read requested while a write is active.
	ReadWhileWriting Rule = iota + 1
	// WriteWhileReading is a write requested while reads are active.
	WriteWhileReading
	// WriteWhileWriting is a write requested while a write is active.
	WriteWhileWriting
)

func (r Rule) String() string {
	switch r {
	case ReadWhileWriting:
		return "read while writing"
	case WriteWhileReading:
		return "write while reading"
	case WriteWhileWriting:
		return "write while writing"
	default:
		return fmt.Sprintf("Rule(%d)", int(r))
	}
}

// ConflictError describes a rejected borrow. It wraps
// errors.ErrBorrowConflict.
type ConflictError struct {
	Rule    Rule
	Readers int
}

func (e *ConflictError) Error() string {
	switch e.Rule {
	case ReadWhileWriting:
		return "gutex: attempt to acquire the read lock while there is an active write lock"
	case WriteWhileReading:
		return fmt.Sprintf("gutex: attempt to acquire the write lock while there are %d active readers", e.Readers)
	default:
		return "gutex: attempt to acquire the write lock while there is an active writer"
	}
}

func (e *ConflictError) Unwrap() error { return gutexerrors.ErrBorrowConflict }

// State is a snapshot of a Cell.
type State struct {
	Readers int
	Writing bool
}

// Idle reports whether no borrow is active.
func (s State) Idle() bool { return s.Readers == 0 && !s.Writing }

func (s State) String() string {
	switch {
	case s.Writing:
		return "writing"
	case s.Readers > 0:
		return fmt.Sprintf("reading(%d)", s.Readers)
	default:
		return "idle"
	}
}

// Cell holds the borrow state of one value. The zero value is idle.
type Cell struct {
	readers int
	writing bool
}

// BeginRead registers a shared borrow. It fails if a write is active.
func (c *Cell) BeginRead() error {
	if c.writing {
		return &ConflictError{Rule: ReadWhileWriting}
	}
	c.readers++
	return nil
}

// EndRead releases a shared borrow.
func (c *Cell) EndRead() {
	if c.readers == 0 {
		panic(fmt.Errorf("%w: no active reader", gutexerrors.ErrUnbalancedRelease))
	}
	c.readers--
}

// BeginWrite registers the exclusive borrow. It fails if any borrow is
// active.
func (c *Cell) BeginWrite() error {
	if c.writing {
		return &ConflictError{Rule: WriteWhileWriting}
	}
	if c.readers > 0 {
		return &ConflictError{Rule: WriteWhileReading, Readers: c.readers}
	}
	c.writing = true
	return nil
}

// EndWrite releases the exclusive borrow.
func (c *Cell) EndWrite() {
	if !c.writing {
		panic(fmt.Errorf("%w: no active writer", gutexerrors.ErrUnbalancedRelease))
	}
	c.writing = false
}

// State returns a snapshot of the cell.
func (c *Cell) State() State {
	return State{Readers: c.readers, Writing: c.writing}
}
