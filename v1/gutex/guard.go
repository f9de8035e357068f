package gutex

import (
	"fmt"

	gutexerrors "github.com/mirkobrombin/go-gutex/v1/errors"
)

// ReadGuard is a live read borrow of a Field. It must be released exactly
// once, by the goroutine that created it.
type ReadGuard[T any] struct {
	field    *Field[T]
	owner    int64
	released bool
}

// Value returns the borrowed value.
func (g *ReadGuard[T]) Value() T {
	g.check()
	return g.field.value
}

// Release ends the borrow. The field state is cleared before the group lock
// is released.
func (g *ReadGuard[T]) Release() {
	g.check()
	checkOwner(g.owner)
	g.released = true
	g.field.cell.EndRead()
	g.field.group.lock.Release()
}

func (g *ReadGuard[T]) String() string {
	return fmt.Sprint(g.Value())
}

func (g *ReadGuard[T]) check() {
	if g.released {
		panic(fmt.Errorf("%w: read of %s", gutexerrors.ErrGuardReleased, g.field.name))
	}
}

// WriteGuard is a live write borrow of a Field. It must be released exactly
// once, by the goroutine that created it.
type WriteGuard[T any] struct {
	field    *Field[T]
	owner    int64
	released bool
}

// Value returns the borrowed value.
func (g *WriteGuard[T]) Value() T {
	g.check()
	return g.field.value
}

// Ptr returns a pointer to the borrowed value. It must not be used after
// the guard is released.
func (g *WriteGuard[T]) Ptr() *T {
	g.check()
	return &g.field.value
}

// Set replaces the borrowed value.
func (g *WriteGuard[T]) Set(v T) {
	g.check()
	g.field.value = v
}

// Release ends the borrow. The field state is cleared before the group lock
// is released.
func (g *WriteGuard[T]) Release() {
	g.check()
	checkOwner(g.owner)
	g.released = true
	g.field.cell.EndWrite()
	g.field.group.lock.Release()
}

func (g *WriteGuard[T]) String() string {
	return fmt.Sprint(g.Value())
}

func (g *WriteGuard[T]) check() {
	if g.released {
		panic(fmt.Errorf("%w: write of %s", gutexerrors.ErrGuardReleased, g.field.name))
	}
}
