package gutex

import (
	"errors"
	"fmt"

	"github.com/mirkobrombin/go-gutex/v1/borrow"
	gutexerrors "github.com/mirkobrombin/go-gutex/v1/errors"
	"github.com/mirkobrombin/go-gutex/v1/goid"
	"github.com/mirkobrombin/go-gutex/v1/metrics"
)

var (
	readBorrows  = metrics.BorrowCounter.WithLabelValues(metrics.ModeRead)
	writeBorrows = metrics.BorrowCounter.WithLabelValues(metrics.ModeWrite)
)

// Field is a value protected by the lock of its group. The value is only
// reachable through a guard returned by Read or Write.
type Field[T any] struct {
	group *Group
	name  string
	// cell and value are protected by group.lock.
	cell  borrow.Cell
	value T
}

type fieldConfig struct {
	name string
}

// FieldOption configures a Field.
type FieldOption func(*fieldConfig)

// WithFieldName names the field in logs and borrow errors.
func WithFieldName(name string) FieldOption {
	return func(c *fieldConfig) {
		c.name = name
	}
}

// Spawn creates a field of g holding value.
func Spawn[T any](g *Group, value T, opts ...FieldOption) *Field[T] {
	n := g.fields.Add(1)
	cfg := fieldConfig{name: fmt.Sprintf("field-%d", n)}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Field[T]{group: g, name: cfg.name, value: value}
}

// Group returns the group f belongs to.
func (f *Field[T]) Group() *Group { return f.group }

// Name returns the field name.
func (f *Field[T]) Name() string { return f.name }

// Read borrows f for reading, blocking while another goroutine holds the
// group. It panics with a *BorrowError if f is borrowed for writing.
func (f *Field[T]) Read() *ReadGuard[T] {
	f.group.lock.Acquire()
	if err := f.cell.BeginRead(); err != nil {
		f.group.lock.Release()
		be := f.conflict(metrics.ModeRead, err)
		f.group.logger.Error("gutex: borrow conflict", "group", be.Group, "field", be.Field, "op", be.Op, "error", err)
		panic(be)
	}
	readBorrows.Inc()
	return &ReadGuard[T]{field: f, owner: f.group.lock.Owner()}
}

// Write borrows f for writing, blocking while another goroutine holds the
// group. It panics with a *BorrowError if f is borrowed for reading or
// writing.
func (f *Field[T]) Write() *WriteGuard[T] {
	f.group.lock.Acquire()
	if err := f.cell.BeginWrite(); err != nil {
		f.group.lock.Release()
		be := f.conflict(metrics.ModeWrite, err)
		f.group.logger.Error("gutex: borrow conflict", "group", be.Group, "field", be.Field, "op", be.Op, "error", err)
		panic(be)
	}
	writeBorrows.Inc()
	return &WriteGuard[T]{field: f, owner: f.group.lock.Owner()}
}

// TryRead is like Read but never blocks or panics. It returns
// errors.ErrWouldBlock if another goroutine holds the group and a
// *BorrowError if f is borrowed for writing.
func (f *Field[T]) TryRead() (*ReadGuard[T], error) {
	if !f.group.lock.TryAcquire() {
		return nil, gutexerrors.ErrWouldBlock
	}
	if err := f.cell.BeginRead(); err != nil {
		f.group.lock.Release()
		return nil, f.conflict(metrics.ModeRead, err)
	}
	readBorrows.Inc()
	return &ReadGuard[T]{field: f, owner: f.group.lock.Owner()}, nil
}

// TryWrite is like Write but never blocks or panics. It returns
// errors.ErrWouldBlock if another goroutine holds the group and a
// *BorrowError if f is already borrowed.
func (f *Field[T]) TryWrite() (*WriteGuard[T], error) {
	if !f.group.lock.TryAcquire() {
		return nil, gutexerrors.ErrWouldBlock
	}
	if err := f.cell.BeginWrite(); err != nil {
		f.group.lock.Release()
		return nil, f.conflict(metrics.ModeWrite, err)
	}
	writeBorrows.Inc()
	return &WriteGuard[T]{field: f, owner: f.group.lock.Owner()}, nil
}

// With calls fn with the value of f while holding a read borrow.
func (f *Field[T]) With(fn func(v T)) {
	g := f.Read()
	defer g.Release()
	fn(g.Value())
}

// Update calls fn with a pointer to the value of f while holding a write
// borrow. The pointer must not be retained after fn returns.
func (f *Field[T]) Update(fn func(v *T)) {
	g := f.Write()
	defer g.Release()
	fn(g.Ptr())
}

// Get returns a copy of the value of f.
func (f *Field[T]) Get() T {
	g := f.Read()
	defer g.Release()
	return g.Value()
}

// Set replaces the value of f.
func (f *Field[T]) Set(v T) {
	g := f.Write()
	defer g.Release()
	g.Set(v)
}

// State returns the borrow state of f. It acquires the group, so it blocks
// while another goroutine holds it.
func (f *Field[T]) State() borrow.State {
	f.group.lock.Acquire()
	defer f.group.lock.Release()
	return f.cell.State()
}

func (f *Field[T]) conflict(op string, err error) *BorrowError {
	var ce *borrow.ConflictError
	if errors.As(err, &ce) {
		metrics.ConflictCounter.WithLabelValues(ce.Rule.String()).Inc()
	}
	return &BorrowError{Group: f.group.ID(), Field: f.name, Op: op, Err: err}
}

// checkOwner panics unless the calling goroutine is owner.
func checkOwner(owner int64) {
	if me := goid.ID(); me != owner {
		panic(fmt.Errorf("%w: guard taken by goroutine %d, released by %d", gutexerrors.ErrNotOwner, owner, me))
	}
}
