package gutex

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-gutex/v1/borrow"
	gutexerrors "github.com/mirkobrombin/go-gutex/v1/errors"
	"github.com/mirkobrombin/go-gutex/v1/metrics"
)

// recoverErr runs fn and returns the error it panicked with, if any.
func recoverErr(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
			if err == nil {
				err = errors.New("non-error panic")
			}
		}
	}()
	fn()
	return nil
}

func TestSameGoroutineReadsCoexist(t *testing.T) {
	g := NewGroup()
	f1 := Spawn(g, "value1")
	f2 := Spawn(g, 0)

	r1 := f1.Read()
	r2 := f1.Read()
	r3 := f2.Read()
	if d := g.Depth(); d != 3 {
		t.Fatalf("expected depth 3, got %d", d)
	}
	if s := f1.State(); s.Readers != 2 || s.Writing {
		t.Fatalf("unexpected f1 state %v", s)
	}
	if r1.Value() != "value1" || r2.Value() != "value1" || r3.Value() != 0 {
		t.Fatal("unexpected values")
	}
	r3.Release()
	r2.Release()
	if d := g.Depth(); d != 1 {
		t.Fatalf("expected depth 1, got %d", d)
	}
	r1.Release()
	if d := g.Depth(); d != 0 {
		t.Fatalf("expected depth 0, got %d", d)
	}
	if g.HeldByCurrent() {
		t.Fatal("group still held after last release")
	}
}

func TestWriteWhileReadingConflicts(t *testing.T) {
	g := NewGroup(WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	f1 := Spawn(g, "value1", WithFieldName("f1"))

	r := f1.Read()
	defer r.Release()

	err := recoverErr(func() { f1.Write() })
	if !errors.Is(err, gutexerrors.ErrBorrowConflict) {
		t.Fatalf("expected borrow conflict, got %v", err)
	}
	var be *BorrowError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BorrowError, got %T", err)
	}
	if be.Rule() != borrow.WriteWhileReading || be.Field != "f1" || be.Op != metrics.ModeWrite {
		t.Fatalf("unexpected borrow error %+v", be)
	}
	if s := f1.State(); s.Readers != 1 || s.Writing {
		t.Fatalf("failed write changed state: %v", s)
	}
	if d := g.Depth(); d != 1 {
		t.Fatalf("failed write leaked depth: %d", d)
	}
}

func TestReadWhileWritingConflicts(t *testing.T) {
	g := NewGroup(WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	f := Spawn(g, 1)

	w := f.Write()
	err := recoverErr(func() { f.Read() })
	var be *BorrowError
	if !errors.As(err, &be) || be.Rule() != borrow.ReadWhileWriting {
		t.Fatalf("expected read while writing, got %v", err)
	}
	err = recoverErr(func() { f.Write() })
	if !errors.As(err, &be) || be.Rule() != borrow.WriteWhileWriting {
		t.Fatalf("expected write while writing, got %v", err)
	}
	if d := g.Depth(); d != 1 {
		t.Fatalf("failed borrows leaked depth: %d", d)
	}
	w.Release()
	if s := f.State(); !s.Idle() {
		t.Fatalf("expected idle field, got %v", s)
	}
}

func TestCrossFieldSameGoroutine(t *testing.T) {
	g := NewGroup()
	a := Spawn(g, []int{1})
	b := Spawn(g, "b")

	w := a.Write()
	r := b.Read()
	*w.Ptr() = append(*w.Ptr(), 2)
	if r.Value() != "b" {
		t.Fatal("unexpected value")
	}
	w2 := Spawn(g, 0).Write()
	if d := g.Depth(); d != 3 {
		t.Fatalf("expected depth 3, got %d", d)
	}
	w2.Release()
	r.Release()
	w.Release()
	if got := a.Get(); len(got) != 2 || got[1] != 2 {
		t.Fatalf("unexpected slice %v", got)
	}
}

func TestScenarioReadThenWriteAcrossGoroutines(t *testing.T) {
	g := NewGroup()
	f1 := Spawn(g, "value1")
	f2 := Spawn(g, 0)

	depths := make(chan int, 2)
	go func() {
		r := f1.Read()
		w := f2.Write()
		w.Set(1)
		depths <- g.Depth()
		w.Release()
		r.Release()
		depths <- g.Depth()
	}()
	if d := <-depths; d != 2 {
		t.Fatalf("expected depth 2 while borrowed, got %d", d)
	}
	if d := <-depths; d != 0 {
		t.Fatalf("expected depth 0 after release, got %d", d)
	}

	errc := make(chan error)
	go func() {
		w, err := f1.TryWrite()
		if err == nil {
			w.Release()
		}
		errc <- err
	}()
	if err := <-errc; err != nil {
		t.Fatalf("expected immediate write, got %v", err)
	}
	if v := f2.Get(); v != 1 {
		t.Fatalf("expected f2 == 1, got %d", v)
	}
}

func TestOtherGoroutineBlocksOnDifferentField(t *testing.T) {
	g := NewGroup()
	a := Spawn(g, 0)
	b := Spawn(g, 0)

	r := a.Read()
	acquired := make(chan struct{})
	go func() {
		b.Update(func(v *int) { *v = 42 })
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("borrow on another field did not block")
	case <-time.After(50 * time.Millisecond):
	}
	r.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiting goroutine was not unblocked")
	}
	if v := b.Get(); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestTryBorrowWouldBlock(t *testing.T) {
	g := NewGroup()
	a := Spawn(g, 0)
	b := Spawn(g, 0)

	w := a.Write()
	errc := make(chan error, 2)
	go func() {
		_, err := b.TryRead()
		errc <- err
		_, err = b.TryWrite()
		errc <- err
	}()
	for i := 0; i < 2; i++ {
		if err := <-errc; !errors.Is(err, gutexerrors.ErrWouldBlock) {
			t.Fatalf("expected would block, got %v", err)
		}
	}
	w.Release()
}

func TestTryBorrowConflictLeavesStateUntouched(t *testing.T) {
	g := NewGroup()
	f := Spawn(g, 0)

	r, err := f.TryRead()
	if err != nil {
		t.Fatalf("try read: %v", err)
	}
	if _, err := f.TryWrite(); !errors.Is(err, gutexerrors.ErrBorrowConflict) {
		t.Fatalf("expected borrow conflict, got %v", err)
	}
	if s := f.State(); s.Readers != 1 || s.Writing {
		t.Fatalf("unexpected state %v", s)
	}
	if d := g.Depth(); d != 1 {
		t.Fatalf("expected depth 1, got %d", d)
	}
	r.Release()

	w, err := f.TryWrite()
	if err != nil {
		t.Fatalf("try write: %v", err)
	}
	if _, err := f.TryRead(); !errors.Is(err, gutexerrors.ErrBorrowConflict) {
		t.Fatalf("expected borrow conflict, got %v", err)
	}
	w.Release()
	if d := g.Depth(); d != 0 {
		t.Fatalf("expected depth 0, got %d", d)
	}
}

func TestGuardReleasedTwicePanics(t *testing.T) {
	g := NewGroup()
	f := Spawn(g, "x")

	r := f.Read()
	r.Release()
	if err := recoverErr(r.Release); !errors.Is(err, gutexerrors.ErrGuardReleased) {
		t.Fatalf("expected guard released, got %v", err)
	}
	if err := recoverErr(func() { r.Value() }); !errors.Is(err, gutexerrors.ErrGuardReleased) {
		t.Fatalf("expected guard released, got %v", err)
	}

	w := f.Write()
	w.Release()
	if err := recoverErr(func() { w.Set("y") }); !errors.Is(err, gutexerrors.ErrGuardReleased) {
		t.Fatalf("expected guard released, got %v", err)
	}
	if d := g.Depth(); d != 0 {
		t.Fatalf("expected depth 0, got %d", d)
	}
}

func TestReleaseFromOtherGoroutinePanics(t *testing.T) {
	g := NewGroup()
	f := Spawn(g, 0)

	w := f.Write()
	errc := make(chan error)
	go func() { errc <- recoverErr(w.Release) }()
	if err := <-errc; !errors.Is(err, gutexerrors.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if s := f.State(); !s.Writing {
		t.Fatalf("misplaced release changed state: %v", s)
	}
	w.Release()
}

func TestPanicWhileBorrowedReleasesGuards(t *testing.T) {
	g := NewGroup()
	a := Spawn(g, 0)
	b := Spawn(g, 0)

	err := recoverErr(func() {
		r := a.Read()
		defer r.Release()
		b.Update(func(v *int) {
			*v = 7
			panic(errors.New("boom"))
		})
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
	if d := g.Depth(); d != 0 {
		t.Fatalf("expected depth 0 after unwinding, got %d", d)
	}
	errc := make(chan error)
	go func() {
		w, err := a.TryWrite()
		if err == nil {
			w.Release()
		}
		errc <- err
	}()
	if err := <-errc; err != nil {
		t.Fatalf("group not released after panic: %v", err)
	}
	if v := b.Get(); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	g := NewGroup()
	counter := Spawn(g, 0)
	touched := Spawn(g, map[int]int{})

	const workers, iterations = 8, 500
	var eg errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		eg.Go(func() error {
			for j := 0; j < iterations; j++ {
				counter.Update(func(c *int) {
					*c++
					touched.Update(func(m *map[int]int) { (*m)[i]++ })
				})
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if v := counter.Get(); v != workers*iterations {
		t.Fatalf("lost updates: %d != %d", v, workers*iterations)
	}
	touched.With(func(m map[int]int) {
		for i := 0; i < workers; i++ {
			if m[i] != iterations {
				t.Fatalf("worker %d: %d updates", i, m[i])
			}
		}
	})
}

func TestConflictLoggedAndCounted(t *testing.T) {
	var buf bytes.Buffer
	g := NewGroup(WithName("accounts"), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	f := Spawn(g, 0, WithFieldName("balance"))
	c := metrics.ConflictCounter.WithLabelValues(borrow.WriteWhileReading.String())
	before := testutil.ToFloat64(c)

	r := f.Read()
	_ = recoverErr(func() { f.Write() })
	r.Release()

	if after := testutil.ToFloat64(c); after-before != 1 {
		t.Fatalf("expected one conflict counted, got %v", after-before)
	}
	if !bytes.Contains(buf.Bytes(), []byte("field=balance")) {
		t.Fatalf("expected conflict log, got %q", buf.String())
	}
}

func TestGroupDo(t *testing.T) {
	g := NewGroup(WithID("g1"))
	a := Spawn(g, 1)
	b := Spawn(g, 2)

	g.Do(func() {
		if !g.HeldByCurrent() || g.Depth() != 1 {
			t.Fatalf("expected group held at depth 1, got %d", g.Depth())
		}
		a.Update(func(v *int) { *v += b.Get() })
	})
	if g.Depth() != 0 {
		t.Fatal("group still held after Do")
	}
	if v := a.Get(); v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
	if g.ID() != "g1" {
		t.Fatalf("unexpected id %q", g.ID())
	}
}

func TestGuardString(t *testing.T) {
	g := NewGroup()
	f := Spawn(g, 12)
	r := f.Read()
	if s := r.String(); s != "12" {
		t.Fatalf("got %q", s)
	}
	r.Release()
	w := f.Write()
	w.Set(13)
	if s := w.String(); s != "13" {
		t.Fatalf("got %q", s)
	}
	w.Release()
}

func TestSpawnNamesFields(t *testing.T) {
	g := NewGroup()
	a := Spawn(g, 0)
	b := Spawn(g, 0, WithFieldName("b"))
	if a.Name() != "field-1" || b.Name() != "b" {
		t.Fatalf("unexpected names %q %q", a.Name(), b.Name())
	}
	if a.Group() != g {
		t.Fatal("field not bound to its group")
	}
}
