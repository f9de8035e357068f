// Package gutex lets the fields of a struct share one lock.
//
// Giving every field its own sync.Mutex invites deadlocks: two code paths
// that lock the same fields in a different order can block each other
// forever. A Group replaces those mutexes with a single reentrant lock shared
// by every Field spawned from it:
//
//	type Account struct {
//		owner   *gutex.Field[string]
//		balance *gutex.Field[int]
//	}
//
//	g := gutex.NewGroup(gutex.WithName("account"))
//	acc := Account{
//		owner:   gutex.Spawn(g, "alice"),
//		balance: gutex.Spawn(g, 0),
//	}
//
// Borrowing any field locks the group. Other goroutines block until the
// holder has released every guard, while the holder itself may keep
// borrowing other fields (or the same field for reading) without blocking.
//
// Inside the holding goroutine each field is borrow-checked like a RefCell:
// many readers or one writer. A conflicting Read or Write panics with a
// *BorrowError instead of deadlocking; TryRead and TryWrite return the error
// instead. Guards must be released exactly once, usually with defer:
//
//	r := acc.owner.Read()
//	defer r.Release()
//	w := acc.balance.Write()
//	defer w.Release()
//	*w.Ptr() += 10
package gutex
