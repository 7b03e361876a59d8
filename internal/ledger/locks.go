package ledger

import (
	"context"
	"sync"

	"tradefloor/internal/types"
)

type accountLock struct {
	// runSlot is the account's execution lease: held by an agent runtime
	// from Setup to Persist, and by operator resets. Channel-based so
	// waiting respects context cancellation.
	runSlot chan struct{}
	// opMu serializes individual ledger mutations. Held only for the
	// duration of one read-validate-write, never across tool calls.
	opMu sync.Mutex
}

// LockTable keys both lock levels by account name. Entries are created on
// first use and never removed; the roster is small and fixed.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*accountLock)}
}

func (lt *LockTable) get(name string) *accountLock {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	al, ok := lt.locks[name]
	if !ok {
		al = &accountLock{runSlot: make(chan struct{}, 1)}
		lt.locks[name] = al
	}
	return al
}

// AcquireRun takes the account's execution lease. The returned release is
// idempotent, so it is safe to defer it on every exit path and also call it
// explicitly in the happy path.
func (lt *LockTable) AcquireRun(ctx context.Context, name string) (func(), error) {
	al := lt.get(name)
	select {
	case al.runSlot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-al.runSlot })
		}, nil
	case <-ctx.Done():
		return nil, types.Faultf(types.FaultTimeout, "account %s: waiting for execution lease: %v", name, ctx.Err())
	}
}

// RunLeaseHeld reports whether the account's lease is currently taken.
// Diagnostic only; the answer can be stale the moment it returns.
func (lt *LockTable) RunLeaseHeld(name string) bool {
	al := lt.get(name)
	return len(al.runSlot) > 0
}

// lockOp takes the account's mutation lock and returns its unlock.
func (lt *LockTable) lockOp(name string) func() {
	al := lt.get(name)
	al.opMu.Lock()
	return al.opMu.Unlock
}
