package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradefloor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRunIsExclusivePerAccount(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	release, err := table.AcquireRun(ctx, "warren")
	require.NoError(t, err)
	assert.True(t, table.RunLeaseHeld("warren"))

	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = table.AcquireRun(shortCtx, "warren")
	require.Error(t, err)
	assert.True(t, types.IsFault(err, types.FaultTimeout), "got %v", err)

	// A different account is an independent lease.
	other, err := table.AcquireRun(ctx, "cathie")
	require.NoError(t, err)
	other()

	release()
	assert.False(t, table.RunLeaseHeld("warren"))

	again, err := table.AcquireRun(ctx, "warren")
	require.NoError(t, err)
	again()
}

func TestRunLeaseReleaseIsIdempotent(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	release, err := table.AcquireRun(ctx, "warren")
	require.NoError(t, err)
	release()
	release()
	release()

	// A double release must not free a lease someone else now holds.
	held, err := table.AcquireRun(ctx, "warren")
	require.NoError(t, err)
	assert.True(t, table.RunLeaseHeld("warren"))

	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = table.AcquireRun(shortCtx, "warren")
	require.Error(t, err)

	held()
}

func TestAcquireRunHandsOffToWaiter(t *testing.T) {
	table := NewLockTable()
	ctx := context.Background()

	release, err := table.AcquireRun(ctx, "warren")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		waiterRelease, err := table.AcquireRun(ctx, "warren")
		assert.NoError(t, err)
		close(acquired)
		waiterRelease()
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired the lease while it was still held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lease")
	}
}

func TestOpLockSerializesMutations(t *testing.T) {
	table := NewLockTable()

	var counter int
	const goroutines = 8
	const increments = 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				unlock := table.lockOp("warren")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*increments, counter)
}
