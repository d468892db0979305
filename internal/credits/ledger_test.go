package credits

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBalance_FirstAccessGrantsStartingBalance(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StartingGrant, bal)

	bal, err = l.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 10, bal)
}

func TestTryDeduct_Insufficient_LeavesBalance(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	bal, ok, err := l.TryDeduct(ctx, "u1", 15)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 10, bal)

	bal, err = l.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 10, bal)
}

func TestTryDeduct_ExactBalanceReachesZero(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	bal, ok, err := l.TryDeduct(ctx, "u1", 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, bal)

	_, ok, err = l.TryDeduct(ctx, "u1", 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTryDeduct_NegativeAmount(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	_, _, err := l.TryDeduct(context.Background(), "u1", -1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAdd(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	bal, err := l.Add(ctx, "u1", 50)
	require.NoError(t, err)
	require.Equal(t, 60, bal)

	_, err = l.Add(ctx, "u1", 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Add(ctx, "u1", -3)
	require.ErrorIs(t, err, ErrInvalidAmount)

	bal, err = l.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 60, bal)
}

func TestTryDeduct_ConcurrentNeverOverspends(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.TryDeduct(ctx, "u1", 3)
			if err == nil && ok {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, bal, 0)
	require.Equal(t, int64(3), succeeded.Load())
	require.Equal(t, 1, bal)
}

func TestMemoryStore_UsersAreIndependent(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	_, ok, err := l.TryDeduct(ctx, "a", 10)
	require.NoError(t, err)
	require.True(t, ok)

	bal, err := l.Balance(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, 10, bal)
}

func TestPurchase_AppliesOncePerPayment(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	bal, applied, err := l.Purchase(ctx, "u1", "pay_1", 50)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 60, bal)

	bal, applied, err = l.Purchase(ctx, "u1", "pay_1", 50)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, 60, bal)

	bal, applied, err = l.Purchase(ctx, "u1", "pay_2", 10)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 70, bal)
}

func TestPurchase_PaymentIDsAreGlobal(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	_, applied, err := l.Purchase(ctx, "u1", "pay_shared", 50)
	require.NoError(t, err)
	require.True(t, applied)

	bal, applied, err := l.Purchase(ctx, "u2", "pay_shared", 50)
	require.NoError(t, err)
	require.False(t, applied, "a payment applied for one user must not credit another")
	require.Equal(t, StartingGrant, bal)
}

func TestPurchase_Validation(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	_, _, err := l.Purchase(ctx, "u1", "pay", 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = l.Purchase(ctx, "u1", "", 5)
	require.ErrorIs(t, err, ErrMissingPaymentID)
}

func TestPurchase_ConcurrentReplayAppliesOnce(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	var applied atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.Purchase(ctx, "u1", "pay_same", 5)
			require.NoError(t, err)
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), applied.Load())
	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 15, bal)
}
