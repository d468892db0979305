// Package credits tracks the spendable credit balance of each user.
package credits

import (
	"context"
	"errors"
	"fmt"
)

// StartingGrant is the balance given to a user on first access.
const StartingGrant = 10

var (
	// ErrInvalidAmount is returned when a credit amount is not a positive integer.
	ErrInvalidAmount = errors.New("amount must be a positive integer")
	// ErrMissingPaymentID is returned by Purchase when no payment id is given.
	ErrMissingPaymentID = errors.New("payment id is required")
)

// Store persists balances. A missing user is created with the given grant
// before the operation is applied. DeductIfAvailable must check and subtract
// as one atomic step for a given user; it reports ok=false and leaves the
// balance untouched when the balance is below amount. ApplyPurchase records
// paymentID and credits amount together. Payment ids are unique across all
// users: an id seen before, for any user, is not applied again and reports
// applied=false.
type Store interface {
	EnsureBalance(ctx context.Context, userID string, grant int) (int, error)
	DeductIfAvailable(ctx context.Context, userID string, amount, grant int) (balance int, ok bool, err error)
	AddBalance(ctx context.Context, userID string, amount, grant int) (int, error)
	ApplyPurchase(ctx context.Context, userID, paymentID string, amount, grant int) (balance int, applied bool, err error)
}

// Ledger is the only writer of user balances.
type Ledger struct {
	store Store
	grant int
}

// NewLedger creates a Ledger on top of store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, grant: StartingGrant}
}

// Balance returns the user's balance, initializing it to StartingGrant if the
// user has never been seen.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	bal, err := l.store.EnsureBalance(ctx, userID, l.grant)
	if err != nil {
		return 0, fmt.Errorf("reading balance for %s: %w", userID, err)
	}
	return bal, nil
}

// TryDeduct subtracts amount if and only if the balance covers it. It returns
// the balance after the call and whether the deduction happened.
func (l *Ledger) TryDeduct(ctx context.Context, userID string, amount int) (int, bool, error) {
	if amount < 0 {
		return 0, false, ErrInvalidAmount
	}
	if amount == 0 {
		bal, err := l.Balance(ctx, userID)
		return bal, err == nil, err
	}
	bal, ok, err := l.store.DeductIfAvailable(ctx, userID, amount, l.grant)
	if err != nil {
		return 0, false, fmt.Errorf("deducting %d from %s: %w", amount, userID, err)
	}
	return bal, ok, nil
}

// Add credits the user's balance and returns the new balance.
func (l *Ledger) Add(ctx context.Context, userID string, amount int) (int, error) {
	if amount < 1 {
		return 0, ErrInvalidAmount
	}
	bal, err := l.store.AddBalance(ctx, userID, amount, l.grant)
	if err != nil {
		return 0, fmt.Errorf("adding %d to %s: %w", amount, userID, err)
	}
	return bal, nil
}

// Purchase credits a top-up identified by paymentID. Replaying a payment id
// leaves the balance alone and returns applied=false.
func (l *Ledger) Purchase(ctx context.Context, userID, paymentID string, amount int) (int, bool, error) {
	if amount < 1 {
		return 0, false, ErrInvalidAmount
	}
	if paymentID == "" {
		return 0, false, ErrMissingPaymentID
	}
	bal, applied, err := l.store.ApplyPurchase(ctx, userID, paymentID, amount, l.grant)
	if err != nil {
		return 0, false, fmt.Errorf("applying payment %s for %s: %w", paymentID, userID, err)
	}
	return bal, applied, nil
}
