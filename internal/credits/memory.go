package credits

import (
	"context"
	"sync"
)

// MemoryStore keeps balances in process memory. Each user has its own lock,
// so requests for different users never contend.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*account
	payments map[string]struct{}
}

type account struct {
	mu      sync.Mutex
	balance int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*account),
		payments: make(map[string]struct{}),
	}
}

func (s *MemoryStore) account(userID string, grant int) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		a = &account{balance: grant}
		s.accounts[userID] = a
	}
	return a
}

func (s *MemoryStore) EnsureBalance(_ context.Context, userID string, grant int) (int, error) {
	a := s.account(userID, grant)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

func (s *MemoryStore) DeductIfAvailable(_ context.Context, userID string, amount, grant int) (int, bool, error) {
	a := s.account(userID, grant)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balance < amount {
		return a.balance, false, nil
	}
	a.balance -= amount
	return a.balance, true, nil
}

func (s *MemoryStore) AddBalance(_ context.Context, userID string, amount, grant int) (int, error) {
	a := s.account(userID, grant)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += amount
	return a.balance, nil
}

func (s *MemoryStore) ApplyPurchase(ctx context.Context, userID, paymentID string, amount, grant int) (int, bool, error) {
	s.mu.Lock()
	_, seen := s.payments[paymentID]
	if !seen {
		s.payments[paymentID] = struct{}{}
	}
	s.mu.Unlock()

	if seen {
		bal, err := s.EnsureBalance(ctx, userID, grant)
		return bal, false, err
	}
	bal, err := s.AddBalance(ctx, userID, amount, grant)
	return bal, true, err
}
