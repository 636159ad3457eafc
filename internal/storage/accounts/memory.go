package accounts

import (
	"context"
	"sync"

	"github.com/vadiminshakov/papertrade/internal/domain"
)

// MemoryStore keeps accounts in an in-memory map. Used for testing and
// development; data does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.UserAccount
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*domain.UserAccount)}
}

// Load returns a copy of the stored account.
func (s *MemoryStore) Load(_ context.Context, userID string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return normalize(account.Clone()), nil
}

// Save stores a copy so later caller mutations cannot leak into the store.
func (s *MemoryStore) Save(_ context.Context, account *domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account.Clone()
	return nil
}

// List returns copies of all stored accounts.
func (s *MemoryStore) List(_ context.Context) ([]*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.UserAccount, 0, len(s.accounts))
	for _, account := range s.accounts {
		out = append(out, normalize(account.Clone()))
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
