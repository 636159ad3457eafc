package accounts

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

const (
	defaultAccountsDir  = "./wal/accounts"
	accountSegmentLimit = 1000
	accountMaxSegments  = 100
	accountKeyPrefix    = "account_"
)

// WALStore persists accounts in an append-only WAL. The latest record per
// account wins; the full map is recovered by replaying the log on startup.
type WALStore struct {
	mu     sync.RWMutex
	wal    *gowal.Wal
	latest map[string]*domain.UserAccount
}

// NewWALStore initializes a WAL-backed account store under dir and replays
// existing segments to rebuild the current account set.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultAccountsDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "accounts_",
		SegmentThreshold: accountSegmentLimit,
		MaxSegments:      accountMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init accounts WAL")
	}

	store := &WALStore{
		wal:    wal,
		latest: make(map[string]*domain.UserAccount),
	}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, accountKeyPrefix) {
			continue
		}
		var account domain.UserAccount
		if err := json.Unmarshal(msg.Value, &account); err != nil {
			return nil, errors.Wrapf(err, "decode account record %s", msg.Key)
		}
		store.latest[account.ID] = normalize(&account)
	}

	return store, nil
}

// Load returns the most recent record for the account.
func (s *WALStore) Load(_ context.Context, userID string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.latest[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return account.Clone(), nil
}

// Save appends the account to the WAL and updates the recovered map only
// after the write succeeds.
func (s *WALStore) Save(_ context.Context, account *domain.UserAccount) error {
	payload, err := json.Marshal(account)
	if err != nil {
		return errors.Wrap(err, "marshal account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, accountKeyPrefix+account.ID, payload); err != nil {
		return errors.Wrap(err, "append account record")
	}
	s.latest[account.ID] = account.Clone()
	return nil
}

// List returns all recovered accounts.
func (s *WALStore) List(_ context.Context) ([]*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.UserAccount, 0, len(s.latest))
	for _, account := range s.latest {
		out = append(out, account.Clone())
	}
	return out, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
