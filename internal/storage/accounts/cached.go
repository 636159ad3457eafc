package accounts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary first and re-populate the cache only on success, so the
// primary stays the single authority and the cache can never hold a state
// the primary rejected. The cache is always refreshed under the same
// per-account lock the ledger holds for the mutation.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func accountKey(userID string) string {
	return "papertrade:account:" + userID
}

// Load checks Redis first and falls back to the primary on a miss.
func (s *CachedStore) Load(ctx context.Context, userID string) (*domain.UserAccount, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var account domain.UserAccount
		if json.Unmarshal(data, &account) == nil {
			return normalize(&account), nil
		}
	}

	account, err := s.primary.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, account)
	return account, nil
}

// Save writes to the primary, then refreshes the cache. A cache failure is
// not an error: the next miss re-reads the primary.
func (s *CachedStore) Save(ctx context.Context, account *domain.UserAccount) error {
	if err := s.primary.Save(ctx, account); err != nil {
		// Drop any cached copy so readers cannot observe state newer than
		// what the primary accepted.
		s.rdb.Del(ctx, accountKey(account.ID))
		return err
	}
	s.cache(ctx, account)
	return nil
}

// List always reads the primary; broadcast fan-out must not miss accounts
// evicted from the cache.
func (s *CachedStore) List(ctx context.Context) ([]*domain.UserAccount, error) {
	return s.primary.List(ctx)
}

// Close closes the Redis client and the primary store.
func (s *CachedStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return errors.Wrap(err, "close redis client")
	}
	return s.primary.Close()
}

func (s *CachedStore) cache(ctx context.Context, account *domain.UserAccount) {
	payload, err := json.Marshal(account)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, accountKey(account.ID), payload, s.ttl)
}
