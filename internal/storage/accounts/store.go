// Package accounts defines the persistence adapter for user accounts.
// Implementations include a gowal-backed store (default), PostgreSQL,
// an in-memory store for tests, and a Redis read-through cache wrapper.
package accounts

import (
	"context"

	"github.com/vadiminshakov/papertrade/internal/domain"
)

// Store is the durable, authoritative home of account entities. Save writes
// the whole account (balance, holdings, history, conversation state) as one
// record, so a failed save never leaves a partial mutation behind. Callers
// serialize per-account access; stores only guarantee atomicity of a single
// Save.
type Store interface {
	// Load returns the stored account or domain.ErrAccountNotFound.
	Load(ctx context.Context, userID string) (*domain.UserAccount, error)

	// Save persists the account wholesale, replacing any previous record.
	Save(ctx context.Context, account *domain.UserAccount) error

	// List returns all stored accounts (used by admin broadcast).
	List(ctx context.Context) ([]*domain.UserAccount, error)

	// Close releases underlying resources.
	Close() error
}

// normalize repairs invariants on a freshly loaded account: nil maps from
// older records and conversation states no constructor would produce.
func normalize(account *domain.UserAccount) *domain.UserAccount {
	if account == nil {
		return nil
	}
	if account.Holdings == nil {
		account.Holdings = make(map[string]domain.Position)
	}
	if account.TradeHistory == nil {
		account.TradeHistory = make([]domain.TradeRecord, 0)
	}
	if !account.Conversation.Valid() {
		account.Conversation = domain.Idle()
	}
	return account
}
