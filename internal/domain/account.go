// Package domain defines core data structures used throughout the paper-trading bot.
package domain

import (
	"time"

	"github.com/pkg/errors"
)

// DustThreshold is the quantity below which a position is considered fully
// closed and removed from holdings instead of being kept at a near-zero size.
const DustThreshold = 1e-5

// TradeSide marks a trade record as a buy or a sell.
type TradeSide int

const (
	SideBuy TradeSide = iota
	SideSell
)

// String returns the string representation of the side.
func (s TradeSide) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Position is a user's holding in one token: quantity plus the
// volume-weighted average acquisition cost across all buys since the
// position was last fully closed.
type Position struct {
	Token       string  `json:"token"`
	Quantity    float64 `json:"quantity"`
	AverageCost float64 `json:"average_cost"`
}

// NewPosition constructs a position opened by a buy.
func NewPosition(token string, quantity, averageCost float64) (Position, error) {
	if token == "" {
		return Position{}, errors.New("position token must not be empty")
	}
	if quantity <= 0 {
		return Position{}, errors.New("position quantity must be greater than zero")
	}
	if averageCost <= 0 {
		return Position{}, errors.New("position average cost must be greater than zero")
	}
	return Position{Token: token, Quantity: quantity, AverageCost: averageCost}, nil
}

// UnrealizedPnL is the paper profit or loss at the given market price.
func (p Position) UnrealizedPnL(currentPrice float64) float64 {
	return (currentPrice - p.AverageCost) * p.Quantity
}

// TradeRecord is one executed trade. PnL is populated for sells only.
type TradeRecord struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Side      TradeSide `json:"side"`
	Timestamp time.Time `json:"timestamp"`
	PnL       float64   `json:"pnl,omitempty"`
}

// UserAccount is the durable per-user entity. The persisted record is
// authoritative; all mutations go through the ledger service under the
// per-account lock.
type UserAccount struct {
	ID           string              `json:"id"`
	CashBalance  float64             `json:"cash_balance"`
	Holdings     map[string]Position `json:"holdings"`
	RealizedPnL  float64             `json:"realized_pnl"`
	TradeHistory []TradeRecord       `json:"trade_history"`
	ReferredBy   string              `json:"referred_by,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	Conversation ConversationState   `json:"conversation"`
}

// NewUserAccount creates an account on first contact with the default balance.
func NewUserAccount(id string, initialBalance float64) (*UserAccount, error) {
	if id == "" {
		return nil, errors.New("account id must not be empty")
	}
	if initialBalance < 0 {
		return nil, errors.New("initial balance must not be negative")
	}
	return &UserAccount{
		ID:           id,
		CashBalance:  initialBalance,
		Holdings:     make(map[string]Position),
		RealizedPnL:  0,
		TradeHistory: make([]TradeRecord, 0),
		CreatedAt:    time.Now().UTC(),
		Conversation: Idle(),
	}, nil
}

// PositionFor returns the held position for a token, if any.
func (a *UserAccount) PositionFor(token string) (Position, bool) {
	pos, ok := a.Holdings[token]
	return pos, ok
}

// HeldTokens returns the addresses of all currently held tokens.
func (a *UserAccount) HeldTokens() []string {
	tokens := make([]string, 0, len(a.Holdings))
	for token := range a.Holdings {
		tokens = append(tokens, token)
	}
	return tokens
}

// Clone returns a deep copy. The ledger mutates a clone and persists it before
// publishing, so a failed save leaves the original untouched.
func (a *UserAccount) Clone() *UserAccount {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Holdings = make(map[string]Position, len(a.Holdings))
	for token, pos := range a.Holdings {
		clone.Holdings[token] = pos
	}
	clone.TradeHistory = make([]TradeRecord, len(a.TradeHistory))
	copy(clone.TradeHistory, a.TradeHistory)
	return &clone
}
