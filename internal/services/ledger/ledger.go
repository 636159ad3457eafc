// Package ledger owns per-account balance, holdings, realized PnL and trade
// history. All mutations run under a per-account lock, operate on a clone of
// the stored entity and persist the clone wholesale before publishing, so any
// failure leaves the durable record untouched.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/metrics"
	"github.com/vadiminshakov/papertrade/internal/services/oracle"
	"github.com/vadiminshakov/papertrade/internal/storage/accounts"
	"go.uber.org/zap"
)

// Config carries the tunable business parameters of the engine.
type Config struct {
	// InitialBalance is credited to an account on first contact.
	InitialBalance float64
	// ReferralBonus is credited to the referrer when a referred user joins.
	ReferralBonus float64
	// QuoteTimeout bounds every oracle call. A timeout is treated the same
	// as any other quote failure.
	QuoteTimeout time.Duration
}

// Service executes Buy, Sell, Snapshot and PositionPnL against the account
// store. The store is the single authority; the service holds no cache.
type Service struct {
	store  accounts.Store
	oracle oracle.Oracle
	locks  *keyedMutex
	logger *zap.Logger
	cfg    Config
}

// NewService creates the ledger engine.
func NewService(logger *zap.Logger, store accounts.Store, orc oracle.Oracle, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("account store is required")
	}
	if orc == nil {
		return nil, errors.New("price oracle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 5 * time.Second
	}
	return &Service{
		store:  store,
		oracle: orc,
		locks:  newKeyedMutex(),
		logger: logger,
		cfg:    cfg,
	}, nil
}

// BuyResult reports a filled buy.
type BuyResult struct {
	Token    string
	Quantity float64
	Price    float64
	Spent    float64
}

// SellResult reports a filled sell.
type SellResult struct {
	Token        string
	QuantitySold float64
	Price        float64
	Proceeds     float64
	PnL          float64
	Closed       bool
}

// TokenValue is one position's market value inside a balance snapshot.
// Unavailable marks tokens whose quote failed; the snapshot still completes.
type TokenValue struct {
	Token       string
	Quantity    float64
	AverageCost float64
	Price       float64
	Value       float64
	Unavailable bool
}

// Snapshot is the full account valuation at current prices.
type Snapshot struct {
	Cash        float64
	Positions   []TokenValue
	TotalValue  float64
	RealizedPnL float64
}

// PositionView is the answer to a per-token PnL query.
type PositionView struct {
	Token         string
	Quantity      float64
	AverageCost   float64
	CurrentPrice  float64
	UnrealizedPnL float64
}

// GetOrCreate loads the account, creating it with the initial balance on
// first contact. referrerID, when set and distinct from the new user,
// credits the referrer's account with the referral bonus.
func (s *Service) GetOrCreate(ctx context.Context, userID, referrerID string) (*domain.UserAccount, bool, error) {
	unlock := s.locks.lock(userID)
	account, err := s.store.Load(ctx, userID)
	if err == nil {
		unlock()
		return account, false, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		unlock()
		return nil, false, errors.Wrapf(domain.ErrPersistence, "load account %s: %v", userID, err)
	}

	account, err = domain.NewUserAccount(userID, s.cfg.InitialBalance)
	if err != nil {
		unlock()
		return nil, false, err
	}
	if referrerID != "" && referrerID != userID {
		account.ReferredBy = referrerID
	}
	if err := s.store.Save(ctx, account); err != nil {
		unlock()
		return nil, false, errors.Wrapf(domain.ErrPersistence, "save new account %s: %v", userID, err)
	}
	unlock()

	s.logger.Info("account created",
		zap.String("user", userID),
		zap.Float64("initial_balance", s.cfg.InitialBalance))

	if account.ReferredBy != "" {
		if err := s.creditReferral(ctx, account.ReferredBy); err != nil {
			// The new account exists either way; a missing or failing
			// referrer only costs the bonus.
			s.logger.Warn("referral bonus not credited",
				zap.String("referrer", account.ReferredBy),
				zap.Error(err))
		}
	}

	return account, true, nil
}

func (s *Service) creditReferral(ctx context.Context, referrerID string) error {
	if s.cfg.ReferralBonus <= 0 {
		return nil
	}
	unlock := s.locks.lock(referrerID)
	defer unlock()

	referrer, err := s.store.Load(ctx, referrerID)
	if err != nil {
		return err
	}
	updated := referrer.Clone()
	updated.CashBalance += s.cfg.ReferralBonus
	if err := s.store.Save(ctx, updated); err != nil {
		return errors.Wrapf(domain.ErrPersistence, "save referrer %s: %v", referrerID, err)
	}
	return nil
}

// Buy spends usdAmount of cash on the token at the current oracle price.
// Failure order: InvalidAmount, PriceUnavailable, InsufficientFunds.
func (s *Service) Buy(ctx context.Context, userID, token string, usdAmount float64) (BuyResult, error) {
	if usdAmount <= 0 {
		metrics.TradeRejections.WithLabelValues("invalid_amount").Inc()
		return BuyResult{}, domain.ErrInvalidAmount
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	account, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return BuyResult{}, err
	}

	price, err := s.quote(ctx, token)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("price_unavailable").Inc()
		return BuyResult{}, err
	}

	if usdAmount > account.CashBalance {
		metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		return BuyResult{}, domain.ErrInsufficientFunds
	}

	quantity := usdAmount / price

	updated := account.Clone()
	if pos, ok := updated.Holdings[token]; ok {
		newQty := pos.Quantity + quantity
		pos.AverageCost = (pos.Quantity*pos.AverageCost + usdAmount) / newQty
		pos.Quantity = newQty
		updated.Holdings[token] = pos
	} else {
		pos, err := domain.NewPosition(token, quantity, price)
		if err != nil {
			return BuyResult{}, err
		}
		updated.Holdings[token] = pos
	}
	updated.CashBalance -= usdAmount
	updated.TradeHistory = append(updated.TradeHistory, domain.TradeRecord{
		ID:        uuid.NewString(),
		Token:     token,
		Quantity:  quantity,
		Price:     price,
		Side:      domain.SideBuy,
		Timestamp: time.Now().UTC(),
	})

	if err := s.store.Save(ctx, updated); err != nil {
		return BuyResult{}, errors.Wrapf(domain.ErrPersistence, "save account %s after buy: %v", userID, err)
	}

	metrics.TradesTotal.WithLabelValues("buy").Inc()
	s.logger.Info("buy executed",
		zap.String("user", userID),
		zap.String("token", token),
		zap.Float64("usd", usdAmount),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity))

	return BuyResult{Token: token, Quantity: quantity, Price: price, Spent: usdAmount}, nil
}

// Sell liquidates percent of the held position at the current oracle price.
// Failure order: NoPosition, InvalidPercent, PriceUnavailable.
func (s *Service) Sell(ctx context.Context, userID, token string, percent float64) (SellResult, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	account, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return SellResult{}, err
	}

	pos, held := account.Holdings[token]
	if !held {
		metrics.TradeRejections.WithLabelValues("no_position").Inc()
		return SellResult{}, domain.ErrNoPosition
	}
	if percent <= 0 || percent > 100 {
		metrics.TradeRejections.WithLabelValues("invalid_percent").Inc()
		return SellResult{}, domain.ErrInvalidPercent
	}

	price, err := s.quote(ctx, token)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("price_unavailable").Inc()
		return SellResult{}, err
	}

	quantitySold := pos.Quantity * percent / 100
	proceeds := quantitySold * price
	pnl := (price - pos.AverageCost) * quantitySold

	updated := account.Clone()
	updated.CashBalance += proceeds
	updated.RealizedPnL += pnl

	remaining := pos.Quantity - quantitySold
	closed := remaining < domain.DustThreshold
	if closed {
		delete(updated.Holdings, token)
	} else {
		pos.Quantity = remaining
		updated.Holdings[token] = pos
	}
	updated.TradeHistory = append(updated.TradeHistory, domain.TradeRecord{
		ID:        uuid.NewString(),
		Token:     token,
		Quantity:  quantitySold,
		Price:     price,
		Side:      domain.SideSell,
		Timestamp: time.Now().UTC(),
		PnL:       pnl,
	})

	if err := s.store.Save(ctx, updated); err != nil {
		return SellResult{}, errors.Wrapf(domain.ErrPersistence, "save account %s after sell: %v", userID, err)
	}

	metrics.TradesTotal.WithLabelValues("sell").Inc()
	s.logger.Info("sell executed",
		zap.String("user", userID),
		zap.String("token", token),
		zap.Float64("percent", percent),
		zap.Float64("price", price),
		zap.Float64("proceeds", proceeds),
		zap.Float64("pnl", pnl),
		zap.Bool("closed", closed))

	return SellResult{
		Token:        token,
		QuantitySold: quantitySold,
		Price:        price,
		Proceeds:     proceeds,
		PnL:          pnl,
		Closed:       closed,
	}, nil
}

// BalanceSnapshot values every held position at current prices. A failed
// quote marks that token unavailable without aborting the snapshot. Quotes
// run concurrently; the account itself is only read.
func (s *Service) BalanceSnapshot(ctx context.Context, userID string) (Snapshot, error) {
	unlock := s.locks.lock(userID)
	account, err := s.loadOrCreate(ctx, userID)
	unlock()
	if err != nil {
		return Snapshot{}, err
	}

	tokens := account.HeldTokens()
	sort.Strings(tokens)

	snapshot := Snapshot{
		Cash:        account.CashBalance,
		RealizedPnL: account.RealizedPnL,
		Positions:   make([]TokenValue, len(tokens)),
	}

	type quoteResult struct {
		idx   int
		price float64
		err   error
	}
	results := make(chan quoteResult, len(tokens))
	for i, token := range tokens {
		go func(i int, token string) {
			price, err := s.quote(ctx, token)
			results <- quoteResult{idx: i, price: price, err: err}
		}(i, token)
	}

	for range tokens {
		r := <-results
		token := tokens[r.idx]
		pos := account.Holdings[token]
		tv := TokenValue{
			Token:       token,
			Quantity:    pos.Quantity,
			AverageCost: pos.AverageCost,
		}
		if r.err != nil {
			tv.Unavailable = true
		} else {
			tv.Price = r.price
			tv.Value = pos.Quantity * r.price
		}
		snapshot.Positions[r.idx] = tv
	}

	snapshot.TotalValue = snapshot.Cash
	for _, tv := range snapshot.Positions {
		snapshot.TotalValue += tv.Value
	}
	return snapshot, nil
}

// PositionPnL reports quantity, cost basis and unrealized PnL for one token.
func (s *Service) PositionPnL(ctx context.Context, userID, token string) (PositionView, error) {
	unlock := s.locks.lock(userID)
	account, err := s.loadOrCreate(ctx, userID)
	unlock()
	if err != nil {
		return PositionView{}, err
	}

	pos, held := account.Holdings[token]
	if !held {
		return PositionView{}, domain.ErrNoPosition
	}

	price, err := s.quote(ctx, token)
	if err != nil {
		return PositionView{}, err
	}

	return PositionView{
		Token:         token,
		Quantity:      pos.Quantity,
		AverageCost:   pos.AverageCost,
		CurrentPrice:  price,
		UnrealizedPnL: pos.UnrealizedPnL(price),
	}, nil
}

// History returns the account's structured trade records, oldest first.
func (s *Service) History(ctx context.Context, userID string) ([]domain.TradeRecord, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	account, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return account.TradeHistory, nil
}

// SetConversation persists the user's conversation state under the same
// per-account serialization as trades.
func (s *Service) SetConversation(ctx context.Context, userID string, state domain.ConversationState) error {
	if !state.Valid() {
		return errors.Errorf("refusing to persist invalid conversation state %s", state.Mode)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	account, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if account.Conversation == state {
		return nil
	}
	updated := account.Clone()
	updated.Conversation = state
	if err := s.store.Save(ctx, updated); err != nil {
		return errors.Wrapf(domain.ErrPersistence, "save conversation state for %s: %v", userID, err)
	}
	return nil
}

// ReferralBonus reports the configured per-referral credit so presentation
// code can explain the referral program.
func (s *Service) ReferralBonus() float64 {
	return s.cfg.ReferralBonus
}

// Metadata exposes oracle token metadata to presentation code; failures are
// tolerable there and must not affect ledger operations.
func (s *Service) Metadata(ctx context.Context, token string) *oracle.TokenMetadata {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	defer cancel()
	md, err := s.oracle.GetMetadata(ctx, token)
	if err != nil {
		return nil
	}
	return md
}

func (s *Service) loadOrCreate(ctx context.Context, userID string) (*domain.UserAccount, error) {
	account, err := s.store.Load(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, errors.Wrapf(domain.ErrPersistence, "load account %s: %v", userID, err)
	}

	account, err = domain.NewUserAccount(userID, s.cfg.InitialBalance)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, account); err != nil {
		return nil, errors.Wrapf(domain.ErrPersistence, "save new account %s: %v", userID, err)
	}
	return account, nil
}

func (s *Service) quote(ctx context.Context, token string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	defer cancel()

	price, err := s.oracle.GetPrice(ctx, token)
	if err != nil {
		return 0, errors.Wrapf(domain.ErrPriceUnavailable, "quote %s: %v", token, err)
	}
	if price <= 0 {
		return 0, errors.Wrapf(domain.ErrPriceUnavailable, "quote %s: non-positive price", token)
	}
	return price, nil
}
