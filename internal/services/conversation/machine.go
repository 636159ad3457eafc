// Package conversation routes free-text chat events through the multi-step
// flows (buy, sell, wallet tracking) and invokes ledger operations once all
// required fields are collected. State transitions are strictly sequential;
// invalid or out-of-sequence input never reaches the ledger.
package conversation

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/services/ledger"
	"github.com/vadiminshakov/papertrade/internal/services/oracle"
	"go.uber.org/zap"
)

// Option is a selectable choice attached to a prompt.
type Option struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Responder delivers prompts back to the user through the chat transport.
type Responder interface {
	DeliverPrompt(ctx context.Context, userID, text string, options []Option) error
}

// Tracker keeps the per-user wallet tracking registry.
type Tracker interface {
	Track(ctx context.Context, userID, wallet string) error
	Untrack(ctx context.Context, userID, wallet string) error
	TrackedBy(ctx context.Context, userID string) []string
}

// Machine is the per-user conversation state machine. The current step lives
// on the account entity, so it shares the ledger's per-account serialization
// and survives restarts. tracker and discovery are optional; commands that
// need them degrade to an explanatory message when absent.
type Machine struct {
	ledger    *ledger.Service
	tracker   Tracker
	discovery oracle.Discovery
	responder Responder
	logger    *zap.Logger
}

// NewMachine creates the state machine.
func NewMachine(logger *zap.Logger, ldg *ledger.Service, tracker Tracker, discovery oracle.Discovery, responder Responder) (*Machine, error) {
	if ldg == nil {
		return nil, errors.New("ledger service is required")
	}
	if responder == nil {
		return nil, errors.New("responder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{ledger: ldg, tracker: tracker, discovery: discovery, responder: responder, logger: logger}, nil
}

// selection data prefixes used by prompt options
const (
	selBuyToken      = "buy_token:"
	selSellToken     = "sell_token:"
	selTrackWallet   = "track_wallet:"
	selUntrackWallet = "untrack_wallet:"
	selMenu          = "menu:"
)

// discovery query limits matching the listing page sizes of the Birdeye UI
const (
	searchLimit  = 20
	rankingLimit = 10
)

// HandleText processes one free-text input for the user. Events for a given
// user must be delivered in arrival order; the bot dispatcher guarantees that.
func (m *Machine) HandleText(ctx context.Context, userID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	account, created, err := m.start(ctx, userID, text)
	if err != nil {
		return m.replyError(ctx, userID, err)
	}
	if created {
		return m.reply(ctx, userID, welcomeText(account.CashBalance), menuOptions())
	}

	if cmd, arg, ok := parseCommand(text); ok {
		if !account.Conversation.IsIdle() {
			// An unrelated command abandons the flow with no ledger effect.
			if err := m.reset(ctx, userID); err != nil {
				return m.replyError(ctx, userID, err)
			}
		}
		return m.runCommand(ctx, userID, cmd, arg)
	}

	switch account.Conversation.Mode {
	case domain.ModeIdle:
		return m.handleIdleText(ctx, userID, text)
	case domain.ModeAwaitingBuyAddress:
		return m.handleBuyAddress(ctx, userID, text)
	case domain.ModeAwaitingBuyAmount:
		return m.handleBuyAmount(ctx, userID, account.Conversation.PendingToken, text)
	case domain.ModeAwaitingSellToken:
		return m.handleSellToken(ctx, userID, account, text)
	case domain.ModeAwaitingSellPercent:
		return m.handleSellPercent(ctx, userID, account.Conversation.PendingToken, text)
	case domain.ModeAwaitingWalletAddress:
		return m.handleWalletAddress(ctx, userID, text)
	default:
		return m.reset(ctx, userID)
	}
}

// HandleSelection processes an option picked from a prompt.
func (m *Machine) HandleSelection(ctx context.Context, userID, data string) error {
	account, created, err := m.start(ctx, userID, "")
	if err != nil {
		return m.replyError(ctx, userID, err)
	}
	if created {
		return m.reply(ctx, userID, welcomeText(account.CashBalance), menuOptions())
	}

	switch {
	case strings.HasPrefix(data, selMenu):
		if !account.Conversation.IsIdle() {
			if err := m.reset(ctx, userID); err != nil {
				return m.replyError(ctx, userID, err)
			}
		}
		return m.runCommand(ctx, userID, strings.TrimPrefix(data, selMenu), "")

	case strings.HasPrefix(data, selBuyToken):
		// Chosen from the Idle address disambiguation: the token is already known.
		token := strings.TrimPrefix(data, selBuyToken)
		if !domain.IsValidAddress(token) {
			return m.replyError(ctx, userID, domain.ErrInvalidAddress)
		}
		state, err := domain.AwaitingBuyAmount(token)
		if err != nil {
			return err
		}
		if err := m.ledger.SetConversation(ctx, userID, state); err != nil {
			return m.replyError(ctx, userID, err)
		}
		return m.reply(ctx, userID, promptBuyAmount(m.symbolFor(ctx, token)), nil)

	case strings.HasPrefix(data, selSellToken):
		token := strings.TrimPrefix(data, selSellToken)
		return m.handleSellToken(ctx, userID, account, token)

	case strings.HasPrefix(data, selTrackWallet):
		wallet := strings.TrimPrefix(data, selTrackWallet)
		return m.registerTracking(ctx, userID, wallet)

	case strings.HasPrefix(data, selUntrackWallet):
		wallet := strings.TrimPrefix(data, selUntrackWallet)
		return m.untrackWallet(ctx, userID, wallet)

	default:
		m.logger.Debug("ignoring unknown selection", zap.String("user", userID), zap.String("data", data))
		return nil
	}
}

// start resolves the account, creating it lazily. The /start command also
// carries an optional referrer id.
func (m *Machine) start(ctx context.Context, userID, text string) (*domain.UserAccount, bool, error) {
	referrer := ""
	if cmd, arg, ok := parseCommand(text); ok && cmd == "start" {
		referrer = arg
	}
	return m.ledger.GetOrCreate(ctx, userID, referrer)
}

func (m *Machine) runCommand(ctx context.Context, userID, cmd, arg string) error {
	switch cmd {
	case "start", "help":
		return m.reply(ctx, userID, helpText(), menuOptions())

	case "buy":
		if err := m.ledger.SetConversation(ctx, userID, domain.AwaitingBuyAddress()); err != nil {
			return m.replyError(ctx, userID, err)
		}
		return m.reply(ctx, userID, msgSendTokenAddress, nil)

	case "sell":
		return m.beginSell(ctx, userID)

	case "track":
		if err := m.ledger.SetConversation(ctx, userID, domain.AwaitingWalletAddress()); err != nil {
			return m.replyError(ctx, userID, err)
		}
		return m.reply(ctx, userID, msgSendWalletAddress, nil)

	case "wallets":
		return m.listWallets(ctx, userID)

	case "untrack":
		if arg == "" {
			return m.listWallets(ctx, userID)
		}
		return m.untrackWallet(ctx, userID, arg)

	case "search":
		if arg == "" {
			return m.reply(ctx, userID, msgSearchUsage, nil)
		}
		return m.discover(ctx, userID, func(ctx context.Context) ([]oracle.TokenListing, error) {
			return m.discovery.SearchTokens(ctx, arg, searchLimit)
		}, searchHeader(arg))

	case "gainers":
		return m.discover(ctx, userID, func(ctx context.Context) ([]oracle.TokenListing, error) {
			return m.discovery.TopGainers(ctx, rankingLimit)
		}, msgGainersHeader)

	case "losers":
		return m.discover(ctx, userID, func(ctx context.Context) ([]oracle.TokenListing, error) {
			return m.discovery.TopLosers(ctx, rankingLimit)
		}, msgLosersHeader)

	case "referral":
		return m.reply(ctx, userID, renderReferral(userID, m.ledger.ReferralBonus()), nil)

	case "balance":
		snapshot, err := m.ledger.BalanceSnapshot(ctx, userID)
		if err != nil {
			return m.replyError(ctx, userID, err)
		}
		return m.reply(ctx, userID, renderSnapshot(snapshot), nil)

	case "portfolio":
		snapshot, err := m.ledger.BalanceSnapshot(ctx, userID)
		if err != nil {
			return m.replyError(ctx, userID, err)
		}
		return m.reply(ctx, userID, renderPortfolio(snapshot), nil)

	case "history":
		history, err := m.ledger.History(ctx, userID)
		if err != nil {
			return m.replyError(ctx, userID, err)
		}
		return m.reply(ctx, userID, renderHistory(history), nil)

	case "cancel":
		return m.reply(ctx, userID, msgFlowCancelled, menuOptions())

	default:
		return m.reply(ctx, userID, msgUnknownCommand, menuOptions())
	}
}

func (m *Machine) handleIdleText(ctx context.Context, userID, text string) error {
	if domain.IsValidAddress(text) {
		// Token and wallet addresses share one shape; ask instead of assuming.
		options := []Option{
			{Label: "Buy", Data: selBuyToken + text},
			{Label: "Sell", Data: selSellToken + text},
			{Label: "Track wallet", Data: selTrackWallet + text},
		}
		return m.reply(ctx, userID, msgAddressDetected, options)
	}
	return m.reply(ctx, userID, msgIdleHint, menuOptions())
}

func (m *Machine) handleBuyAddress(ctx context.Context, userID, text string) error {
	if !domain.IsValidAddress(text) {
		return m.reply(ctx, userID, msgInvalidAddressReprompt, nil)
	}
	state, err := domain.AwaitingBuyAmount(text)
	if err != nil {
		return err
	}
	if err := m.ledger.SetConversation(ctx, userID, state); err != nil {
		return m.replyError(ctx, userID, err)
	}
	return m.reply(ctx, userID, promptBuyAmount(m.symbolFor(ctx, text)), nil)
}

func (m *Machine) handleBuyAmount(ctx context.Context, userID, token, text string) error {
	amount, err := domain.ParseAmount(text)
	if err != nil {
		// Reprompt without mutating anything; the step is retained.
		return m.reply(ctx, userID, msgInvalidAmountReprompt, nil)
	}

	// The terminal action always resets the flow, success or not.
	result, buyErr := m.ledger.Buy(ctx, userID, token, amount)
	if err := m.reset(ctx, userID); err != nil {
		m.logger.Error("failed to reset conversation after buy", zap.String("user", userID), zap.Error(err))
	}
	if buyErr != nil {
		return m.replyError(ctx, userID, buyErr)
	}
	return m.reply(ctx, userID, renderBuy(result, m.symbolFor(ctx, token)), nil)
}

func (m *Machine) beginSell(ctx context.Context, userID string) error {
	account, _, err := m.ledger.GetOrCreate(ctx, userID, "")
	if err != nil {
		return m.replyError(ctx, userID, err)
	}
	tokens := account.HeldTokens()
	if len(tokens) == 0 {
		return m.reply(ctx, userID, msgNothingToSell, menuOptions())
	}

	if err := m.ledger.SetConversation(ctx, userID, domain.AwaitingSellToken()); err != nil {
		return m.replyError(ctx, userID, err)
	}
	options := make([]Option, 0, len(tokens))
	for _, token := range tokens {
		options = append(options, Option{Label: m.symbolFor(ctx, token), Data: selSellToken + token})
	}
	return m.reply(ctx, userID, msgPickTokenToSell, options)
}

func (m *Machine) handleSellToken(ctx context.Context, userID string, account *domain.UserAccount, token string) error {
	if _, held := account.PositionFor(token); !held {
		return m.reply(ctx, userID, msgTokenNotHeldReprompt, nil)
	}
	state, err := domain.AwaitingSellPercent(token)
	if err != nil {
		return err
	}
	if err := m.ledger.SetConversation(ctx, userID, state); err != nil {
		return m.replyError(ctx, userID, err)
	}
	return m.reply(ctx, userID, promptSellPercent(m.symbolFor(ctx, token)), nil)
}

func (m *Machine) handleSellPercent(ctx context.Context, userID, token, text string) error {
	percent, err := domain.ParsePercent(text)
	if err != nil {
		return m.reply(ctx, userID, msgInvalidPercentReprompt, nil)
	}

	result, sellErr := m.ledger.Sell(ctx, userID, token, percent)
	if err := m.reset(ctx, userID); err != nil {
		m.logger.Error("failed to reset conversation after sell", zap.String("user", userID), zap.Error(err))
	}
	if sellErr != nil {
		return m.replyError(ctx, userID, sellErr)
	}
	return m.reply(ctx, userID, renderSell(result, m.symbolFor(ctx, token)), nil)
}

func (m *Machine) handleWalletAddress(ctx context.Context, userID, text string) error {
	if !domain.IsValidAddress(text) {
		return m.reply(ctx, userID, msgInvalidAddressReprompt, nil)
	}
	return m.registerTracking(ctx, userID, text)
}

// discover runs one token-discovery query and renders the results as buy
// options, so a pick drops straight into the buy amount step.
func (m *Machine) discover(ctx context.Context, userID string, query func(context.Context) ([]oracle.TokenListing, error), header string) error {
	if m.discovery == nil {
		return m.reply(ctx, userID, msgDiscoveryUnavailable, menuOptions())
	}
	listings, err := query(ctx)
	if err != nil {
		m.logger.Warn("token discovery failed", zap.String("user", userID), zap.Error(err))
		return m.reply(ctx, userID, renderError(domain.ErrPriceUnavailable), nil)
	}
	if len(listings) == 0 {
		return m.reply(ctx, userID, msgNoTokensFound, menuOptions())
	}
	options := make([]Option, 0, len(listings))
	for _, l := range listings {
		options = append(options, Option{Label: listingLabel(l), Data: selBuyToken + l.Address})
	}
	return m.reply(ctx, userID, header, options)
}

func (m *Machine) listWallets(ctx context.Context, userID string) error {
	if m.tracker == nil {
		return m.reply(ctx, userID, msgTrackingUnavailable, menuOptions())
	}
	wallets := m.tracker.TrackedBy(ctx, userID)
	if len(wallets) == 0 {
		return m.reply(ctx, userID, msgNoTrackedWallets, menuOptions())
	}
	options := make([]Option, 0, len(wallets))
	for _, wallet := range wallets {
		options = append(options, Option{Label: shortAddress(wallet), Data: selUntrackWallet + wallet})
	}
	return m.reply(ctx, userID, msgTrackedWallets, options)
}

func (m *Machine) untrackWallet(ctx context.Context, userID, wallet string) error {
	if m.tracker == nil {
		return m.reply(ctx, userID, msgTrackingUnavailable, menuOptions())
	}
	if err := m.tracker.Untrack(ctx, userID, wallet); err != nil {
		return m.replyError(ctx, userID, err)
	}
	return m.reply(ctx, userID, renderUntracked(wallet), nil)
}

func (m *Machine) registerTracking(ctx context.Context, userID, wallet string) error {
	if !domain.IsValidAddress(wallet) {
		return m.replyError(ctx, userID, domain.ErrInvalidAddress)
	}

	var trackErr error
	if m.tracker != nil {
		trackErr = m.tracker.Track(ctx, userID, wallet)
	}
	if err := m.reset(ctx, userID); err != nil {
		m.logger.Error("failed to reset conversation after tracking", zap.String("user", userID), zap.Error(err))
	}
	if trackErr != nil {
		return m.replyError(ctx, userID, trackErr)
	}
	return m.reply(ctx, userID, renderTracked(wallet), nil)
}

// reset returns the conversation to Idle. The flow must never remain stuck
// mid-sequence, so terminal actions call this regardless of their outcome.
func (m *Machine) reset(ctx context.Context, userID string) error {
	return m.ledger.SetConversation(ctx, userID, domain.Idle())
}

func (m *Machine) reply(ctx context.Context, userID, text string, options []Option) error {
	if err := m.responder.DeliverPrompt(ctx, userID, text, options); err != nil {
		m.logger.Warn("failed to deliver prompt", zap.String("user", userID), zap.Error(err))
		return err
	}
	return nil
}

func (m *Machine) replyError(ctx context.Context, userID string, err error) error {
	m.logger.Debug("operation failed", zap.String("user", userID), zap.Error(err))
	return m.reply(ctx, userID, renderError(err), nil)
}

// symbolFor resolves a short display name for a token, falling back to a
// shortened address when metadata is unavailable.
func (m *Machine) symbolFor(ctx context.Context, token string) string {
	if md := m.ledger.Metadata(ctx, token); md != nil && md.Symbol != "" {
		return md.Symbol
	}
	return shortAddress(token)
}

// parseCommand recognizes slash commands and bare keywords. Returns the
// lower-cased command name and an optional argument.
func parseCommand(text string) (cmd, arg string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", "", false
	}
	head := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	switch head {
	case "start", "help", "buy", "sell", "track", "wallets", "untrack",
		"search", "gainers", "losers", "referral",
		"balance", "portfolio", "history", "cancel":
		if len(fields) > 1 {
			arg = strings.Join(fields[1:], " ")
		}
		return head, arg, true
	}
	return "", "", false
}
