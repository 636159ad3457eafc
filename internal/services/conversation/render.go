package conversation

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/services/ledger"
	"github.com/vadiminshakov/papertrade/internal/services/oracle"
)

// All human-readable formatting lives here, at the presentation boundary.
// Engine values stay unrounded; display rounding uses decimal so a $0.000004
// memecoin price and a $60k majors price both render sensibly.

const (
	msgSendTokenAddress       = "Send the token address you want to buy."
	msgSendWalletAddress      = "Send the wallet address you want to track."
	msgAddressDetected        = "That looks like an address. What would you like to do with it?"
	msgIdleHint               = "Send a token address or pick an action below."
	msgInvalidAddressReprompt = "That doesn't look like a valid address (32-44 base58 characters). Try again or send \"cancel\"."
	msgInvalidAmountReprompt  = "Send a positive USD amount, e.g. 100 or $250.50."
	msgInvalidPercentReprompt = "Send a percentage between 0 and 100, e.g. 50 or 100%."
	msgTokenNotHeldReprompt   = "You don't hold that token. Pick one of your positions."
	msgNothingToSell          = "You have no open positions to sell."
	msgPickTokenToSell        = "Which position do you want to sell?"
	msgFlowCancelled          = "Okay, cancelled."
	msgUnknownCommand         = "I didn't get that. Pick an action below."
	msgSearchUsage            = "Send a search query, e.g. \"search bonk\"."
	msgGainersHeader          = "Top gainers (24h). Pick one to buy:"
	msgLosersHeader           = "Top losers (24h). Pick one to buy:"
	msgNoTokensFound          = "No tokens matched that query."
	msgDiscoveryUnavailable   = "Token discovery is not available with the current price source."
	msgTrackingUnavailable    = "Wallet tracking is not available right now."
	msgNoTrackedWallets       = "You are not tracking any wallets."
	msgTrackedWallets         = "Your tracked wallets. Pick one to stop tracking:"
)

func menuOptions() []Option {
	return []Option{
		{Label: "Buy", Data: selMenu + "buy"},
		{Label: "Sell", Data: selMenu + "sell"},
		{Label: "Balance", Data: selMenu + "balance"},
		{Label: "Portfolio", Data: selMenu + "portfolio"},
		{Label: "History", Data: selMenu + "history"},
		{Label: "Top gainers", Data: selMenu + "gainers"},
		{Label: "Top losers", Data: selMenu + "losers"},
		{Label: "Track wallet", Data: selMenu + "track"},
	}
}

func welcomeText(balance float64) string {
	return fmt.Sprintf(
		"Welcome to the paper trading bot!\n\nYour starting balance: %s\nSend a token address or pick an action below.",
		usd(balance))
}

func helpText() string {
	return "Commands: buy, sell, balance, portfolio, history, search <query>, gainers, losers, track, wallets, untrack <address>, referral, cancel.\nYou can also just paste a token or wallet address."
}

func promptBuyAmount(symbol string) string {
	return fmt.Sprintf("How much USD do you want to spend on %s?", symbol)
}

func promptSellPercent(symbol string) string {
	return fmt.Sprintf("What percentage of your %s position do you want to sell? (1-100)", symbol)
}

func renderBuy(r ledger.BuyResult, symbol string) string {
	return fmt.Sprintf("Bought %s %s at %s for %s.", qty(r.Quantity), symbol, price(r.Price), usd(r.Spent))
}

func renderSell(r ledger.SellResult, symbol string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sold %s %s at %s for %s.\nRealized PnL: %s.", qty(r.QuantitySold), symbol, price(r.Price), usd(r.Proceeds), signedUSD(r.PnL))
	if r.Closed {
		b.WriteString("\nPosition fully closed.")
	}
	return b.String()
}

func renderSnapshot(s ledger.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cash: %s\n", usd(s.Cash))
	for _, tv := range s.Positions {
		if tv.Unavailable {
			fmt.Fprintf(&b, "%s: %s (price unavailable)\n", shortAddress(tv.Token), qty(tv.Quantity))
			continue
		}
		fmt.Fprintf(&b, "%s: %s @ %s = %s\n", shortAddress(tv.Token), qty(tv.Quantity), price(tv.Price), usd(tv.Value))
	}
	fmt.Fprintf(&b, "Total value: %s\nRealized PnL: %s", usd(s.TotalValue), signedUSD(s.RealizedPnL))
	return b.String()
}

func renderPortfolio(s ledger.Snapshot) string {
	if len(s.Positions) == 0 {
		return "Your portfolio is empty."
	}
	var b strings.Builder
	b.WriteString("Your positions:\n")
	for _, tv := range s.Positions {
		if tv.Unavailable {
			fmt.Fprintf(&b, "%s: %s, avg cost %s (price unavailable)\n",
				shortAddress(tv.Token), qty(tv.Quantity), price(tv.AverageCost))
			continue
		}
		unrealized := (tv.Price - tv.AverageCost) * tv.Quantity
		fmt.Fprintf(&b, "%s: %s, avg cost %s, now %s, unrealized %s\n",
			shortAddress(tv.Token), qty(tv.Quantity), price(tv.AverageCost), price(tv.Price), signedUSD(unrealized))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderHistory(history []domain.TradeRecord) string {
	if len(history) == 0 {
		return "No trades yet."
	}
	var b strings.Builder
	b.WriteString("Trade history:\n")
	for _, tr := range history {
		fmt.Fprintf(&b, "%s %s %s %s @ %s",
			tr.Timestamp.Format("2006-01-02 15:04"), tr.Side, qty(tr.Quantity), shortAddress(tr.Token), price(tr.Price))
		if tr.Side == domain.SideSell {
			fmt.Fprintf(&b, " (pnl %s)", signedUSD(tr.PnL))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTracked(wallet string) string {
	return fmt.Sprintf("Now tracking wallet %s.", shortAddress(wallet))
}

func renderUntracked(wallet string) string {
	return fmt.Sprintf("Stopped tracking wallet %s.", shortAddress(wallet))
}

func searchHeader(query string) string {
	return fmt.Sprintf("Results for %q. Pick one to buy:", query)
}

// listingLabel fits a discovery row into a single option label.
func listingLabel(l oracle.TokenListing) string {
	name := l.Symbol
	if name == "" {
		name = shortAddress(l.Address)
	}
	return fmt.Sprintf("%s %s (%s)", name, price(l.Price), signedPercent(l.Change24h))
}

func signedPercent(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() {
		return d.StringFixed(2) + "%"
	}
	return "+" + d.StringFixed(2) + "%"
}

func renderReferral(userID string, bonus float64) string {
	return fmt.Sprintf(
		"Invite friends and earn!\n\nShare this command with them:\n/start %s\n\nYou receive %s of play money for every friend who joins with it.",
		userID, usd(bonus))
}

// renderError maps each failure kind to a distinct user-visible message so
// the user (and the tests) can tell them apart.
func renderError(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return "Invalid amount: it must be greater than zero."
	case errors.Is(err, domain.ErrInvalidPercent):
		return "Invalid percentage: it must be between 0 and 100."
	case errors.Is(err, domain.ErrInvalidAddress):
		return "Invalid address: expected 32-44 base58 characters."
	case errors.Is(err, domain.ErrPriceUnavailable):
		return "Price is currently unavailable for that token. Nothing was traded; try again later."
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "Insufficient funds: that amount exceeds your cash balance."
	case errors.Is(err, domain.ErrNoPosition):
		return "You don't hold that token."
	case errors.Is(err, domain.ErrPersistence):
		return "Storage is temporarily unavailable. Nothing was changed; please retry."
	default:
		return "Something went wrong. Nothing was changed."
	}
}

func usd(v float64) string {
	return "$" + decimal.NewFromFloat(v).Round(2).StringFixed(2)
}

func signedUSD(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "+$" + d.StringFixed(2)
}

// price keeps more precision than usd: memecoin unit prices are often far
// below one cent.
func price(v float64) string {
	return "$" + decimal.NewFromFloat(v).Round(8).String()
}

func qty(v float64) string {
	return decimal.NewFromFloat(v).Round(6).String()
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:4] + "..." + addr[len(addr)-4:]
}
