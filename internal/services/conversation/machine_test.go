package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/services/ledger"
	"github.com/vadiminshakov/papertrade/internal/services/oracle"
	"github.com/vadiminshakov/papertrade/internal/storage/accounts"
)

const (
	testUser  = "u1"
	testToken = "So11111111111111111111111111111111111111112"
)

// recordingResponder captures delivered prompts for assertions.
type recordingResponder struct {
	mu      sync.Mutex
	prompts []string
	options [][]Option
}

func (r *recordingResponder) DeliverPrompt(_ context.Context, _ string, text string, options []Option) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, text)
	r.options = append(r.options, options)
	return nil
}

func (r *recordingResponder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.prompts) == 0 {
		return ""
	}
	return r.prompts[len(r.prompts)-1]
}

func (r *recordingResponder) lastOptions() []Option {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.options) == 0 {
		return nil
	}
	return r.options[len(r.options)-1]
}

type trackerStub struct {
	mu      sync.Mutex
	tracked []string
}

func (t *trackerStub) Track(_ context.Context, userID, wallet string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked = append(t.tracked, userID+"/"+wallet)
	return nil
}

func (t *trackerStub) Untrack(_ context.Context, userID, wallet string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := userID + "/" + wallet
	for i, entry := range t.tracked {
		if entry == key {
			t.tracked = append(t.tracked[:i], t.tracked[i+1:]...)
			return nil
		}
	}
	return errors.Errorf("wallet %s is not tracked", wallet)
}

func (t *trackerStub) TrackedBy(_ context.Context, userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var wallets []string
	for _, entry := range t.tracked {
		if strings.HasPrefix(entry, userID+"/") {
			wallets = append(wallets, strings.TrimPrefix(entry, userID+"/"))
		}
	}
	return wallets
}

func newTestMachine(t *testing.T, prices map[string]float64) (*Machine, *ledger.Service, *oracle.StaticOracle, *recordingResponder, *trackerStub) {
	t.Helper()
	orc := oracle.NewStaticOracle(prices)
	store := accounts.NewMemoryStore()
	svc, err := ledger.NewService(nil, store, orc, ledger.Config{InitialBalance: 10000, ReferralBonus: 500, QuoteTimeout: time.Second})
	require.NoError(t, err)
	responder := &recordingResponder{}
	tracker := &trackerStub{}
	machine, err := NewMachine(nil, svc, tracker, orc, responder)
	require.NoError(t, err)
	return machine, svc, orc, responder, tracker
}

func stateOf(t *testing.T, svc *ledger.Service, userID string) domain.ConversationState {
	t.Helper()
	account, _, err := svc.GetOrCreate(context.Background(), userID, "")
	require.NoError(t, err)
	return account.Conversation
}

func TestFirstContactWelcome(t *testing.T) {
	machine, _, _, responder, _ := newTestMachine(t, nil)
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	assert.Contains(t, responder.last(), "Welcome")
	assert.Contains(t, responder.last(), "$10000.00")
	assert.NotEmpty(t, responder.lastOptions())
}

func TestBuyFlow(t *testing.T) {
	machine, svc, _, responder, _ := newTestMachine(t, map[string]float64{testToken: 2.0})
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))

	require.NoError(t, machine.HandleText(ctx, testUser, "/buy"))
	assert.Equal(t, msgSendTokenAddress, responder.last())
	assert.Equal(t, domain.ModeAwaitingBuyAddress, stateOf(t, svc, testUser).Mode)

	require.NoError(t, machine.HandleText(ctx, testUser, testToken))
	assert.Contains(t, responder.last(), "How much USD")
	state := stateOf(t, svc, testUser)
	assert.Equal(t, domain.ModeAwaitingBuyAmount, state.Mode)
	assert.Equal(t, testToken, state.PendingToken)

	require.NoError(t, machine.HandleText(ctx, testUser, "$100"))
	assert.Contains(t, responder.last(), "Bought 50")
	assert.True(t, stateOf(t, svc, testUser).IsIdle())

	account, _, err := svc.GetOrCreate(ctx, testUser, "")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, account.Holdings[testToken].Quantity, 1e-9)
	assert.InDelta(t, 9900.0, account.CashBalance, 1e-9)
}

func TestBuyInvalidAddressReprompts(t *testing.T) {
	machine, svc, _, responder, _ := newTestMachine(t, nil)
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/buy"))
	require.NoError(t, machine.HandleText(ctx, testUser, "not-an-address"))
	assert.Equal(t, msgInvalidAddressReprompt, responder.last())
	// The flow is still waiting for an address.
	assert.Equal(t, domain.ModeAwaitingBuyAddress, stateOf(t, svc, testUser).Mode)
}

func TestBuyInvalidAmountRepromptsAndRetainsToken(t *testing.T) {
	machine, svc, _, responder, _ := newTestMachine(t, map[string]float64{testToken: 1.0})
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/buy"))
	require.NoError(t, machine.HandleText(ctx, testUser, testToken))

	for _, bad := range []string{"zero", "-50", "0"} {
		require.NoError(t, machine.HandleText(ctx, testUser, bad))
		assert.Equal(t, msgInvalidAmountReprompt, responder.last())
		state := stateOf(t, svc, testUser)
		assert.Equal(t, domain.ModeAwaitingBuyAmount, state.Mode)
		assert.Equal(t, testToken, state.PendingToken)
	}

	// Still completes after the reprompts.
	require.NoError(t, machine.HandleText(ctx, testUser, "100"))
	assert.Contains(t, responder.last(), "Bought")
	assert.True(t, stateOf(t, svc, testUser).IsIdle())
}

func TestCommandMidFlowAbandons(t *testing.T) {
	machine, svc, _, _, _ := newTestMachine(t, map[string]float64{testToken: 1.0})
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/buy"))
	require.NoError(t, machine.HandleText(ctx, testUser, testToken))
	require.NoError(t, machine.HandleText(ctx, testUser, "/balance"))

	// The flow is gone and no trade happened.
	assert.True(t, stateOf(t, svc, testUser).IsIdle())
	account, _, err := svc.GetOrCreate(ctx, testUser, "")
	require.NoError(t, err)
	assert.Empty(t, account.Holdings)
	assert.Equal(t, 10000.0, account.CashBalance)
}

func TestSellFlow(t *testing.T) {
	machine, svc, orc, responder, _ := newTestMachine(t, map[string]float64{testToken: 1.0})
	ctx := context.Background()

	_, err := svc.Buy(ctx, testUser, testToken, 100)
	require.NoError(t, err)
	orc.SetPrice(testToken, 1.5)

	require.NoError(t, machine.HandleText(ctx, testUser, "/sell"))
	assert.Equal(t, msgPickTokenToSell, responder.last())
	require.NotEmpty(t, responder.lastOptions())
	assert.Equal(t, selSellToken+testToken, responder.lastOptions()[0].Data)

	require.NoError(t, machine.HandleSelection(ctx, testUser, selSellToken+testToken))
	assert.Contains(t, responder.last(), "What percentage")
	assert.Equal(t, domain.ModeAwaitingSellPercent, stateOf(t, svc, testUser).Mode)

	require.NoError(t, machine.HandleText(ctx, testUser, "50%"))
	assert.Contains(t, responder.last(), "Sold 50")
	assert.Contains(t, responder.last(), "+$25.00")
	assert.True(t, stateOf(t, svc, testUser).IsIdle())
}

func TestSellNothingHeld(t *testing.T) {
	machine, svc, _, responder, _ := newTestMachine(t, nil)
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/sell"))
	assert.Equal(t, msgNothingToSell, responder.last())
	assert.True(t, stateOf(t, svc, testUser).IsIdle())
}

func TestSellInvalidPercentReprompts(t *testing.T) {
	machine, svc, _, responder, _ := newTestMachine(t, map[string]float64{testToken: 1.0})
	ctx := context.Background()

	_, err := svc.Buy(ctx, testUser, testToken, 100)
	require.NoError(t, err)

	require.NoError(t, machine.HandleText(ctx, testUser, "/sell"))
	require.NoError(t, machine.HandleSelection(ctx, testUser, selSellToken+testToken))

	require.NoError(t, machine.HandleText(ctx, testUser, "150"))
	assert.Equal(t, msgInvalidPercentReprompt, responder.last())
	assert.Equal(t, domain.ModeAwaitingSellPercent, stateOf(t, svc, testUser).Mode)
}

func TestTerminalFailureResetsFlow(t *testing.T) {
	machine, svc, orc, responder, _ := newTestMachine(t, map[string]float64{testToken: 1.0})
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/buy"))
	require.NoError(t, machine.HandleText(ctx, testUser, testToken))

	// Quote vanishes between prompt and confirmation.
	orc.Remove(testToken)
	require.NoError(t, machine.HandleText(ctx, testUser, "100"))
	assert.Contains(t, responder.last(), "unavailable")
	assert.True(t, stateOf(t, svc, testUser).IsIdle())

	account, _, err := svc.GetOrCreate(ctx, testUser, "")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, account.CashBalance)
}

func TestFailureMessagesAreDistinct(t *testing.T) {
	messages := map[string]string{
		"invalid_amount":     renderError(domain.ErrInvalidAmount),
		"invalid_percent":    renderError(domain.ErrInvalidPercent),
		"invalid_address":    renderError(domain.ErrInvalidAddress),
		"price_unavailable":  renderError(domain.ErrPriceUnavailable),
		"insufficient_funds": renderError(domain.ErrInsufficientFunds),
		"no_position":        renderError(domain.ErrNoPosition),
		"persistence":        renderError(domain.ErrPersistence),
	}
	seen := map[string]string{}
	for kind, msg := range messages {
		prev, dup := seen[msg]
		assert.False(t, dup, "%s and %s share a message", kind, prev)
		seen[msg] = kind
	}
}

func TestIdleAddressOffersChoices(t *testing.T) {
	machine, svc, _, responder, _ := newTestMachine(t, nil)
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, testToken))
	assert.Equal(t, msgAddressDetected, responder.last())
	options := responder.lastOptions()
	require.Len(t, options, 3)
	assert.Equal(t, selBuyToken+testToken, options[0].Data)
	assert.Equal(t, selSellToken+testToken, options[1].Data)
	assert.Equal(t, selTrackWallet+testToken, options[2].Data)
	// Offering choices does not start a flow.
	assert.True(t, stateOf(t, svc, testUser).IsIdle())
}

func TestBuySelectionSkipsAddressStep(t *testing.T) {
	machine, svc, _, responder, _ := newTestMachine(t, map[string]float64{testToken: 4.0})
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, testToken))
	require.NoError(t, machine.HandleSelection(ctx, testUser, selBuyToken+testToken))
	assert.Equal(t, domain.ModeAwaitingBuyAmount, stateOf(t, svc, testUser).Mode)

	require.NoError(t, machine.HandleText(ctx, testUser, "200"))
	assert.Contains(t, responder.last(), "Bought 50")
}

func TestWalletTrackingFlow(t *testing.T) {
	machine, svc, _, responder, tracker := newTestMachine(t, nil)
	ctx := context.Background()
	wallet := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/track"))
	assert.Equal(t, msgSendWalletAddress, responder.last())
	assert.Equal(t, domain.ModeAwaitingWalletAddress, stateOf(t, svc, testUser).Mode)

	require.NoError(t, machine.HandleText(ctx, testUser, wallet))
	assert.Contains(t, responder.last(), "Now tracking")
	assert.True(t, stateOf(t, svc, testUser).IsIdle())
	assert.Equal(t, []string{testUser + "/" + wallet}, tracker.tracked)
}

func TestCancelCommand(t *testing.T) {
	machine, svc, _, responder, _ := newTestMachine(t, nil)
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/buy"))
	require.NoError(t, machine.HandleText(ctx, testUser, "cancel"))
	assert.Equal(t, msgFlowCancelled, responder.last())
	assert.True(t, stateOf(t, svc, testUser).IsIdle())
}

func TestParseCommand(t *testing.T) {
	cmd, arg, ok := parseCommand("/start ref42")
	assert.True(t, ok)
	assert.Equal(t, "start", cmd)
	assert.Equal(t, "ref42", arg)

	cmd, _, ok = parseCommand("BUY")
	assert.True(t, ok)
	assert.Equal(t, "buy", cmd)

	// Multi-word arguments survive for search queries.
	cmd, arg, ok = parseCommand("/search dog wif hat")
	assert.True(t, ok)
	assert.Equal(t, "search", cmd)
	assert.Equal(t, "dog wif hat", arg)

	_, _, ok = parseCommand("hello there")
	assert.False(t, ok)
	_, _, ok = parseCommand("")
	assert.False(t, ok)
}

func TestSearchFeedsBuyFlow(t *testing.T) {
	machine, svc, orc, responder, _ := newTestMachine(t, map[string]float64{testToken: 2.0})
	ctx := context.Background()

	orc.SetListings([]oracle.TokenListing{
		{Address: testToken, Symbol: "WSOL", Name: "Wrapped SOL", Price: 2.0, Change24h: 3.5},
	})

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/search sol"))
	assert.Contains(t, responder.last(), "Results for \"sol\"")
	options := responder.lastOptions()
	require.Len(t, options, 1)
	assert.Contains(t, options[0].Label, "WSOL")
	assert.Equal(t, selBuyToken+testToken, options[0].Data)

	// Picking a result drops straight into the amount step.
	require.NoError(t, machine.HandleSelection(ctx, testUser, options[0].Data))
	assert.Equal(t, domain.ModeAwaitingBuyAmount, stateOf(t, svc, testUser).Mode)

	require.NoError(t, machine.HandleText(ctx, testUser, "100"))
	assert.Contains(t, responder.last(), "Bought 50")
}

func TestSearchWithoutQueryPrompts(t *testing.T) {
	machine, _, _, responder, _ := newTestMachine(t, nil)
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/search"))
	assert.Equal(t, msgSearchUsage, responder.last())
}

func TestGainersAndLosers(t *testing.T) {
	machine, _, orc, responder, _ := newTestMachine(t, nil)
	ctx := context.Background()

	orc.SetListings([]oracle.TokenListing{
		{Address: "a1", Symbol: "UP", Price: 1, Change24h: 20},
		{Address: "b2", Symbol: "DOWN", Price: 1, Change24h: -40},
	})

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))

	require.NoError(t, machine.HandleText(ctx, testUser, "/gainers"))
	assert.Equal(t, msgGainersHeader, responder.last())
	options := responder.lastOptions()
	require.Len(t, options, 2)
	assert.Equal(t, selBuyToken+"a1", options[0].Data)
	assert.Contains(t, options[0].Label, "+20.00%")

	require.NoError(t, machine.HandleText(ctx, testUser, "/losers"))
	assert.Equal(t, msgLosersHeader, responder.last())
	options = responder.lastOptions()
	require.Len(t, options, 2)
	assert.Equal(t, selBuyToken+"b2", options[0].Data)
	assert.Contains(t, options[0].Label, "-40.00%")
}

func TestDiscoveryEmptyAndUnavailable(t *testing.T) {
	machine, svc, _, responder, tracker := newTestMachine(t, nil)
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/search nothingburger"))
	assert.Equal(t, msgNoTokensFound, responder.last())

	// A machine without a discovery backend says so instead of failing.
	bare, err := NewMachine(nil, svc, tracker, nil, responder)
	require.NoError(t, err)
	require.NoError(t, bare.HandleText(ctx, testUser, "/gainers"))
	assert.Equal(t, msgDiscoveryUnavailable, responder.last())
}

func TestReferralCommand(t *testing.T) {
	machine, _, _, responder, _ := newTestMachine(t, nil)
	ctx := context.Background()

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/referral"))
	assert.Contains(t, responder.last(), "/start "+testUser)
	assert.Contains(t, responder.last(), "$500.00")
}

func TestWalletsAndUntrack(t *testing.T) {
	machine, _, _, responder, tracker := newTestMachine(t, nil)
	ctx := context.Background()
	wallet := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	require.NoError(t, machine.HandleText(ctx, testUser, "/start"))
	require.NoError(t, machine.HandleText(ctx, testUser, "/wallets"))
	assert.Equal(t, msgNoTrackedWallets, responder.last())

	require.NoError(t, tracker.Track(ctx, testUser, wallet))

	require.NoError(t, machine.HandleText(ctx, testUser, "/wallets"))
	assert.Equal(t, msgTrackedWallets, responder.last())
	options := responder.lastOptions()
	require.Len(t, options, 1)
	assert.Equal(t, selUntrackWallet+wallet, options[0].Data)

	require.NoError(t, machine.HandleSelection(ctx, testUser, options[0].Data))
	assert.Contains(t, responder.last(), "Stopped tracking")
	assert.Empty(t, tracker.TrackedBy(ctx, testUser))

	// Untracking an unknown wallet surfaces the error.
	require.NoError(t, machine.HandleText(ctx, testUser, "/untrack "+wallet))
	assert.Contains(t, responder.last(), "wrong")
}
