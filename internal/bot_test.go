package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/papertrade/internal/services/broadcast"
	"github.com/vadiminshakov/papertrade/internal/services/conversation"
	"github.com/vadiminshakov/papertrade/internal/services/ledger"
	"github.com/vadiminshakov/papertrade/internal/services/oracle"
	"github.com/vadiminshakov/papertrade/internal/storage/accounts"
)

const botTestToken = "So11111111111111111111111111111111111111112"

type collectingResponder struct {
	mu     sync.Mutex
	byUser map[string][]string
}

func newCollectingResponder() *collectingResponder {
	return &collectingResponder{byUser: make(map[string][]string)}
}

func (r *collectingResponder) DeliverPrompt(_ context.Context, userID, text string, _ []conversation.Option) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[userID] = append(r.byUser[userID], text)
	return nil
}

func (r *collectingResponder) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID])
}

func (r *collectingResponder) last(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.byUser[userID]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func newTestBot(t *testing.T, admins []string) (*Bot, *ledger.Service, *collectingResponder) {
	t.Helper()
	store := accounts.NewMemoryStore()
	orc := oracle.NewStaticOracle(map[string]float64{botTestToken: 2.0})
	svc, err := ledger.NewService(nil, store, orc, ledger.Config{InitialBalance: 10000, QuoteTimeout: time.Second})
	require.NoError(t, err)

	responder := newCollectingResponder()
	machine, err := conversation.NewMachine(nil, svc, nil, nil, responder)
	require.NoError(t, err)
	broadcaster, err := broadcast.NewService(nil, store, responder)
	require.NoError(t, err)

	bot, err := NewBot(nil, machine, broadcaster, responder, admins)
	require.NoError(t, err)
	t.Cleanup(bot.Close)
	return bot, svc, responder
}

func TestDispatchPreservesPerUserOrder(t *testing.T) {
	bot, svc, responder := newTestBot(t, nil)

	// The full buy flow only succeeds if events arrive strictly in order.
	for _, text := range []string{"/start", "/buy", botTestToken, "100"} {
		bot.Dispatch(Event{UserID: "u1", Kind: EventText, Text: text})
	}

	require.Eventually(t, func() bool {
		return responder.count("u1") == 4
	}, 5*time.Second, 10*time.Millisecond)

	account, _, err := svc.GetOrCreate(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, account.Holdings[botTestToken].Quantity, 1e-9)
	assert.InDelta(t, 9900.0, account.CashBalance, 1e-9)
}

func TestDispatchIgnoresAnonymousEvents(t *testing.T) {
	bot, _, responder := newTestBot(t, nil)

	bot.Dispatch(Event{UserID: "", Kind: EventText, Text: "/start"})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, responder.count(""))
}

func TestBroadcastRequiresAdmin(t *testing.T) {
	bot, _, responder := newTestBot(t, []string{"admin"})

	bot.Dispatch(Event{UserID: "intruder", Kind: EventText, Text: "/broadcast free money"})
	require.Eventually(t, func() bool {
		return responder.count("intruder") == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "This command is only available to administrators.", responder.last("intruder"))
}

func TestBroadcastFromAdmin(t *testing.T) {
	bot, svc, responder := newTestBot(t, []string{"admin"})

	// Seed two accounts so the broadcast has recipients.
	_, _, err := svc.GetOrCreate(context.Background(), "a", "")
	require.NoError(t, err)
	_, _, err = svc.GetOrCreate(context.Background(), "b", "")
	require.NoError(t, err)

	bot.Dispatch(Event{UserID: "admin", Kind: EventText, Text: "/broadcast maintenance at noon"})
	require.Eventually(t, func() bool {
		return responder.count("admin") == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, responder.last("admin"), "delivered to 2")
	assert.Equal(t, "maintenance at noon", responder.last("a"))
	assert.Equal(t, "maintenance at noon", responder.last("b"))
}

func TestBroadcastUsage(t *testing.T) {
	bot, _, responder := newTestBot(t, []string{"admin"})

	bot.Dispatch(Event{UserID: "admin", Kind: EventText, Text: "/broadcast"})
	require.Eventually(t, func() bool {
		return responder.count("admin") == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, responder.last("admin"), "Usage:")
}
