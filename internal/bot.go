// Package internal wires transport events into the conversation state
// machine with per-user ordering guarantees.
package internal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/papertrade/internal/services/broadcast"
	"github.com/vadiminshakov/papertrade/internal/services/conversation"
	"go.uber.org/zap"
)

// EventKind distinguishes free text from option selections.
type EventKind int

const (
	EventText EventKind = iota
	EventSelection
)

// Event is one incoming chat event.
type Event struct {
	UserID string
	Kind   EventKind
	Text   string // free text for EventText
	Data   string // option payload for EventSelection
}

const (
	eventQueueSize = 32
	handleTimeout  = 30 * time.Second
)

// Bot dispatches transport events into the state machine. Events for one
// user run on a dedicated serial queue so they are processed strictly in
// arrival order; different users proceed concurrently.
type Bot struct {
	machine     *conversation.Machine
	broadcaster *broadcast.Service
	responder   conversation.Responder
	logger      *zap.Logger
	admins      map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	queues map[string]chan Event
	wg     sync.WaitGroup
}

// NewBot creates the dispatcher. adminIDs may be empty, disabling /broadcast.
func NewBot(logger *zap.Logger, machine *conversation.Machine, broadcaster *broadcast.Service,
	responder conversation.Responder, adminIDs []string) (*Bot, error) {
	if machine == nil {
		return nil, errors.New("conversation machine is required")
	}
	if responder == nil {
		return nil, errors.New("responder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		machine:     machine,
		broadcaster: broadcaster,
		responder:   responder,
		logger:      logger,
		admins:      admins,
		ctx:         ctx,
		cancel:      cancel,
		queues:      make(map[string]chan Event),
	}, nil
}

// Dispatch enqueues an event on the user's serial queue, starting it lazily.
func (b *Bot) Dispatch(ev Event) {
	if ev.UserID == "" {
		return
	}

	b.mu.Lock()
	queue, ok := b.queues[ev.UserID]
	if !ok {
		queue = make(chan Event, eventQueueSize)
		b.queues[ev.UserID] = queue
		b.wg.Add(1)
		go b.worker(queue)
	}
	b.mu.Unlock()

	select {
	case queue <- ev:
	case <-b.ctx.Done():
	}
}

// Close stops all user queues and waits for in-flight events.
func (b *Bot) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bot) worker(queue chan Event) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-queue:
			b.process(ev)
		}
	}
}

func (b *Bot) process(ev Event) {
	ctx, cancel := context.WithTimeout(b.ctx, handleTimeout)
	defer cancel()

	var err error
	switch ev.Kind {
	case EventSelection:
		err = b.machine.HandleSelection(ctx, ev.UserID, ev.Data)
	case EventText:
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(ev.Text)), "/broadcast") {
			err = b.handleBroadcast(ctx, ev)
		} else {
			err = b.machine.HandleText(ctx, ev.UserID, ev.Text)
		}
	}
	if err != nil {
		b.logger.Warn("event handling failed",
			zap.String("user", ev.UserID),
			zap.Error(err))
	}
}

// handleBroadcast gates "/broadcast <text>" on the admin list.
func (b *Bot) handleBroadcast(ctx context.Context, ev Event) error {
	if _, isAdmin := b.admins[ev.UserID]; !isAdmin {
		return b.responder.DeliverPrompt(ctx, ev.UserID, "This command is only available to administrators.", nil)
	}
	message := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ev.Text), "/broadcast"))
	return b.runBroadcast(ctx, ev.UserID, message)
}

func (b *Bot) runBroadcast(ctx context.Context, adminID, message string) error {
	if b.broadcaster == nil {
		return b.responder.DeliverPrompt(ctx, adminID, "Broadcast is not configured.", nil)
	}
	if message == "" {
		return b.responder.DeliverPrompt(ctx, adminID, "Usage: /broadcast <message>", nil)
	}
	report, err := b.broadcaster.Send(ctx, message)
	if err != nil {
		return errors.Wrap(err, "broadcast")
	}
	return b.responder.DeliverPrompt(ctx, adminID, report.String(), nil)
}
