// Package transport provides the local console chat transport, useful for
// playing with the bot without a websocket client.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/vadiminshakov/papertrade/internal/services/conversation"
	"go.uber.org/zap"
)

// ConsoleUserID is the account id used by the local console session.
const ConsoleUserID = "console"

var (
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#dddddd"})
	optionStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"})
)

// EventSink receives the console user's input.
type EventSink interface {
	OnText(userID, text string)
	OnSelection(userID, data string)
}

// Console is a line-oriented chat REPL. Numbered replies pick the matching
// option from the last prompt; anything else is sent as free text.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	in      io.Reader
	logger  *zap.Logger
	pending []conversation.Option
}

// NewConsole creates a console transport over stdin/stdout.
func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{out: os.Stdout, in: os.Stdin, logger: logger}
}

// DeliverPrompt prints the prompt and remembers its options for numbered input.
func (c *Console) DeliverPrompt(_ context.Context, _ string, text string, options []conversation.Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out, botStyle.Render("bot:"), textStyle.Render(text))
	for i, opt := range options {
		fmt.Fprintln(c.out, optionStyle.Render(fmt.Sprintf("  [%d] %s", i+1, opt.Label)))
	}
	c.pending = options
	return nil
}

// Run reads input lines until ctx is cancelled or stdin closes.
func (c *Console) Run(ctx context.Context, sink EventSink) {
	scanner := bufio.NewScanner(c.in)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.handleLine(line, sink)
		}
	}
}

func (c *Console) handleLine(line string, sink EventSink) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	c.mu.Lock()
	options := c.pending
	c.pending = nil
	c.mu.Unlock()

	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(options) {
		sink.OnSelection(ConsoleUserID, options[n-1].Data)
		return
	}
	sink.OnText(ConsoleUserID, line)
}
