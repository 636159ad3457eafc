package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/papertrade/internal/metrics"
	"github.com/vadiminshakov/papertrade/internal/services/conversation"
	"go.uber.org/zap"
)

// outMessage is the JSON frame delivered to a chat client.
type outMessage struct {
	Text    string                `json:"text"`
	Options []conversation.Option `json:"options,omitempty"`
}

// inMessage is the JSON frame a chat client sends. Type is "text" or "select".
type inMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// EventSink receives decoded chat events from connected clients.
type EventSink interface {
	OnText(userID, text string)
	OnSelection(userID, data string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

const (
	writeTimeout = 10 * time.Second
	readDeadline = 120 * time.Second
)

// Hub manages one websocket connection per user id and implements
// conversation.Responder: prompts go to the user's live connection, and
// delivery to a disconnected user is an explicit error the caller surfaces.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*websocket.Conn
	sink    EventSink
	logger  *zap.Logger
}

// NewHub creates the websocket chat hub.
func NewHub(logger *zap.Logger, sink EventSink) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*websocket.Conn), sink: sink, logger: logger}
}

// DeliverPrompt sends text plus options to the user's connection.
func (h *Hub) DeliverPrompt(_ context.Context, userID, text string, options []conversation.Option) error {
	h.mu.RLock()
	conn, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return errors.Errorf("user %s is not connected", userID)
	}

	payload, err := json.Marshal(outMessage{Text: text, Options: options})
	if err != nil {
		return errors.Wrap(err, "marshal prompt")
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.drop(userID, conn)
		return errors.Wrapf(err, "deliver prompt to %s", userID)
	}
	return nil
}

// HandleWS upgrades GET /ws?user=<id> and pumps incoming events to the sink.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	if previous, ok := h.clients[userID]; ok {
		// The evicted connection's read pump sees a different conn in the map
		// and skips the gauge, so the decrement happens here.
		previous.Close()
		metrics.WebSocketClients.Dec()
	}
	h.clients[userID] = conn
	h.mu.Unlock()
	metrics.WebSocketClients.Inc()
	h.logger.Info("chat client connected", zap.String("user", userID))

	go h.readPump(userID, conn)
}

func (h *Hub) readPump(userID string, conn *websocket.Conn) {
	defer func() {
		h.drop(userID, conn)
		h.logger.Info("chat client disconnected", zap.String("user", userID))
	}()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		var msg inMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Debug("ignoring malformed frame", zap.String("user", userID), zap.Error(err))
			continue
		}
		if h.sink == nil {
			continue
		}
		switch msg.Type {
		case "text":
			h.sink.OnText(userID, msg.Text)
		case "select":
			h.sink.OnSelection(userID, msg.Data)
		}
	}
}

func (h *Hub) drop(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	if current, ok := h.clients[userID]; ok && current == conn {
		delete(h.clients, userID)
		metrics.WebSocketClients.Dec()
	}
	h.mu.Unlock()
	conn.Close()
}
