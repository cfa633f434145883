package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/owenh/sceneguide/internal/query"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Camera frames arrive over the socket, so the limit matches the
	// largest frame we accept.
	maxMessageSize = 8 << 20

	// speakTimeout bounds the wait for a client playback ack. A client
	// that never acks must not wedge the speech queue.
	speakTimeout = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inbound is any message a browser client sends up the socket.
type inbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// outbound is any message pushed down to clients.
type outbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind,omitempty"`
	Text string `json:"text,omitempty"`
}

// clientHandler processes messages arriving from connected clients.
// SessionService satisfies it.
type clientHandler interface {
	HandleUtterance(ctx context.Context, text string) (query.Result, error)
	SubmitFrame(data []byte, mimeType string)
}

// Hub tracks connected websocket clients. It is the speech output
// device (speech.Speaker) and the live event sink (service.Notifier):
// speak and cancel commands go down the socket, playback acks come
// back up.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	handler clientHandler
	clients map[*client]struct{}
	pending map[string]chan struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		pending: make(map[string]chan struct{}),
	}
}

// SetHandler installs the message handler. Called once during wiring,
// before the server accepts connections.
func (h *Hub) SetHandler(handler clientHandler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

func (h *Hub) clientHandler() clientHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handler
}

// Speak implements speech.Speaker: it pushes the text to every
// connected client and waits until one reports playback finished. With
// no clients connected there is nothing to play, so it returns at
// once.
func (h *Hub) Speak(ctx context.Context, text string) error {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return nil
	}
	id := uuid.NewString()
	ack := make(chan struct{}, 1)
	h.pending[id] = ack
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	h.broadcast(outbound{Type: "speak", ID: id, Text: text})

	timer := time.NewTimer(speakTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		h.logger.Warn("speech ack timed out", "utterance_id", id)
		return nil
	}
}

// CancelAll implements speech.Speaker: clients stop any playback in
// progress immediately.
func (h *Hub) CancelAll() {
	h.broadcast(outbound{Type: "cancel"})
}

// Caption implements service.Notifier.
func (h *Hub) Caption(text string) {
	h.broadcast(outbound{Type: "caption", Text: text})
}

// SceneAccepted implements service.Notifier.
func (h *Hub) SceneAccepted(text string) {
	h.broadcast(outbound{Type: "scene", Text: text})
}

func (h *Hub) broadcast(msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal outbound message", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.enqueue(data)
	}
}

func (h *Hub) ack(id string) {
	h.mu.Lock()
	ch, ok := h.pending[id]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", "clients", n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", "clients", n)
}

type client struct {
	ws     *websocket.Conn
	hub    *Hub
	logger *slog.Logger
	send   chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newClient(ws *websocket.Conn, hub *Hub, logger *slog.Logger) *client {
	return &client{
		ws:     ws,
		hub:    hub,
		logger: logger,
		send:   make(chan []byte, 128),
		done:   make(chan struct{}),
	}
}

func (c *client) enqueue(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping message")
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	// send stays open: a concurrent broadcast may still try to enqueue.
	// writePump exits via done instead.
	_ = c.ws.Close()
}

func (c *client) readPump(ctx context.Context) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Error("failed to unmarshal message", "error", err)
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *client) handle(ctx context.Context, msg inbound) {
	handler := c.hub.clientHandler()
	if handler == nil {
		c.logger.Warn("no handler installed, dropping message", "type", msg.Type)
		return
	}
	switch msg.Type {
	case "utterance":
		// Off the read loop: answering blocks on playback acks, and
		// those acks arrive on this same loop.
		go func() {
			result, err := handler.HandleUtterance(ctx, msg.Text)
			if err != nil {
				c.logger.Warn("utterance handling failed", "error", err)
			}
			data, err := json.Marshal(outbound{Type: "result", Kind: string(result.Kind), Text: result.Text})
			if err == nil {
				c.enqueue(data)
			}
		}()
	case "frame":
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			c.logger.Warn("frame decode failed", "error", err)
			return
		}
		handler.SubmitFrame(data, msg.Mime)
	case "spoken":
		c.hub.ack(msg.ID)
	default:
		c.logger.Warn("unknown message type", "type", msg.Type)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
