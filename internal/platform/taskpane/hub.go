// Package taskpane bridges picker navigation to a browser-hosted task pane.
// The pane connects over a WebSocket and receives the navigations the form
// workflow requests; picker pages post their results back over HTTP.
package taskpane

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types pushed to the pane.
const (
	EventVisibility = "visibility"
	EventNavigate   = "navigate"
)

// ErrNoPane is returned by strict hubs when no pane is connected.
var ErrNoPane = errors.New("no task pane connected")

// Event is one message sent to connected panes.
type Event struct {
	Type      string    `json:"type"`
	URL       string    `json:"url,omitempty"`
	Visible   bool      `json:"visible"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the pane state replayed to newly connected clients.
type State struct {
	Visible bool   `json:"visible"`
	URL     string `json:"url"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected pane.
type Client struct {
	ID   string
	Send chan []byte
	conn Conn
}

// NewClient creates a client with a buffered send queue.
func NewClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, 16)}
}

// Hub tracks connected panes and implements the navigation panel contract
// by broadcasting to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	state   State
	strict  bool
	logger  zerolog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithStrict makes Navigate fail with ErrNoPane when nothing is connected.
func WithStrict() HubOption {
	return func(h *Hub) { h.strict = true }
}

func NewHub(logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds a client and queues the current state for it.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = struct{}{}
	if h.state.URL != "" || h.state.Visible {
		if data, err := json.Marshal(h.stateEvent()); err == nil {
			select {
			case client.Send <- data:
			default:
			}
		}
	}
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
}

// ClientCount returns the number of connected panes.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// State returns the last requested pane state.
func (h *Hub) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// stateEvent must be called with h.mu held.
func (h *Hub) stateEvent() Event {
	return Event{Type: EventNavigate, URL: h.state.URL, Visible: h.state.Visible, Timestamp: time.Now().UTC()}
}

func (h *Hub) broadcast(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for client := range h.clients {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
			h.logger.Warn().Str("client", client.ID).Str("event", event.Type).Msg("task pane queue full, event dropped")
		}
	}
	return nil
}

// SetVisible records visibility and tells every pane.
func (h *Hub) SetVisible(_ context.Context, visible bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state.Visible = visible
	return h.broadcast(Event{Type: EventVisibility, Visible: visible, Timestamp: time.Now().UTC()})
}

// Navigate records url and tells every pane to load it.
func (h *Hub) Navigate(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.strict && len(h.clients) == 0 {
		return ErrNoPane
	}
	h.state.URL = url
	return h.broadcast(Event{Type: EventNavigate, URL: url, Visible: h.state.Visible, Timestamp: time.Now().UTC()})
}
