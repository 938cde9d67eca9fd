package taskpane

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Pick is a picker result posted back by a task pane page. Section names a
// repeating section (problem_added, problem_resolved); otherwise NodePath
// names the node to fill.
type Pick struct {
	NodePath string `json:"nodePath"`
	Section  string `json:"section"`
	Value    string `json:"value"`
}

// PickFunc applies a pick to the form. A returned error rejects the pick.
type PickFunc func(ctx context.Context, pick Pick) error

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // The bridge listens on loopback only.
	},
}

// Handler serves the pane connection, state and pick endpoints.
type Handler struct {
	hub    *Hub
	onPick PickFunc
}

func NewHandler(hub *Hub, onPick PickFunc) *Handler {
	return &Handler{hub: hub, onPick: onPick}
}

// RegisterRoutes registers the task pane endpoints on the provided Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
	g.GET("/state", h.GetState)
	g.POST("/pick", h.PostPick)
}

// GetState handles GET /state.
func (h *Handler) GetState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.hub.State())
}

// PostPick handles POST /pick.
func (h *Handler) PostPick(c echo.Context) error {
	var pick Pick
	if err := c.Bind(&pick); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if pick.Value == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "value is required")
	}
	if pick.NodePath == "" && pick.Section == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "nodePath or section is required")
	}
	if h.onPick == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no form is open")
	}
	if err := h.onPick(c.Request().Context(), pick); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "applied"})
}

// HandleConnect upgrades an HTTP connection to WebSocket, registers the
// pane with the hub, and starts read/write pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.New().String())
	client.conn = &gorillaConnAdapter{ws}
	h.hub.Register(client)
	h.hub.logger.Info().Str("client", client.ID).Msg("task pane connected")

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// readPump drains inbound frames until the pane disconnects. Panes only
// listen; anything they send is ignored.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.conn.Close()
		h.hub.logger.Info().Str("client", client.ID).Msg("task pane disconnected")
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump writes messages from the Send channel to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
