package event

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/choraleia/chathub/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// Connected is the first frame on every socket, sent once the
	// subscription is live.
	Connected = "connected"

	wsPingInterval = 30 * time.Second
	wsPongWait     = 60 * time.Second
	wsWriteWait    = 5 * time.Second
	wsSendBuffer   = 64
)

// WSMessage is the JSON frame sent over the socket.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	TS    int64           `json:"ts"` // unix ms
}

// WSHandler pushes a user's events to their websocket connections.
type WSHandler struct {
	emitter  *Emitter
	userOf   func(*gin.Context) string
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a websocket handler. userOf resolves the user a
// connection belongs to; only that user's events are delivered.
func NewWSHandler(emitter *Emitter, userOf func(*gin.Context) string) *WSHandler {
	return &WSHandler{
		emitter: emitter,
		userOf:  userOf,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: utils.GetLogger(),
	}
}

// Handle upgrades the request and streams events until either side hangs up.
//
// Query params:
//   - events: comma-separated event names (empty = all)
//
// Example: /api/events/ws?events=chat.messageStatusChanged,chat.sessionTitleUpdated
func (h *WSHandler) Handle(c *gin.Context) {
	userID := h.userOf(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan WSMessage, wsSendBuffer),
		userID: userID,
		wanted: parseEventFilter(c.Query("events")),
		logger: h.logger,
	}
	defer client.close()

	unsubscribe := h.emitter.OnAny(client.deliver)
	defer unsubscribe()

	if err := client.write(WSMessage{Event: Connected, TS: time.Now().UnixMilli()}); err != nil {
		return
	}

	done := make(chan struct{})
	go client.readLoop(done)
	client.writeLoop(c.Request.Context().Done(), done)
}

func parseEventFilter(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	wanted := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			wanted[name] = true
		}
	}
	return wanted
}

// encodeEvent renders the event payload. Fields tagged json:"-" such as
// the recipient never leave the process.
func encodeEvent(ev Event) json.RawMessage {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	return data
}

type wsClient struct {
	conn    *websocket.Conn
	send    chan WSMessage
	userID  string
	wanted  map[string]bool
	writeMu sync.Mutex
	logger  *slog.Logger
}

// deliver runs on the emitter's goroutine and must not block.
func (cl *wsClient) deliver(ev Event) {
	if ev.Recipient() != cl.userID {
		return
	}
	if cl.wanted != nil && !cl.wanted[ev.EventName()] {
		return
	}

	msg := WSMessage{Event: ev.EventName(), Data: encodeEvent(ev), TS: time.Now().UnixMilli()}
	select {
	case cl.send <- msg:
	default:
		cl.logger.Warn("Dropped websocket event, buffer full", "event", ev.EventName(), "userID", cl.userID)
	}
}

// readLoop drains client frames so pongs are processed.
func (cl *wsClient) readLoop(done chan<- struct{}) {
	defer close(done)
	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (cl *wsClient) writeLoop(requestDone <-chan struct{}, readerDone <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-requestDone:
			return
		case <-readerDone:
			return
		case <-ticker.C:
			if err := cl.ping(); err != nil {
				return
			}
		case msg := <-cl.send:
			if err := cl.write(msg); err != nil {
				return
			}
		}
	}
}

func (cl *wsClient) write(msg WSMessage) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return cl.conn.WriteJSON(msg)
}

func (cl *wsClient) ping() error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return cl.conn.WriteMessage(websocket.PingMessage, nil)
}

func (cl *wsClient) close() {
	_ = cl.conn.Close()
}
