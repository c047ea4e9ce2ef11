package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ledgerline/contractflow/internal/event"
)

const writeTimeout = 10 * time.Second

// Handle wraps one websocket connection as an observer handle. Writes are
// serialized through a mutex since gorilla connections allow only a single
// concurrent writer.
type Handle struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewHandle wraps an upgraded connection with a generated connection id.
func NewHandle(conn *websocket.Conn) *Handle {
	return &Handle{
		id:   uuid.New().String(),
		conn: conn,
	}
}

// ID returns the generated connection id.
func (h *Handle) ID() string { return h.id }

// Send writes one event as a JSON message. Any error is fatal to the handle.
func (h *Handle) Send(ev event.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return h.conn.WriteJSON(ev)
}

// Close shuts the underlying connection.
func (h *Handle) Close() error {
	return h.conn.Close()
}
