package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ledgerline/contractflow/internal/coordination"
	"go.uber.org/zap"
)

// Server upgrades observer HTTP requests to websocket connections and feeds
// their inbound messages into the connection registry.
type Server struct {
	connections *coordination.ConnectionRegistry
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewServer creates a websocket server over the given connection registry.
func NewServer(connections *coordination.ConnectionRegistry, logger *zap.Logger) *Server {
	return &Server{
		connections: connections,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from arbitrary origins; auth happens
			// at the principal middleware, not the origin check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Attach upgrades the request and blocks servicing the observer until the
// connection drops. The caller supplies the workflow id from the route.
func (s *Server) Attach(w http.ResponseWriter, r *http.Request, workflowID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("workflow", workflowID), zap.Error(err))
		return
	}

	handle := NewHandle(conn)
	connectionID, err := s.connections.Connect(workflowID, handle)
	if err != nil {
		switch {
		case errors.Is(err, coordination.ErrWorkflowNotFound):
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown workflow"), closeDeadline())
		case errors.Is(err, coordination.ErrWorkflowFinished):
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "workflow finished"), closeDeadline())
		}
		_ = conn.Close()
		return
	}

	defer func() {
		s.connections.Disconnect(connectionID)
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("observer read error",
					zap.String("workflow", workflowID),
					zap.String("connection", connectionID),
					zap.Error(err))
			}
			return
		}
		s.connections.Dispatch(workflowID, connectionID, raw)
	}
}

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}
