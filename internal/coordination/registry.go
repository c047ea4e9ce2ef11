package coordination

import (
	"encoding/json"
	"sync"

	"github.com/ledgerline/contractflow/internal/event"
	"github.com/ledgerline/contractflow/internal/workflow"
	"go.uber.org/zap"
)

// Inbound observer message kinds. Anything else produces an error event back
// to the sender, never a broadcast.
type MessageKind string

const (
	MessageHumanInputSubmission MessageKind = "human_input_submission"
	MessagePing                 MessageKind = "ping"
	MessageGetStatus            MessageKind = "get_status"
)

// InboundMessage is the envelope observers send over their channel.
type InboundMessage struct {
	Type MessageKind     `json:"type"`
	Data json.RawMessage `json:"data"`
}

type submissionPayload struct {
	RequestID   string         `json:"request_id,omitempty"`
	FieldValues map[string]any `json:"field_values"`
	UserNotes   string         `json:"user_notes,omitempty"`
}

// ConnectionRegistry tracks live observer handles across workflows and routes
// their inbound messages to the right coordinator.
type ConnectionRegistry struct {
	set      *CoordinatorSet
	registry workflow.Registry

	mu     sync.RWMutex
	conns  map[string]string // connection id -> workflow id
	logger *zap.Logger
}

// NewConnectionRegistry creates a registry over the given coordinator set and
// workflow state registry.
func NewConnectionRegistry(set *CoordinatorSet, registry workflow.Registry, logger *zap.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		set:      set,
		registry: registry,
		conns:    make(map[string]string),
		logger:   logger,
	}
}

// Connect registers an observer handle for a workflow and returns the
// generated connection id. The new observer immediately receives a
// connection_established event seeded with the current workflow snapshot;
// earlier events are not replayed. Connecting to an unknown workflow id
// returns ErrWorkflowNotFound; a workflow in a terminal state returns
// ErrWorkflowFinished.
func (r *ConnectionRegistry) Connect(workflowID string, h ObserverHandle) (string, error) {
	snap, ok := r.registry.Get(workflowID)
	if !ok {
		return "", ErrWorkflowNotFound
	}
	// The coordinator for a terminal run was already released; attaching
	// would recreate one that nothing ever tears down.
	if snap.ProcessingStatus.Terminal() {
		return "", ErrWorkflowFinished
	}

	coord := r.set.Get(workflowID)
	coord.Channel().Attach(h)

	r.mu.Lock()
	r.conns[h.ID()] = workflowID
	r.mu.Unlock()

	_ = coord.Channel().SendTo(h.ID(), event.New(event.ConnectionEstablished, workflowID, map[string]any{
		"connection_id": h.ID(),
		"status":        snap,
	}))

	r.logger.Info("observer connected",
		zap.String("workflow", workflowID),
		zap.String("connection", h.ID()))
	return h.ID(), nil
}

// Disconnect removes a handle. When the last observer of a workflow leaves,
// any awaiting input request is cancelled: nobody can answer it anymore.
func (r *ConnectionRegistry) Disconnect(connectionID string) {
	r.mu.Lock()
	workflowID, ok := r.conns[connectionID]
	delete(r.conns, connectionID)
	r.mu.Unlock()
	if !ok {
		return
	}

	coord, ok := r.set.Lookup(workflowID)
	if !ok {
		return
	}
	remaining := coord.Channel().Detach(connectionID)
	r.logger.Info("observer disconnected",
		zap.String("workflow", workflowID),
		zap.String("connection", connectionID),
		zap.Int("remaining", remaining))

	if remaining == 0 {
		coord.Bridge().Cancel()
	}
}

// Dispatch routes one raw inbound message from a connected observer. Replies
// (pong, status, errors) go to the sender only.
func (r *ConnectionRegistry) Dispatch(workflowID, connectionID string, raw []byte) {
	coord, ok := r.set.Lookup(workflowID)
	if !ok {
		r.logger.Warn("dispatch for unknown workflow", zap.String("workflow", workflowID))
		return
	}
	channel := coord.Channel()

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		_ = channel.SendTo(connectionID, event.NewError(workflowID, "malformed message: "+err.Error()))
		return
	}

	switch msg.Type {
	case MessageHumanInputSubmission:
		var payload submissionPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			_ = channel.SendTo(connectionID, event.NewError(workflowID, "malformed submission: "+err.Error()))
			return
		}
		accepted, err := coord.Bridge().Submit(InputAnswer{
			RequestID:   payload.RequestID,
			FieldValues: payload.FieldValues,
			UserNotes:   payload.UserNotes,
		})
		if !accepted {
			_ = channel.SendTo(connectionID, event.NewError(workflowID, err.Error()))
			return
		}
		_ = channel.SendTo(connectionID, event.New(event.HumanInputAcknowledged, workflowID, map[string]any{
			"request_id": payload.RequestID,
		}))

	case MessagePing:
		_ = channel.SendTo(connectionID, event.NewPong(workflowID))

	case MessageGetStatus:
		snap, ok := r.registry.Get(workflowID)
		if !ok {
			_ = channel.SendTo(connectionID, event.NewError(workflowID, ErrWorkflowNotFound.Error()))
			return
		}
		_ = channel.SendTo(connectionID, event.New(event.WorkflowStatusUpdate, workflowID, map[string]any{
			"status": snap,
		}))

	default:
		_ = channel.SendTo(connectionID, event.NewError(workflowID, "unknown message type: "+string(msg.Type)))
	}
}

// ConnectionCount returns the number of live observers for a workflow.
func (r *ConnectionRegistry) ConnectionCount(workflowID string) int {
	coord, ok := r.set.Lookup(workflowID)
	if !ok {
		return 0
	}
	return coord.ConnectionCount()
}
