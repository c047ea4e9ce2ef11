package event

import "time"

// Type categorizes coordination events sent to observers.
type Type string

const (
	ConnectionEstablished  Type = "connection_established"
	WorkflowStatusUpdate   Type = "workflow_status_update"
	AgentTransition        Type = "agent_transition"
	HumanInputRequired     Type = "human_input_required"
	HumanInputAcknowledged Type = "human_input_acknowledged"
	HumanInputReceived     Type = "human_input_received"
	WorkflowCompleted      Type = "workflow_completed"
	WorkflowFailed         Type = "workflow_failed"
	Error                  Type = "error"
	Pong                   Type = "pong"
)

// Event is the outbound envelope delivered to every observer of a workflow.
// Field names are part of the client contract and must not change.
type Event struct {
	Type       Type           `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
}

// New builds an event stamped with the current time.
func New(t Type, workflowID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Type:       t,
		WorkflowID: workflowID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}
}

// NewError builds an error event carrying a human-readable message.
func NewError(workflowID, message string) Event {
	return New(Error, workflowID, map[string]any{"message": message})
}

// NewPong builds a ping reply.
func NewPong(workflowID string) Event {
	return New(Pong, workflowID, nil)
}
