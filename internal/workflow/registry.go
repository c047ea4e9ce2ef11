package workflow

import (
	"sync"
	"time"
)

// Status values for a pipeline run.
type Status string

const (
	StatusPending            Status = "pending"
	StatusProcessing         Status = "processing"
	StatusAwaitingHumanInput Status = "awaiting_human_input"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// Terminal reports whether a status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Snapshot is the externally visible state of one workflow run. It seeds
// newly connected observers and answers polling status checks.
type Snapshot struct {
	WorkflowID        string         `json:"workflow_id"`
	ProcessingStatus  Status         `json:"processing_status"`
	CurrentAgent      string         `json:"current_agent,omitempty"`
	ContractName      string         `json:"contract_name,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	ValidationResults map[string]any `json:"validation_results,omitempty"`
	HumanInputRequest map[string]any `json:"human_input_request,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Registry maps workflow ids to their current pipeline state. The pipeline
// engine writes on every state change; the coordination layer only reads.
type Registry interface {
	Get(workflowID string) (Snapshot, bool)
	Put(snap Snapshot)
	Delete(workflowID string)
	List() []Snapshot
}

// MemoryRegistry is the in-process Registry used by default.
type MemoryRegistry struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{snaps: make(map[string]Snapshot)}
}

func (r *MemoryRegistry) Get(workflowID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snaps[workflowID]
	return snap, ok
}

func (r *MemoryRegistry) Put(snap Snapshot) {
	snap.UpdatedAt = time.Now().UTC()
	r.mu.Lock()
	r.snaps[snap.WorkflowID] = snap
	r.mu.Unlock()
}

func (r *MemoryRegistry) Delete(workflowID string) {
	r.mu.Lock()
	delete(r.snaps, workflowID)
	r.mu.Unlock()
}

func (r *MemoryRegistry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s)
	}
	return out
}
