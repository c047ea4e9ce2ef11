package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerline/contractflow/internal/event"
	"go.uber.org/zap"
)

// WorkflowCoordinator composes the event channel and the input bridge for one
// workflow id. It is what the pipeline engine calls into at stage boundaries.
type WorkflowCoordinator struct {
	workflowID string
	channel    *EventChannel
	bridge     *HumanInputBridge
	logger     *zap.Logger
}

func newWorkflowCoordinator(workflowID string, logger *zap.Logger) *WorkflowCoordinator {
	channel := NewEventChannel(workflowID, logger)
	bridge := NewHumanInputBridge(workflowID, channel, logger)
	// A send failure that removes the last observer cancels any awaiting
	// request, same as an explicit disconnect: nobody is left to answer.
	channel.OnEmpty(bridge.Cancel)
	return &WorkflowCoordinator{
		workflowID: workflowID,
		channel:    channel,
		bridge:     bridge,
		logger:     logger,
	}
}

// WorkflowID returns the id this coordinator serves.
func (c *WorkflowCoordinator) WorkflowID() string { return c.workflowID }

// Channel exposes the event channel for transport-level attach/detach.
func (c *WorkflowCoordinator) Channel() *EventChannel { return c.channel }

// Bridge exposes the human-input bridge.
func (c *WorkflowCoordinator) Bridge() *HumanInputBridge { return c.bridge }

// Publish broadcasts a status update event with the given payload.
func (c *WorkflowCoordinator) Publish(data map[string]any) int {
	return c.channel.Publish(event.New(event.WorkflowStatusUpdate, c.workflowID, data))
}

// RequestInput suspends the caller until an answer, timeout, or cancellation.
func (c *WorkflowCoordinator) RequestInput(ctx context.Context, requirements map[string]any, timeout time.Duration) (InputAnswer, error) {
	return c.bridge.RequestInput(ctx, requirements, timeout)
}

// NotifyTransition announces a hand-off between pipeline agents.
func (c *WorkflowCoordinator) NotifyTransition(fromAgent, toAgent string) {
	c.channel.Publish(event.New(event.AgentTransition, c.workflowID, map[string]any{
		"from_agent": fromAgent,
		"to_agent":   toAgent,
	}))
}

// NotifyCompleted announces successful pipeline completion.
func (c *WorkflowCoordinator) NotifyCompleted(finalState map[string]any) {
	c.channel.Publish(event.New(event.WorkflowCompleted, c.workflowID, finalState))
}

// NotifyFailed announces pipeline failure with the error and last known state.
func (c *WorkflowCoordinator) NotifyFailed(err error, state map[string]any) {
	data := map[string]any{"error": err.Error()}
	for k, v := range state {
		data[k] = v
	}
	c.channel.Publish(event.New(event.WorkflowFailed, c.workflowID, data))
}

// ConnectionCount returns the number of live observers.
func (c *WorkflowCoordinator) ConnectionCount() int {
	return c.channel.Count()
}

// CoordinatorSet owns one WorkflowCoordinator per workflow id, created lazily
// on first use. The set-level lock guards only map bookkeeping; each
// coordinator carries its own locking, so unrelated workflows never stall
// each other.
type CoordinatorSet struct {
	mu     sync.RWMutex
	coords map[string]*WorkflowCoordinator
	logger *zap.Logger
}

// NewCoordinatorSet creates an empty set.
func NewCoordinatorSet(logger *zap.Logger) *CoordinatorSet {
	return &CoordinatorSet{
		coords: make(map[string]*WorkflowCoordinator),
		logger: logger,
	}
}

// Get returns the coordinator for a workflow id, creating it if needed.
func (s *CoordinatorSet) Get(workflowID string) *WorkflowCoordinator {
	s.mu.RLock()
	c, ok := s.coords[workflowID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.coords[workflowID]; ok {
		return c
	}
	c = newWorkflowCoordinator(workflowID, s.logger)
	s.coords[workflowID] = c
	return c
}

// Lookup returns the coordinator only if it already exists.
func (s *CoordinatorSet) Lookup(workflowID string) (*WorkflowCoordinator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coords[workflowID]
	return c, ok
}

// Release tears down a workflow's coordination structures: any awaiting input
// request is cancelled, all observer handles are closed, and the entry is
// removed. Called when the workflow terminates.
func (s *CoordinatorSet) Release(workflowID string) {
	s.mu.Lock()
	c, ok := s.coords[workflowID]
	delete(s.coords, workflowID)
	s.mu.Unlock()

	if !ok {
		return
	}
	c.bridge.Cancel()
	c.channel.CloseAll()
	s.logger.Info("released workflow coordination", zap.String("workflow", workflowID))
}

// Size returns the number of live coordinators.
func (s *CoordinatorSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.coords)
}
