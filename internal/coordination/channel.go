package coordination

import (
	"fmt"
	"sync"

	"github.com/ledgerline/contractflow/internal/event"
	"go.uber.org/zap"
)

// ObserverHandle is one open channel to a connected client. A failed Send is
// fatal to the handle, never to the workflow it observes.
type ObserverHandle interface {
	ID() string
	Send(ev event.Event) error
	Close() error
}

// EventChannel multicasts events to every observer of one workflow.
// Delivery is best effort: nothing is persisted and handles that fail a send
// are dropped from the set.
type EventChannel struct {
	workflowID string
	mu         sync.Mutex
	handles    map[string]ObserverHandle
	onEmpty    func()
	logger     *zap.Logger
}

// NewEventChannel creates an empty channel for the given workflow id.
func NewEventChannel(workflowID string, logger *zap.Logger) *EventChannel {
	return &EventChannel{
		workflowID: workflowID,
		handles:    make(map[string]ObserverHandle),
		logger:     logger,
	}
}

// OnEmpty registers a callback invoked after a failed send removes the last
// observer. Explicit Detach and CloseAll do not trigger it; their callers own
// that teardown. The callback runs outside the channel lock.
func (c *EventChannel) OnEmpty(fn func()) {
	c.mu.Lock()
	c.onEmpty = fn
	c.mu.Unlock()
}

// Attach registers an observer handle.
func (c *EventChannel) Attach(h ObserverHandle) {
	c.mu.Lock()
	c.handles[h.ID()] = h
	c.mu.Unlock()
}

// Detach removes a handle without closing it. Returns the remaining count.
func (c *EventChannel) Detach(handleID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, handleID)
	return len(c.handles)
}

// Count returns the number of attached handles.
func (c *EventChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// Publish delivers an event to every attached handle and returns how many
// deliveries succeeded. The handle set is snapshotted first so delivery
// happens outside the lock; a slow or broken observer cannot stall callers
// holding coordination state. Handles that fail are removed afterwards.
func (c *EventChannel) Publish(ev event.Event) int {
	c.mu.Lock()
	snapshot := make([]ObserverHandle, 0, len(c.handles))
	for _, h := range c.handles {
		snapshot = append(snapshot, h)
	}
	c.mu.Unlock()

	if len(snapshot) == 0 {
		c.logger.Debug("publish with no observers",
			zap.String("workflow", c.workflowID),
			zap.String("type", string(ev.Type)))
		return 0
	}

	var failed []string
	delivered := 0
	for _, h := range snapshot {
		if err := h.Send(ev); err != nil {
			c.logger.Warn("observer send failed, dropping handle",
				zap.String("workflow", c.workflowID),
				zap.String("connection", h.ID()),
				zap.Error(err))
			failed = append(failed, h.ID())
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		c.mu.Lock()
		for _, id := range failed {
			delete(c.handles, id)
		}
		emptied := len(c.handles) == 0
		onEmpty := c.onEmpty
		c.mu.Unlock()
		if emptied && onEmpty != nil {
			onEmpty()
		}
	}
	return delivered
}

// SendTo delivers an event to a single attached handle. Used for replies that
// must not be broadcast (connection_established, pong, per-sender errors).
func (c *EventChannel) SendTo(handleID string, ev event.Event) error {
	c.mu.Lock()
	h, ok := c.handles[handleID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no attached connection: %s", handleID)
	}
	if err := h.Send(ev); err != nil {
		c.mu.Lock()
		delete(c.handles, handleID)
		emptied := len(c.handles) == 0
		onEmpty := c.onEmpty
		c.mu.Unlock()
		if emptied && onEmpty != nil {
			onEmpty()
		}
		return err
	}
	return nil
}

// CloseAll closes and detaches every handle. Called on workflow teardown.
func (c *EventChannel) CloseAll() {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[string]ObserverHandle)
	c.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
}
