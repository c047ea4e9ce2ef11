package coordination

import (
	"errors"
	"sync"
	"testing"

	"github.com/ledgerline/contractflow/internal/event"
	"go.uber.org/zap"
)

// fakeHandle records sent events and can be told to fail sends.
type fakeHandle struct {
	id     string
	mu     sync.Mutex
	events []event.Event
	fail   bool
	closed bool
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(ev event.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("send failed")
	}
	h.events = append(h.events, ev)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) setFail(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail = fail
}

func (h *fakeHandle) received() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event.Event, len(h.events))
	copy(out, h.events)
	return out
}

func TestPublishNoObservers(t *testing.T) {
	c := NewEventChannel("wf-empty", zap.NewNop())
	if n := c.Publish(event.New(event.WorkflowStatusUpdate, "wf-empty", nil)); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
}

func TestPublishDeliversToAll(t *testing.T) {
	c := NewEventChannel("wf-1", zap.NewNop())
	a := newFakeHandle("a")
	b := newFakeHandle("b")
	c.Attach(a)
	c.Attach(b)

	if n := c.Publish(event.New(event.AgentTransition, "wf-1", map[string]any{"to_agent": "validation"})); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(a.received()) != 1 || len(b.received()) != 1 {
		t.Errorf("both observers should have one event, got %d/%d", len(a.received()), len(b.received()))
	}
}

func TestPublishPartialFailure(t *testing.T) {
	c := NewEventChannel("wf-1", zap.NewNop())
	good := newFakeHandle("good")
	bad := newFakeHandle("bad")
	c.Attach(good)
	c.Attach(bad)
	bad.setFail(true)

	if n := c.Publish(event.New(event.WorkflowStatusUpdate, "wf-1", nil)); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	// The broken handle is pruned; the survivor keeps receiving.
	if c.Count() != 1 {
		t.Fatalf("expected 1 remaining handle, got %d", c.Count())
	}
	if n := c.Publish(event.New(event.WorkflowStatusUpdate, "wf-1", nil)); n != 1 {
		t.Fatalf("expected 1 delivery after prune, got %d", n)
	}
	if len(good.received()) != 2 {
		t.Errorf("survivor should have 2 events, got %d", len(good.received()))
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	c := NewEventChannel("wf-1", zap.NewNop())
	h := newFakeHandle("h")
	c.Attach(h)

	for i := 0; i < 10; i++ {
		c.Publish(event.New(event.WorkflowStatusUpdate, "wf-1", map[string]any{"seq": i}))
	}

	got := h.received()
	if len(got) != 10 {
		t.Fatalf("expected 10 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Data["seq"] != i {
			t.Fatalf("event %d out of order: got seq %v", i, ev.Data["seq"])
		}
	}
}

func TestSendToSingleHandle(t *testing.T) {
	c := NewEventChannel("wf-1", zap.NewNop())
	a := newFakeHandle("a")
	b := newFakeHandle("b")
	c.Attach(a)
	c.Attach(b)

	if err := c.SendTo("a", event.NewPong("wf-1")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if len(a.received()) != 1 {
		t.Errorf("target should have 1 event, got %d", len(a.received()))
	}
	if len(b.received()) != 0 {
		t.Errorf("other observer should have 0 events, got %d", len(b.received()))
	}
	if err := c.SendTo("missing", event.NewPong("wf-1")); err == nil {
		t.Error("SendTo unknown handle should error")
	}
}

func TestDetachAndCloseAll(t *testing.T) {
	c := NewEventChannel("wf-1", zap.NewNop())
	a := newFakeHandle("a")
	b := newFakeHandle("b")
	c.Attach(a)
	c.Attach(b)

	if remaining := c.Detach("a"); remaining != 1 {
		t.Fatalf("expected 1 remaining, got %d", remaining)
	}
	c.CloseAll()
	if c.Count() != 0 {
		t.Fatalf("expected 0 handles after CloseAll, got %d", c.Count())
	}
	if !b.closed {
		t.Error("remaining handle should be closed")
	}
	if a.closed {
		t.Error("detached handle must not be closed by CloseAll")
	}
}
