package coordination

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledgerline/contractflow/internal/event"
	"go.uber.org/zap"
)

func newTestBridge(t *testing.T, workflowID string) (*HumanInputBridge, *fakeHandle) {
	t.Helper()
	channel := NewEventChannel(workflowID, zap.NewNop())
	h := newFakeHandle("observer")
	channel.Attach(h)
	return NewHumanInputBridge(workflowID, channel, zap.NewNop()), h
}

// findEvent returns the first received event of the given type.
func findEvent(t *testing.T, h *fakeHandle, typ event.Type) (event.Event, bool) {
	t.Helper()
	for _, ev := range h.received() {
		if ev.Type == typ {
			return ev, true
		}
	}
	return event.Event{}, false
}

func TestRequestInputFulfilled(t *testing.T) {
	b, h := newTestBridge(t, "wf-1")

	done := make(chan struct{})
	var answer InputAnswer
	var reqErr error
	go func() {
		defer close(done)
		answer, reqErr = b.RequestInput(context.Background(), map[string]any{"amount": "required"}, 5*time.Second)
	}()

	waitForPending(t, b)

	ev, ok := findEvent(t, h, event.HumanInputRequired)
	if !ok {
		t.Fatal("observer should have received human_input_required")
	}
	if ev.Data["request_id"] == "" {
		t.Error("human_input_required should carry a request id")
	}

	accepted, err := b.Submit(InputAnswer{FieldValues: map[string]any{"amount": 100}})
	if !accepted || err != nil {
		t.Fatalf("Submit: accepted=%v err=%v", accepted, err)
	}

	<-done
	if reqErr != nil {
		t.Fatalf("RequestInput: %v", reqErr)
	}
	if answer.FieldValues["amount"] != 100 {
		t.Errorf("expected amount 100, got %v", answer.FieldValues["amount"])
	}

	// A second submit sees nothing awaiting.
	accepted, err = b.Submit(InputAnswer{FieldValues: map[string]any{"amount": 200}})
	if accepted {
		t.Fatal("second Submit must not be accepted")
	}
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}

	if _, ok := findEvent(t, h, event.HumanInputReceived); !ok {
		t.Error("observer should have received human_input_received")
	}
}

func TestRequestInputTimeout(t *testing.T) {
	b, _ := newTestBridge(t, "wf-2")

	start := time.Now()
	_, err := b.RequestInput(context.Background(), map[string]any{"field": "x"}, 100*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrInputTimeout) {
		t.Fatalf("expected ErrInputTimeout, got %v", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timed out too late: %v", elapsed)
	}
}

func TestSubmitWithNothingAwaiting(t *testing.T) {
	b, _ := newTestBridge(t, "wf-1")
	accepted, err := b.Submit(InputAnswer{FieldValues: map[string]any{"x": 1}})
	if accepted {
		t.Fatal("Submit must not be accepted with nothing awaiting")
	}
	if !errors.Is(err, ErrNoPendingRequest) {
		t.Errorf("expected ErrNoPendingRequest, got %v", err)
	}
}

func TestSubmitStaleRequestID(t *testing.T) {
	b, _ := newTestBridge(t, "wf-1")

	go func() {
		_, _ = b.RequestInput(context.Background(), map[string]any{"f": 1}, time.Second)
	}()
	waitForPending(t, b)

	accepted, err := b.Submit(InputAnswer{RequestID: "stale-id", FieldValues: map[string]any{"f": 2}})
	if accepted {
		t.Fatal("stale request id must not be accepted")
	}
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
	b.Cancel()
}

func TestLatestRequestWins(t *testing.T) {
	b, _ := newTestBridge(t, "wf-1")

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.RequestInput(context.Background(), map[string]any{"seq": i}, 5*time.Second)
		}(i)
		// Wait until this request is the awaiting one before issuing the next,
		// so each earlier request is deterministically superseded.
		waitForPendingSeq(t, b, i)
	}

	if _, err := b.Submit(InputAnswer{FieldValues: map[string]any{"ok": true}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	wg.Wait()

	superseded := 0
	fulfilled := 0
	for _, err := range errs {
		switch {
		case err == nil:
			fulfilled++
		case errors.Is(err, ErrSuperseded):
			superseded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if fulfilled != 1 {
		t.Errorf("exactly one request should be fulfilled, got %d", fulfilled)
	}
	if superseded != n-1 {
		t.Errorf("expected %d superseded, got %d", n-1, superseded)
	}
}

func TestConcurrentSubmitsOnlyOneWins(t *testing.T) {
	b, _ := newTestBridge(t, "wf-1")

	go func() {
		_, _ = b.RequestInput(context.Background(), map[string]any{"f": 1}, 5*time.Second)
	}()
	waitForPending(t, b)

	const submitters = 8
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := b.Submit(InputAnswer{FieldValues: map[string]any{"winner": i}})
			if ok {
				accepted.Add(1)
			} else if !errors.Is(err, ErrAlreadyResolved) && !errors.Is(err, ErrNoPendingRequest) {
				t.Errorf("losing Submit returned unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Fatalf("exactly one Submit should win, got %d", got)
	}
}

func TestCancelWakesWaiter(t *testing.T) {
	b, _ := newTestBridge(t, "wf-1")

	done := make(chan error, 1)
	go func() {
		_, err := b.RequestInput(context.Background(), map[string]any{"f": 1}, 5*time.Second)
		done <- err
	}()
	waitForPending(t, b)

	b.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInputCancelled) {
			t.Fatalf("expected ErrInputCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Cancel")
	}
}

func TestContextCancellation(t *testing.T) {
	b, _ := newTestBridge(t, "wf-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.RequestInput(ctx, map[string]any{"f": 1}, 5*time.Second)
		done <- err
	}()
	waitForPending(t, b)

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInputCancelled) {
			t.Fatalf("expected ErrInputCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by context cancellation")
	}
}

// waitForPendingSeq blocks until the awaiting request carries the given seq.
func waitForPendingSeq(t *testing.T, b *HumanInputBridge, seq int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := b.Pending(); ok && p.Requirements["seq"] == seq {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("request with seq %d never became the awaiting one", seq)
}

// waitForPending blocks until the bridge reports an awaiting request.
func waitForPending(t *testing.T, b *HumanInputBridge) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := b.Pending(); ok {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no pending request appeared")
}
