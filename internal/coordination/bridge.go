package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/contractflow/internal/event"
	"go.uber.org/zap"
)

// InputAnswer is the payload an observer supplies to resolve a pending
// human-input request.
type InputAnswer struct {
	RequestID   string         `json:"request_id,omitempty"`
	FieldValues map[string]any `json:"field_values"`
	UserNotes   string         `json:"user_notes,omitempty"`
	SubmittedBy string         `json:"submitted_by,omitempty"`
}

// PendingSnapshot describes the currently awaiting request, if any.
type PendingSnapshot struct {
	RequestID    string         `json:"request_id"`
	Requirements map[string]any `json:"requirements"`
	Deadline     time.Time      `json:"deadline"`
}

type inputOutcome struct {
	answer InputAnswer
	err    error
}

// pendingRequest is the single-fulfillment result slot for one RequestInput
// call. It settles exactly once; result is buffered so settling never blocks.
type pendingRequest struct {
	id           string
	requirements map[string]any
	deadline     time.Time
	result       chan inputOutcome
	settled      bool
}

// HumanInputBridge is the rendezvous between one suspended pipeline call and
// one eventual external answer for a single workflow. At most one request is
// awaiting at any instant; a newer request supersedes the old one.
type HumanInputBridge struct {
	workflowID string
	channel    *EventChannel

	mu            sync.Mutex
	pending       *pendingRequest
	lastRequestID string
	logger        *zap.Logger
}

// NewHumanInputBridge creates a bridge publishing through the given channel.
func NewHumanInputBridge(workflowID string, channel *EventChannel, logger *zap.Logger) *HumanInputBridge {
	return &HumanInputBridge{
		workflowID: workflowID,
		channel:    channel,
		logger:     logger,
	}
}

// RequestInput suspends the caller until an observer answers, the timeout
// elapses, or the request is cancelled. An already awaiting request is
// superseded first: its waiter wakes with ErrSuperseded. The requirements map
// is broadcast to observers in a human_input_required event together with a
// fresh request id and the timeout.
func (b *HumanInputBridge) RequestInput(ctx context.Context, requirements map[string]any, timeout time.Duration) (InputAnswer, error) {
	req := &pendingRequest{
		id:           uuid.New().String(),
		requirements: requirements,
		deadline:     time.Now().Add(timeout),
		result:       make(chan inputOutcome, 1),
	}

	b.mu.Lock()
	if b.pending != nil {
		b.settleLocked(b.pending, inputOutcome{err: ErrSuperseded})
		b.logger.Info("superseded outstanding input request",
			zap.String("workflow", b.workflowID))
	}
	b.pending = req
	b.lastRequestID = req.id
	b.mu.Unlock()

	b.channel.Publish(event.New(event.HumanInputRequired, b.workflowID, map[string]any{
		"request_id":      req.id,
		"requirements":    requirements,
		"timeout_seconds": timeout.Seconds(),
	}))

	b.logger.Info("awaiting human input",
		zap.String("workflow", b.workflowID),
		zap.String("request", req.id),
		zap.Duration("timeout", timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-req.result:
		return out.answer, out.err
	case <-timer.C:
		b.mu.Lock()
		settled := b.settleLocked(req, inputOutcome{err: ErrInputTimeout})
		b.mu.Unlock()
		if !settled {
			// A submit won the race against the timer; take its outcome.
			out := <-req.result
			return out.answer, out.err
		}
		return InputAnswer{}, ErrInputTimeout
	case <-ctx.Done():
		b.mu.Lock()
		settled := b.settleLocked(req, inputOutcome{err: ErrInputCancelled})
		b.mu.Unlock()
		if !settled {
			out := <-req.result
			return out.answer, out.err
		}
		return InputAnswer{}, ErrInputCancelled
	}
}

// Submit resolves the awaiting request with the given answer. It returns
// false with ErrNoPendingRequest when nothing is awaiting, and false with
// ErrAlreadyResolved when the request was already answered or the answer
// targets a superseded request id. Both are normal, reportable outcomes.
func (b *HumanInputBridge) Submit(answer InputAnswer) (bool, error) {
	b.mu.Lock()
	req := b.pending
	if req == nil {
		last := b.lastRequestID
		b.mu.Unlock()
		if last != "" && (answer.RequestID == "" || answer.RequestID == last) {
			return false, ErrAlreadyResolved
		}
		return false, ErrNoPendingRequest
	}
	if answer.RequestID != "" && answer.RequestID != req.id {
		b.mu.Unlock()
		return false, ErrAlreadyResolved
	}
	answer.RequestID = req.id
	b.settleLocked(req, inputOutcome{answer: answer})
	b.mu.Unlock()

	b.channel.Publish(event.New(event.HumanInputReceived, b.workflowID, map[string]any{
		"request_id":   answer.RequestID,
		"field_values": answer.FieldValues,
		"user_notes":   answer.UserNotes,
	}))

	b.logger.Info("human input received",
		zap.String("workflow", b.workflowID),
		zap.String("request", answer.RequestID))
	return true, nil
}

// Cancel settles any awaiting request as cancelled. Used on workflow teardown
// and when the last observer disconnects, since no one is left to answer.
func (b *HumanInputBridge) Cancel() {
	b.mu.Lock()
	req := b.pending
	if req != nil {
		b.settleLocked(req, inputOutcome{err: ErrInputCancelled})
	}
	b.mu.Unlock()

	if req != nil {
		b.logger.Info("cancelled pending input request",
			zap.String("workflow", b.workflowID),
			zap.String("request", req.id))
	}
}

// Pending reports the awaiting request, if one exists.
func (b *HumanInputBridge) Pending() (PendingSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return PendingSnapshot{}, false
	}
	return PendingSnapshot{
		RequestID:    b.pending.id,
		Requirements: b.pending.requirements,
		Deadline:     b.pending.deadline,
	}, true
}

// settleLocked transitions req out of awaiting exactly once, returning false
// when req already settled. Caller holds b.mu.
func (b *HumanInputBridge) settleLocked(req *pendingRequest, out inputOutcome) bool {
	if req.settled {
		return false
	}
	req.settled = true
	if b.pending == req {
		b.pending = nil
	}
	req.result <- out
	return true
}
