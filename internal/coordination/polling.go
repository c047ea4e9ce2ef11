package coordination

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ledgerline/contractflow/internal/workflow"
	"go.uber.org/zap"
)

const defaultPollInterval = 5 * time.Second

// PollingBridgeAdapter gives clients that cannot hold a persistent connection
// the same capability as streaming observers: read status, submit an answer,
// and wait for a pending request to resolve, all over request/response calls.
type PollingBridgeAdapter struct {
	set      *CoordinatorSet
	registry workflow.Registry
	interval time.Duration
	logger   *zap.Logger
}

// NewPollingBridgeAdapter creates an adapter polling at the given interval.
// A non-positive interval falls back to 5 seconds.
func NewPollingBridgeAdapter(set *CoordinatorSet, registry workflow.Registry, interval time.Duration, logger *zap.Logger) *PollingBridgeAdapter {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PollingBridgeAdapter{
		set:      set,
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// GetStatus reads the current workflow snapshot.
func (a *PollingBridgeAdapter) GetStatus(workflowID string) (workflow.Snapshot, error) {
	snap, ok := a.registry.Get(workflowID)
	if !ok {
		return workflow.Snapshot{}, ErrWorkflowNotFound
	}
	return snap, nil
}

// GetPendingRequest returns the awaiting input request for a workflow, if any.
func (a *PollingBridgeAdapter) GetPendingRequest(workflowID string) (PendingSnapshot, error) {
	coord, ok := a.set.Lookup(workflowID)
	if !ok {
		return PendingSnapshot{}, ErrNoPendingRequest
	}
	pending, ok := coord.Bridge().Pending()
	if !ok {
		return PendingSnapshot{}, ErrNoPendingRequest
	}
	return pending, nil
}

// SubmitInput resolves the pending request with the given field values.
// A second submission for an already resolved request returns false with
// ErrAlreadyResolved, never a silent success.
func (a *PollingBridgeAdapter) SubmitInput(workflowID string, fieldValues map[string]any, notes string) (bool, error) {
	coord, ok := a.set.Lookup(workflowID)
	if !ok {
		return false, ErrNoPendingRequest
	}
	return coord.Bridge().Submit(InputAnswer{
		FieldValues: fieldValues,
		UserNotes:   notes,
	})
}

// WaitForResolution polls the workflow status until it leaves the awaiting
// human input state or the timeout elapses. Returns true when resolved within
// the timeout; a timeout is reported as false, never as an error.
func (a *PollingBridgeAdapter) WaitForResolution(ctx context.Context, workflowID string, timeout time.Duration) bool {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		snap, ok := a.registry.Get(workflowID)
		if ok && snap.ProcessingStatus != workflow.StatusAwaitingHumanInput {
			return true
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// AutoResolve synthesizes default values for the pending request's known
// field name patterns and submits them. Best-effort remediation for requests
// close to their deadline with nobody answering; fields without a recognized
// pattern are left out.
func (a *PollingBridgeAdapter) AutoResolve(workflowID string) (bool, error) {
	pending, err := a.GetPendingRequest(workflowID)
	if err != nil {
		return false, err
	}

	defaults := make(map[string]any)
	for field := range pending.Requirements {
		if v, ok := DefaultFieldValue(field); ok {
			defaults[field] = v
		}
	}
	if len(defaults) == 0 {
		return false, fmt.Errorf("no defaults for requested fields: %v", fieldNames(pending.Requirements))
	}

	a.logger.Info("auto-resolving pending input with defaults",
		zap.String("workflow", workflowID),
		zap.String("request", pending.RequestID),
		zap.Int("fields", len(defaults)))

	coord, ok := a.set.Lookup(workflowID)
	if !ok {
		return false, ErrNoPendingRequest
	}
	return coord.Bridge().Submit(InputAnswer{
		RequestID:   pending.RequestID,
		FieldValues: defaults,
		UserNotes:   "auto-resolved with default values",
	})
}

func fieldNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DefaultFieldValue maps well-known field name patterns to safe defaults.
func DefaultFieldValue(field string) (any, bool) {
	f := strings.ToLower(field)
	switch {
	case strings.Contains(f, "currency"):
		return "USD", true
	case strings.Contains(f, "frequency"):
		return "monthly", true
	case strings.Contains(f, "date"):
		return time.Now().UTC().Format("2006-01-02"), true
	case strings.Contains(f, "quantity") || strings.Contains(f, "count"):
		return 1, true
	default:
		return nil, false
	}
}
