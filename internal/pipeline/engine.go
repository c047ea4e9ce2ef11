package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/contractflow/internal/coordination"
	"github.com/ledgerline/contractflow/internal/workflow"
	"go.uber.org/zap"
)

// InvoiceStore persists the generated invoice record at the end of a run.
type InvoiceStore interface {
	SaveInvoice(ctx context.Context, workflowID, contractName string, fields map[string]any) error
}

// ReviewNotifier alerts human reviewers that a workflow is waiting on input.
type ReviewNotifier interface {
	InputRequired(ctx context.Context, snap workflow.Snapshot, requirements map[string]any) error
}

// StartRequest describes a new contract processing run.
type StartRequest struct {
	ContractName string `json:"contract_name"`
	ContractText string `json:"contract_text"`
	UserID       string `json:"user_id"`
}

// Engine drives contract workflows through the stage sequence, reporting
// every state change through the workflow's coordinator and registry.
type Engine struct {
	set       *coordination.CoordinatorSet
	registry  workflow.Registry
	runners   map[string]StageRunner
	store     InvoiceStore
	notifiers []ReviewNotifier

	reviewTimeout time.Duration
	stageRetries  int
	logger        *zap.Logger
}

// NewEngine creates a pipeline engine. store may be nil when invoice
// persistence is disabled; notifiers may be empty.
func NewEngine(set *coordination.CoordinatorSet, registry workflow.Registry, runners map[string]StageRunner,
	store InvoiceStore, notifiers []ReviewNotifier, reviewTimeout time.Duration, stageRetries int, logger *zap.Logger) *Engine {
	if reviewTimeout <= 0 {
		reviewTimeout = 5 * time.Minute
	}
	if stageRetries <= 0 {
		stageRetries = 3
	}
	return &Engine{
		set:           set,
		registry:      registry,
		runners:       runners,
		store:         store,
		notifiers:     notifiers,
		reviewTimeout: reviewTimeout,
		stageRetries:  stageRetries,
		logger:        logger,
	}
}

// stageOrder is the fixed contract-to-invoice sequence.
var stageOrder = []string{StageExtraction, StageValidation, StageCorrection, StageInvoiceGeneration}

// Start registers a new workflow and runs its pipeline in the background.
// Returns the generated workflow id immediately.
func (e *Engine) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.ContractName == "" {
		return "", fmt.Errorf("contract name is required")
	}
	workflowID := uuid.New().String()

	e.registry.Put(workflow.Snapshot{
		WorkflowID:       workflowID,
		ProcessingStatus: workflow.StatusPending,
		ContractName:     req.ContractName,
		UserID:           req.UserID,
	})

	// The run outlives the caller's request; only values carry over.
	go e.run(context.WithoutCancel(ctx), workflowID, req)

	e.logger.Info("workflow started",
		zap.String("workflow", workflowID),
		zap.String("contract", req.ContractName))
	return workflowID, nil
}

// Cancel tears down a running workflow: the coordinator is released (waking
// any suspended RequestInput with a cancellation) and the snapshot is marked
// cancelled.
func (e *Engine) Cancel(workflowID string) {
	snap, ok := e.registry.Get(workflowID)
	if !ok {
		return
	}
	snap.ProcessingStatus = workflow.StatusCancelled
	e.registry.Put(snap)
	e.set.Release(workflowID)
}

func (e *Engine) run(ctx context.Context, workflowID string, req StartRequest) {
	coord := e.set.Get(workflowID)
	in := StageInput{
		WorkflowID:   workflowID,
		ContractName: req.ContractName,
		ContractText: req.ContractText,
		Fields:       map[string]any{},
	}

	prev := ""
	for _, stage := range stageOrder {
		coord.NotifyTransition(prev, stage)
		e.updateStatus(workflowID, workflow.StatusProcessing, stage, nil, nil)

		result, err := e.runStage(ctx, stage, in)
		if err != nil {
			e.fail(coord, workflowID, stage, err)
			return
		}
		for k, v := range result.Fields {
			in.Fields[k] = v
		}

		if result.NeedsHumanInput {
			answer, err := e.solicitInput(ctx, coord, workflowID, stage, result)
			if err != nil {
				e.fail(coord, workflowID, stage, err)
				return
			}
			for k, v := range answer.FieldValues {
				in.Fields[k] = v
			}
		}

		if len(result.ValidationResults) > 0 {
			e.updateStatus(workflowID, workflow.StatusProcessing, stage, result.ValidationResults, nil)
		}
		prev = stage
	}

	if e.store != nil {
		if err := e.store.SaveInvoice(ctx, workflowID, req.ContractName, in.Fields); err != nil {
			e.fail(coord, workflowID, StageInvoiceGeneration, fmt.Errorf("save invoice: %w", err))
			return
		}
	}

	e.updateStatus(workflowID, workflow.StatusCompleted, "", nil, nil)
	coord.NotifyCompleted(map[string]any{
		"contract_name": req.ContractName,
		"fields":        in.Fields,
	})
	e.logger.Info("workflow completed", zap.String("workflow", workflowID))
	e.set.Release(workflowID)
}

// runStage executes one stage with bounded retries.
func (e *Engine) runStage(ctx context.Context, stage string, in StageInput) (StageResult, error) {
	runner, ok := e.runners[stage]
	if !ok {
		return StageResult{}, fmt.Errorf("no runner for stage %s", stage)
	}

	var lastErr error
	for attempt := 1; attempt <= e.stageRetries; attempt++ {
		result, err := runner.Run(ctx, in)
		if err == nil {
			return result, nil
		}
		lastErr = err
		e.logger.Warn("stage attempt failed",
			zap.String("workflow", in.WorkflowID),
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return StageResult{}, ctx.Err()
		}
	}
	return StageResult{}, fmt.Errorf("stage %s failed after %d attempts: %w", stage, e.stageRetries, lastErr)
}

// solicitInput pauses the pipeline on a human-input request. A timeout falls
// back to synthesized defaults for recognized fields before giving up.
func (e *Engine) solicitInput(ctx context.Context, coord *coordination.WorkflowCoordinator,
	workflowID, stage string, result StageResult) (coordination.InputAnswer, error) {

	e.updateStatus(workflowID, workflow.StatusAwaitingHumanInput, stage,
		result.ValidationResults, result.Requirements)

	snap, _ := e.registry.Get(workflowID)
	for _, n := range e.notifiers {
		if err := n.InputRequired(ctx, snap, result.Requirements); err != nil {
			e.logger.Warn("reviewer notification failed",
				zap.String("workflow", workflowID), zap.Error(err))
		}
	}

	answer, err := coord.RequestInput(ctx, result.Requirements, e.reviewTimeout)
	if err == nil {
		e.updateStatus(workflowID, workflow.StatusProcessing, stage, result.ValidationResults, nil)
		return answer, nil
	}

	if errors.Is(err, coordination.ErrInputTimeout) {
		defaults := make(map[string]any)
		for field := range result.Requirements {
			if v, ok := coordination.DefaultFieldValue(field); ok {
				defaults[field] = v
			}
		}
		if len(defaults) == len(result.Requirements) {
			e.logger.Info("input request timed out, applying defaults",
				zap.String("workflow", workflowID),
				zap.String("stage", stage))
			e.updateStatus(workflowID, workflow.StatusProcessing, stage, result.ValidationResults, nil)
			return coordination.InputAnswer{FieldValues: defaults, UserNotes: "defaults applied after review timeout"}, nil
		}
	}
	return coordination.InputAnswer{}, err
}

func (e *Engine) fail(coord *coordination.WorkflowCoordinator, workflowID, stage string, err error) {
	status := workflow.StatusFailed
	if errors.Is(err, coordination.ErrInputCancelled) {
		status = workflow.StatusCancelled
	}
	e.updateStatus(workflowID, status, stage, nil, nil)
	coord.NotifyFailed(err, map[string]any{"stage": stage})
	e.logger.Error("workflow failed",
		zap.String("workflow", workflowID),
		zap.String("stage", stage),
		zap.Error(err))
	e.set.Release(workflowID)
}

// updateStatus rewrites the registry snapshot preserving identity fields.
func (e *Engine) updateStatus(workflowID string, status workflow.Status, agent string,
	validationResults, inputRequest map[string]any) {

	snap, ok := e.registry.Get(workflowID)
	if !ok {
		snap = workflow.Snapshot{WorkflowID: workflowID}
	}
	snap.ProcessingStatus = status
	snap.CurrentAgent = agent
	if validationResults != nil {
		snap.ValidationResults = validationResults
	}
	snap.HumanInputRequest = inputRequest
	e.registry.Put(snap)
}
