package pipeline

import "context"

// Stage names in pipeline order. Each maps to the agent responsible for it.
const (
	StageExtraction        = "extraction"
	StageValidation        = "validation"
	StageCorrection        = "correction"
	StageInvoiceGeneration = "invoice_generation"
)

// StageInput carries the accumulated workflow state into a stage.
type StageInput struct {
	WorkflowID   string
	ContractName string
	ContractText string
	Fields       map[string]any
}

// StageResult is the outcome of one stage run. When NeedsHumanInput is set,
// the engine pauses the pipeline and solicits the listed requirements from an
// observer before moving on.
type StageResult struct {
	Fields            map[string]any
	ValidationResults map[string]any
	NeedsHumanInput   bool
	Requirements      map[string]any
}

// StageRunner is the opaque per-stage capability, typically an LLM-backed
// agent living behind its own service boundary.
type StageRunner interface {
	Run(ctx context.Context, in StageInput) (StageResult, error)
}

// StageRunnerFunc adapts a function to the StageRunner interface.
type StageRunnerFunc func(ctx context.Context, in StageInput) (StageResult, error)

func (f StageRunnerFunc) Run(ctx context.Context, in StageInput) (StageResult, error) {
	return f(ctx, in)
}
