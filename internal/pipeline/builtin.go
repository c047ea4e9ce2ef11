package pipeline

import (
	"context"
	"regexp"
	"strings"
)

// Required invoice fields. Validation raises a human-input request for any
// of these the extraction stage could not fill.
var requiredFields = []string{"amount", "currency", "billing_frequency", "counterparty"}

var amountRe = regexp.MustCompile(`(?i)(?:total|amount|fee)\D{0,20}([\d,]+(?:\.\d{2})?)`)

// BuiltinRunners returns heuristic stage runners used when no external agent
// services are wired. They cover the happy path and deliberately leave
// unresolved fields for human review rather than guessing.
func BuiltinRunners() map[string]StageRunner {
	return map[string]StageRunner{
		StageExtraction:        StageRunnerFunc(runExtraction),
		StageValidation:        StageRunnerFunc(runValidation),
		StageCorrection:        StageRunnerFunc(runCorrection),
		StageInvoiceGeneration: StageRunnerFunc(runInvoiceGeneration),
	}
}

func runExtraction(_ context.Context, in StageInput) (StageResult, error) {
	fields := map[string]any{"contract_name": in.ContractName}
	if m := amountRe.FindStringSubmatch(in.ContractText); m != nil {
		fields["amount"] = strings.ReplaceAll(m[1], ",", "")
	}
	lower := strings.ToLower(in.ContractText)
	for _, cur := range []string{"usd", "eur", "gbp"} {
		if strings.Contains(lower, cur) {
			fields["currency"] = strings.ToUpper(cur)
			break
		}
	}
	for _, freq := range []string{"monthly", "quarterly", "annually", "weekly"} {
		if strings.Contains(lower, freq) {
			fields["billing_frequency"] = freq
			break
		}
	}
	return StageResult{Fields: fields}, nil
}

func runValidation(_ context.Context, in StageInput) (StageResult, error) {
	missing := map[string]any{}
	results := map[string]any{}
	for _, f := range requiredFields {
		if v, ok := in.Fields[f]; ok && v != "" {
			results[f] = "ok"
			continue
		}
		results[f] = "missing"
		missing[f] = map[string]any{"reason": "not found in contract"}
	}
	return StageResult{
		ValidationResults: results,
		NeedsHumanInput:   len(missing) > 0,
		Requirements:      missing,
	}, nil
}

func runCorrection(_ context.Context, in StageInput) (StageResult, error) {
	fields := map[string]any{}
	// Normalize values supplied by extraction or human review.
	if cur, ok := in.Fields["currency"].(string); ok {
		fields["currency"] = strings.ToUpper(strings.TrimSpace(cur))
	}
	if freq, ok := in.Fields["billing_frequency"].(string); ok {
		fields["billing_frequency"] = strings.ToLower(strings.TrimSpace(freq))
	}
	return StageResult{Fields: fields}, nil
}

func runInvoiceGeneration(_ context.Context, in StageInput) (StageResult, error) {
	fields := map[string]any{
		"invoice_status": "draft",
		"line_items": []map[string]any{
			{
				"description": "Services under " + in.ContractName,
				"amount":      in.Fields["amount"],
				"currency":    in.Fields["currency"],
			},
		},
	}
	return StageResult{Fields: fields}, nil
}
