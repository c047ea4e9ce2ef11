package pipeline

import (
	"context"
	"testing"
)

func TestExtractionParsesContractText(t *testing.T) {
	result, err := runExtraction(context.Background(), StageInput{
		ContractName: "acme-msa.pdf",
		ContractText: "Total fee: $12,000.00 payable monthly in USD to Acme Corp.",
	})
	if err != nil {
		t.Fatalf("runExtraction: %v", err)
	}
	if result.Fields["amount"] != "12000.00" {
		t.Errorf("amount: got %v", result.Fields["amount"])
	}
	if result.Fields["currency"] != "USD" {
		t.Errorf("currency: got %v", result.Fields["currency"])
	}
	if result.Fields["billing_frequency"] != "monthly" {
		t.Errorf("billing_frequency: got %v", result.Fields["billing_frequency"])
	}
}

func TestExtractionEmptyText(t *testing.T) {
	result, err := runExtraction(context.Background(), StageInput{ContractName: "empty.pdf"})
	if err != nil {
		t.Fatalf("runExtraction: %v", err)
	}
	if _, ok := result.Fields["amount"]; ok {
		t.Error("no amount should be extracted from empty text")
	}
	if result.Fields["contract_name"] != "empty.pdf" {
		t.Error("contract name should always be carried")
	}
}

func TestValidationFlagsMissingFields(t *testing.T) {
	result, err := runValidation(context.Background(), StageInput{
		Fields: map[string]any{"amount": "100", "currency": "USD"},
	})
	if err != nil {
		t.Fatalf("runValidation: %v", err)
	}
	if !result.NeedsHumanInput {
		t.Fatal("missing fields should need human input")
	}
	if _, ok := result.Requirements["billing_frequency"]; !ok {
		t.Errorf("billing_frequency should be requested, got %v", result.Requirements)
	}
	if _, ok := result.Requirements["counterparty"]; !ok {
		t.Errorf("counterparty should be requested, got %v", result.Requirements)
	}
	if _, ok := result.Requirements["amount"]; ok {
		t.Error("present fields must not be requested")
	}
	if result.ValidationResults["amount"] != "ok" || result.ValidationResults["counterparty"] != "missing" {
		t.Errorf("validation results wrong: %v", result.ValidationResults)
	}
}

func TestValidationAllPresent(t *testing.T) {
	result, err := runValidation(context.Background(), StageInput{
		Fields: map[string]any{
			"amount":            "100",
			"currency":          "USD",
			"billing_frequency": "monthly",
			"counterparty":      "Acme Corp",
		},
	})
	if err != nil {
		t.Fatalf("runValidation: %v", err)
	}
	if result.NeedsHumanInput {
		t.Fatalf("complete fields should not need input, requirements: %v", result.Requirements)
	}
}

func TestCorrectionNormalizes(t *testing.T) {
	result, err := runCorrection(context.Background(), StageInput{
		Fields: map[string]any{
			"currency":          " usd ",
			"billing_frequency": "Monthly",
		},
	})
	if err != nil {
		t.Fatalf("runCorrection: %v", err)
	}
	if result.Fields["currency"] != "USD" {
		t.Errorf("currency not normalized: %v", result.Fields["currency"])
	}
	if result.Fields["billing_frequency"] != "monthly" {
		t.Errorf("frequency not normalized: %v", result.Fields["billing_frequency"])
	}
}

func TestInvoiceGenerationBuildsDraft(t *testing.T) {
	result, err := runInvoiceGeneration(context.Background(), StageInput{
		ContractName: "acme-msa.pdf",
		Fields:       map[string]any{"amount": "100", "currency": "USD"},
	})
	if err != nil {
		t.Fatalf("runInvoiceGeneration: %v", err)
	}
	if result.Fields["invoice_status"] != "draft" {
		t.Errorf("invoice status: got %v", result.Fields["invoice_status"])
	}
	items, ok := result.Fields["line_items"].([]map[string]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one line item, got %v", result.Fields["line_items"])
	}
	if items[0]["amount"] != "100" || items[0]["currency"] != "USD" {
		t.Errorf("line item fields wrong: %v", items[0])
	}
}
