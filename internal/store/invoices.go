package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Invoice is the generated output of one completed workflow run.
type Invoice struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	ContractName string         `json:"contract_name"`
	Fields       map[string]any `json:"fields"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SaveInvoice persists the invoice produced by a workflow. Implements the
// pipeline engine's InvoiceStore collaborator.
func (s *Store) SaveInvoice(ctx context.Context, workflowID, contractName string, fields map[string]any) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal invoice fields: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO invoices (id, workflow_id, contract_name, fields)
		VALUES (gen_random_uuid(), $1, $2, $3)
		ON CONFLICT (workflow_id)
		DO UPDATE SET contract_name = $2, fields = $3`,
		workflowID, contractName, fieldsJSON,
	)
	if err != nil {
		return fmt.Errorf("save invoice: %w", err)
	}
	return nil
}

// GetInvoiceByWorkflow fetches the invoice generated for a workflow run.
func (s *Store) GetInvoiceByWorkflow(ctx context.Context, workflowID string) (Invoice, error) {
	var inv Invoice
	var fieldsJSON []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, workflow_id, contract_name, fields, created_at
		FROM invoices WHERE workflow_id = $1`, workflowID,
	).Scan(&inv.ID, &inv.WorkflowID, &inv.ContractName, &fieldsJSON, &inv.CreatedAt)
	if err != nil {
		return Invoice{}, fmt.Errorf("get invoice for %s: %w", workflowID, err)
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &inv.Fields); err != nil {
			return Invoice{}, fmt.Errorf("decode invoice fields: %w", err)
		}
	}
	return inv, nil
}
