package store

import (
	"context"
	"fmt"
	"time"
)

// Contract is an uploaded contract document awaiting processing.
type Contract struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UserID     string    `json:"user_id"`
	Text       string    `json:"text"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// SaveContract inserts or updates a contract record.
func (s *Store) SaveContract(ctx context.Context, c Contract) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO contracts (id, name, user_id, contract_text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET name = $2, user_id = $3, contract_text = $4`,
		c.ID, c.Name, c.UserID, c.Text,
	)
	if err != nil {
		return fmt.Errorf("save contract: %w", err)
	}
	return nil
}

// GetContract fetches one contract by id.
func (s *Store) GetContract(ctx context.Context, id string) (Contract, error) {
	var c Contract
	err := s.db.QueryRow(ctx, `
		SELECT id, name, user_id, contract_text, uploaded_at
		FROM contracts WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.UserID, &c.Text, &c.UploadedAt)
	if err != nil {
		return Contract{}, fmt.Errorf("get contract %s: %w", id, err)
	}
	return c, nil
}

// ListContractsByUser returns a user's contracts, newest first.
func (s *Store) ListContractsByUser(ctx context.Context, userID string, limit int) ([]Contract, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, user_id, contract_text, uploaded_at
		FROM contracts
		WHERE user_id = $1
		ORDER BY uploaded_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		var c Contract
		if err := rows.Scan(&c.ID, &c.Name, &c.UserID, &c.Text, &c.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
