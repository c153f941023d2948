package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexikon-ai/lexikon/internal/apperr"
	"github.com/lexikon-ai/lexikon/internal/procrule"
)

// CreateProcessRule inserts the rule chosen for an upload batch. Process
// rules are immutable: there is no update method.
func (s *Store) CreateProcessRule(ctx context.Context, pr *ProcessRule) error {
	var raw []byte
	if pr.Rule != nil {
		var err error
		raw, err = json.Marshal(pr.Rule)
		if err != nil {
			return fmt.Errorf("encoding process rule: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO process_rules (id, account_id, dataset_id, mode, rule)
		VALUES ($1, $2, $3, $4, $5)`,
		pr.ID, pr.AccountID, pr.DatasetID, pr.Mode, raw,
	)
	if err != nil {
		return fmt.Errorf("inserting process rule %s: %w", pr.ID, err)
	}
	return nil
}

// GetProcessRule returns the process rule by id, or apperr.ErrNotFound.
func (s *Store) GetProcessRule(ctx context.Context, id uuid.UUID) (*ProcessRule, error) {
	var pr ProcessRule
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, dataset_id, mode, rule, created_at
		FROM process_rules WHERE id = $1`, id).
		Scan(&pr.ID, &pr.AccountID, &pr.DatasetID, &pr.Mode, &raw, &pr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: process rule %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying process rule %s: %w", id, err)
	}
	if len(raw) > 0 {
		var rule procrule.Rule
		if err := json.Unmarshal(raw, &rule); err != nil {
			return nil, fmt.Errorf("decoding process rule %s: %w", id, err)
		}
		pr.Rule = &rule
	}
	return &pr, nil
}
