package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CostEntry is one successful paid provider call attributed to a job.
type CostEntry struct {
	ID        int64
	JobID     int64
	Provider  string
	ModelID   string
	AttemptID string
	TokensIn  int
	TokensOut int
	Cost      float64
	CreatedAt time.Time
}

// RecordCost appends an entry to the cost ledger.
func (s *Store) RecordCost(ctx context.Context, entry CostEntry) error {
	if entry.JobID == 0 {
		return errors.New("cost entry requires a job id")
	}
	if entry.Provider == "" {
		return errors.New("cost entry requires a provider")
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO cost_ledger (job_id, provider, model_id, attempt_id, tokens_in, tokens_out, cost, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.JobID,
		entry.Provider,
		nullableString(entry.ModelID),
		nullableString(entry.AttemptID),
		entry.TokensIn,
		entry.TokensOut,
		entry.Cost,
		nowTimestamp(),
	)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

// JobCost returns the total generation spend attributed to a job.
func (s *Store) JobCost(ctx context.Context, jobID int64) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM cost_ledger WHERE job_id = ?`,
		jobID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("job cost: %w", err)
	}
	return total, nil
}

// JobCostByProvider breaks a job's spend down per provider.
func (s *Store) JobCostByProvider(ctx context.Context, jobID int64) (map[string]float64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT provider, COALESCE(SUM(cost), 0) FROM cost_ledger WHERE job_id = ? GROUP BY provider`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("job cost by provider: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var provider string
		var total float64
		if err := rows.Scan(&provider, &total); err != nil {
			return nil, err
		}
		totals[provider] = total
	}
	return totals, rows.Err()
}
