package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storyforge/internal/job"
)

const approvalColumns = "id, job_id, checkpoint, status, notes, requested_at, responded_at"

// CreatePendingApproval opens the single pending approval gating a checkpoint.
// A second pending approval for the same job is an invariant violation; the
// partial unique index backs the defensive check.
func (s *Store) CreatePendingApproval(ctx context.Context, jobID int64, checkpoint job.Checkpoint) (*job.Approval, error) {
	existing, err := s.PendingApproval(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("job %d already has a pending %s approval: %w",
			jobID, existing.Checkpoint, job.ErrInvariantViolation)
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO approvals (job_id, checkpoint, status, requested_at)
         VALUES (?, ?, ?, ?)`,
		jobID, checkpoint, job.ApprovalPending, nowTimestamp(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("job %d pending approval already exists: %w", jobID, job.ErrInvariantViolation)
		}
		return nil, fmt.Errorf("insert approval: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.getApproval(ctx, id)
}

// PendingApproval returns the job's pending approval, or nil when none exists.
func (s *Store) PendingApproval(ctx context.Context, jobID int64) (*job.Approval, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE job_id = ? AND status = ?`,
		jobID, job.ApprovalPending,
	)
	approval, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending approval: %w", err)
	}
	return approval, nil
}

// ResolveApproval records the decision for a pending approval exactly once.
func (s *Store) ResolveApproval(ctx context.Context, approvalID int64, approved bool, notes string) (*job.Approval, error) {
	status := job.ApprovalRejected
	if approved {
		status = job.ApprovalApproved
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE approvals
         SET status = ?, notes = ?, responded_at = ?
         WHERE id = ? AND status = ?`,
		status, nullableString(strings.TrimSpace(notes)), nowTimestamp(), approvalID, job.ApprovalPending,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("approval %d: %w", approvalID, job.ErrNoPendingApproval)
	}
	return s.getApproval(ctx, approvalID)
}

// ApprovalsForJob returns all approvals recorded for a job, oldest first.
func (s *Store) ApprovalsForJob(ctx context.Context, jobID int64) ([]*job.Approval, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE job_id = ? ORDER BY requested_at, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("approvals for job: %w", err)
	}
	defer rows.Close()

	var approvals []*job.Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, approval)
	}
	return approvals, rows.Err()
}

func (s *Store) getApproval(ctx context.Context, id int64) (*job.Approval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)
	approval, err := scanApproval(row)
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return approval, nil
}

func scanApproval(scanner interface{ Scan(dest ...any) error }) (*job.Approval, error) {
	var (
		id           int64
		jobID        int64
		checkpoint   string
		status       string
		notes        sql.NullString
		requestedRaw sql.NullString
		respondedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &jobID, &checkpoint, &status, &notes, &requestedRaw, &respondedRaw); err != nil {
		return nil, err
	}

	approval := &job.Approval{
		ID:         id,
		JobID:      jobID,
		Checkpoint: job.Checkpoint(checkpoint),
		Status:     job.ApprovalStatus(status),
		Notes:      notes.String,
	}
	if requested, err := parseTimeString(requestedRaw.String); err == nil {
		approval.RequestedAt = requested
	}
	if respondedRaw.Valid {
		if responded, err := parseTimeString(respondedRaw.String); err == nil {
			approval.RespondedAt = &responded
		}
	}
	return approval, nil
}
