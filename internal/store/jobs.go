package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storyforge/internal/job"
)

const jobColumns = "id, topic, config_json, stage, revision, error_message, failed_stage, created_at, updated_at, published_at"

// CreateJob inserts a new job in the pending_script stage.
func (s *Store) CreateJob(ctx context.Context, topic, configJSON string) (*job.Job, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic must not be empty")
	}

	ts := nowTimestamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (topic, config_json, stage, revision, created_at, updated_at)
         VALUES (?, ?, ?, 1, ?, ?)`,
		topic,
		nullableString(configJSON),
		job.StagePendingScript,
		ts,
		ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	jb, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return jb, nil
}

// ListJobs returns jobs filtered by stage set (or all jobs when no stage is
// provided), ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, stages ...job.Stage) ([]*job.Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = stage
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE stage IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		jb, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, jb)
	}
	return jobs, rows.Err()
}

// NextForStages returns the oldest job sitting in any of the provided stages,
// or nil when none match.
func (s *Store) NextForStages(ctx context.Context, stages ...job.Stage) (*job.Job, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(stages))
	args := make([]any, len(stages))
	for i, stage := range stages {
		args[i] = stage
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE stage IN (`+placeholders+`) ORDER BY created_at, id LIMIT 1`,
		args...,
	)
	jb, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return jb, nil
}

// TransitionStage moves a job from one stage to another with a conditional
// update. When the job is no longer in the expected stage the update affects
// zero rows and ErrConcurrentModification is returned; callers decide whether
// the winner already reached the requested stage.
func (s *Store) TransitionStage(ctx context.Context, id int64, from, to job.Stage) error {
	ts := nowTimestamp()
	var publishedAt any
	if to == job.StagePublished {
		publishedAt = ts
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET stage = ?, updated_at = ?, published_at = COALESCE(?, published_at)
         WHERE id = ? AND stage = ?`,
		to, ts, publishedAt, id, from,
	)
	if err != nil {
		return fmt.Errorf("transition stage: %w", err)
	}
	return s.checkTransitionResult(ctx, res, id)
}

// RevertStage moves a job back to the producing stage of a rejected
// checkpoint and increments its revision counter.
func (s *Store) RevertStage(ctx context.Context, id int64, from, to job.Stage) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET stage = ?, revision = revision + 1, updated_at = ?
         WHERE id = ? AND stage = ?`,
		to, nowTimestamp(), id, from,
	)
	if err != nil {
		return fmt.Errorf("revert stage: %w", err)
	}
	return s.checkTransitionResult(ctx, res, id)
}

// MarkFailed moves a job from a producing stage into the failed state,
// recording the failure reason and the stage it failed from so a retry can
// resume there.
func (s *Store) MarkFailed(ctx context.Context, id int64, from job.Stage, message string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET stage = ?, error_message = ?, failed_stage = ?, updated_at = ?
         WHERE id = ? AND stage = ?`,
		job.StageFailed, strings.TrimSpace(message), from, nowTimestamp(), id, from,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.checkTransitionResult(ctx, res, id)
}

// RetryFailed moves a failed job back to the producing stage it failed from.
func (s *Store) RetryFailed(ctx context.Context, id int64) (*job.Job, error) {
	jb, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if jb.Stage != job.StageFailed {
		return nil, fmt.Errorf("%w: job %d is %s, not failed", job.ErrInvalidTransition, id, jb.Stage)
	}
	target := jb.FailedStage
	if target == "" {
		target = job.StagePendingScript
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET stage = ?, error_message = NULL, failed_stage = NULL, updated_at = ?
         WHERE id = ? AND stage = ?`,
		target, nowTimestamp(), id, job.StageFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("retry failed job: %w", err)
	}
	if err := s.checkTransitionResult(ctx, res, id); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// Stats returns a count of jobs grouped by stage.
func (s *Store) Stats(ctx context.Context) (map[job.Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM jobs GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[job.Stage]int)
	for rows.Next() {
		var stage job.Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[stage] = count
	}
	return stats, rows.Err()
}

func (s *Store) checkTransitionResult(ctx context.Context, res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	// Zero rows: either the job is gone or another caller moved it first.
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("job %d: %w", id, job.ErrConcurrentModification)
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*job.Job, error) {
	var (
		id           int64
		topic        string
		configJSON   sql.NullString
		stageStr     string
		revision     int
		errorMessage sql.NullString
		failedStage  sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		publishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&topic,
		&configJSON,
		&stageStr,
		&revision,
		&errorMessage,
		&failedStage,
		&createdRaw,
		&updatedRaw,
		&publishedRaw,
	); err != nil {
		return nil, err
	}

	jb := &job.Job{
		ID:           id,
		Topic:        topic,
		ConfigJSON:   configJSON.String,
		Stage:        job.Stage(stageStr),
		Revision:     revision,
		ErrorMessage: errorMessage.String,
		FailedStage:  job.Stage(failedStage.String),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		jb.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		jb.UpdatedAt = updated
	}
	if publishedRaw.Valid {
		if published, err := parseTimeString(publishedRaw.String); err == nil {
			jb.PublishedAt = &published
		}
	}
	return jb, nil
}
