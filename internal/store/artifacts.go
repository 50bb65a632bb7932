package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storyforge/internal/job"
)

const artifactColumns = "id, job_id, kind, revision, payload, model_id, provider, created_at"

// AddArtifact records a generated output for a job. One row per revision is
// retained so rejected work stays auditable.
func (s *Store) AddArtifact(ctx context.Context, artifact *job.Artifact) (*job.Artifact, error) {
	if artifact == nil {
		return nil, errors.New("artifact is nil")
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO artifacts (job_id, kind, revision, payload, model_id, provider, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		artifact.JobID,
		artifact.Kind,
		artifact.Revision,
		artifact.Payload,
		nullableString(artifact.ModelID),
		nullableString(artifact.Provider),
		nowTimestamp(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	stored, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return stored, nil
}

// CurrentArtifact returns the newest revision of a kind for a job, or nil
// when none has been generated yet.
func (s *Store) CurrentArtifact(ctx context.Context, jobID int64, kind job.ArtifactKind) (*job.Artifact, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+artifactColumns+` FROM artifacts
         WHERE job_id = ? AND kind = ? ORDER BY revision DESC, id DESC LIMIT 1`,
		jobID, kind,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current artifact: %w", err)
	}
	return artifact, nil
}

// ArtifactsForJob returns every generated output for a job, oldest first.
func (s *Store) ArtifactsForJob(ctx context.Context, jobID int64) ([]*job.Artifact, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE job_id = ? ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("artifacts for job: %w", err)
	}
	defer rows.Close()

	var artifacts []*job.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*job.Artifact, error) {
	var (
		id         int64
		jobID      int64
		kind       string
		revision   int
		payload    string
		modelID    sql.NullString
		provider   sql.NullString
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&id, &jobID, &kind, &revision, &payload, &modelID, &provider, &createdRaw); err != nil {
		return nil, err
	}
	artifact := &job.Artifact{
		ID:       id,
		JobID:    jobID,
		Kind:     job.ArtifactKind(kind),
		Revision: revision,
		Payload:  payload,
		ModelID:  modelID.String,
		Provider: provider.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		artifact.CreatedAt = created
	}
	return artifact, nil
}
