package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

// Implementing the db interface for evaluations, analyses, flags and recordings

const evaluationColumns = `id, assignment_id, session_id, graded_session_id, score, feedback, raw_output, used_retrieval, model, created_at`

func scanEvaluation(s scanner) (*models.Evaluation, error) {
	var e models.Evaluation
	if err := s.Scan(&e.ID, &e.AssignmentID, &e.SessionID, &e.GradedSessionID, &e.Score, &e.Feedback,
		&e.RawOutput, &e.UsedRetrieval, &e.Model, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEvaluation persists the evaluation, its flags and the assignment
// completion together. A second evaluation for the same parent fails the
// unique keys and surfaces as ErrUniqueViolation; a row with both or neither
// parent fails the exclusive arc CHECK.
func (c *DatabaseClient) CreateEvaluation(ctx context.Context, eval *models.Evaluation, flags []models.SessionFlag, completeAssignmentID *string) error {
	if eval == nil {
		return errors.New("nil evaluation")
	}
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}
	return c.inTx(ctx, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO evaluations
				(id, assignment_id, session_id, graded_session_id, score, feedback, raw_output, used_retrieval, model, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		if _, err := tx.ExecContext(ctx, q, eval.ID, eval.AssignmentID, eval.SessionID, eval.GradedSessionID,
			eval.Score, eval.Feedback, eval.RawOutput, eval.UsedRetrieval, eval.Model, eval.CreatedAt); err != nil {
			return err
		}

		for i := range flags {
			flags[i].EvaluationID = &eval.ID
			if err := insertFlag(ctx, tx, &flags[i]); err != nil {
				return err
			}
		}

		if completeAssignmentID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE assignments SET status = $1, updated_at = $2 WHERE id = $3`,
				models.AssignmentCompleted, eval.CreatedAt, *completeAssignmentID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *DatabaseClient) GetEvaluationByTarget(ctx context.Context, target models.EvaluationTarget) (*models.Evaluation, error) {
	assignmentID, sessionID := models.TargetColumns(target)
	var row *sql.Row
	switch {
	case assignmentID != nil:
		row = c.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE assignment_id = $1`, *assignmentID)
	case sessionID != nil:
		row = c.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE session_id = $1`, *sessionID)
	default:
		return nil, errors.New("evaluation target is empty")
	}
	e, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (c *DatabaseClient) GetEvaluationByID(ctx context.Context, id string) (*models.Evaluation, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = $1`, id)
	e, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (c *DatabaseClient) HasAnalysis(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_analyses WHERE session_id = $1`, sessionID).Scan(&n)
	return n > 0, err
}

// RecordAnalysis claims the session's analysis slot and writes the analysis
// flags in one transaction. A second claim fails with ErrUniqueViolation.
func (c *DatabaseClient) RecordAnalysis(ctx context.Context, sessionID, model string, flags []models.SessionFlag) error {
	now := time.Now().UTC()
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_analyses (session_id, model, created_at) VALUES ($1, $2, $3)`,
			sessionID, model, now); err != nil {
			return err
		}
		for i := range flags {
			if err := insertFlag(ctx, tx, &flags[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

const flagColumns = `id, session_id, evaluation_id, category, severity, source, detail, status, resolution_note, created_by, created_at, updated_at`

func scanFlag(s scanner) (*models.SessionFlag, error) {
	var f models.SessionFlag
	if err := s.Scan(&f.ID, &f.SessionID, &f.EvaluationID, &f.Category, &f.Severity, &f.Source, &f.Detail,
		&f.Status, &f.ResolutionNote, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func insertFlag(ctx context.Context, q querier, f *models.SessionFlag) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.UpdatedAt = f.CreatedAt
	if f.Status == "" {
		f.Status = models.FlagOpen
	}
	const stmt = `
		INSERT INTO session_flags
			(id, session_id, evaluation_id, category, severity, source, detail, status, resolution_note, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := q.ExecContext(ctx, stmt, f.ID, f.SessionID, f.EvaluationID, f.Category, f.Severity, f.Source,
		f.Detail, f.Status, f.ResolutionNote, f.CreatedBy, f.CreatedAt, f.UpdatedAt)
	return err
}

func (c *DatabaseClient) CreateFlag(ctx context.Context, flag *models.SessionFlag) error {
	if flag == nil {
		return errors.New("nil flag")
	}
	return classify(insertFlag(ctx, c.db, flag))
}

func (c *DatabaseClient) GetFlagByID(ctx context.Context, id string) (*models.SessionFlag, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+flagColumns+` FROM session_flags WHERE id = $1`, id)
	f, err := scanFlag(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

// ListFlags returns the review queue, newest first, filtered by whichever
// fields of f are set.
func (c *DatabaseClient) ListFlags(ctx context.Context, f FlagFilter) ([]models.SessionFlag, error) {
	q := `SELECT ` + flagColumns + ` FROM session_flags WHERE 1 = 1`
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		q += ` AND ` + column + ` = ` + placeholders(len(args), 1)
	}
	add("status", f.Status)
	add("severity", f.Severity)
	add("source", f.Source)
	add("session_id", f.SessionID)
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT ` + placeholders(len(args), 1)
	}
	return c.queryFlags(ctx, q, args...)
}

func (c *DatabaseClient) ListFlagsBySession(ctx context.Context, sessionID string) ([]models.SessionFlag, error) {
	return c.queryFlags(ctx, `SELECT `+flagColumns+` FROM session_flags WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
}

func (c *DatabaseClient) queryFlags(ctx context.Context, q string, args ...any) ([]models.SessionFlag, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SessionFlag{}
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// UpdateFlagStatus changes review status and note; severity and source are
// never rewritten.
func (c *DatabaseClient) UpdateFlagStatus(ctx context.Context, id, status, note string) (*models.SessionFlag, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE session_flags SET status = $1, resolution_note = $2, updated_at = $3 WHERE id = $4`,
		status, note, time.Now().UTC(), id)
	if err != nil {
		return nil, classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return c.GetFlagByID(ctx, id)
}

// CreateRecording returns ErrUniqueViolation when the session already has one.
func (c *DatabaseClient) CreateRecording(ctx context.Context, rec *models.Recording) error {
	if rec == nil {
		return errors.New("nil recording")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO recordings (id, session_id, storage_url, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := c.db.ExecContext(ctx, q, rec.ID, rec.SessionID, rec.StorageURL, rec.DurationMS, rec.CreatedAt)
	return classify(err)
}

func (c *DatabaseClient) GetRecordingBySession(ctx context.Context, sessionID string) (*models.Recording, error) {
	var r models.Recording
	err := c.db.QueryRowContext(ctx,
		`SELECT id, session_id, storage_url, duration_ms, created_at FROM recordings WHERE session_id = $1`, sessionID,
	).Scan(&r.ID, &r.SessionID, &r.StorageURL, &r.DurationMS, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
