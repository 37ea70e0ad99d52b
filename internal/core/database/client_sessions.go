package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

// Implementing the db interface for sessions and transcripts

const sessionColumns = `id, user_id, assignment_id, scenario_id, mode, external_ref, started_at, ended_at`

func scanSession(s scanner) (*models.Session, error) {
	var ss models.Session
	if err := s.Scan(&ss.ID, &ss.UserID, &ss.AssignmentID, &ss.ScenarioID, &ss.Mode, &ss.ExternalRef,
		&ss.StartedAt, &ss.EndedAt); err != nil {
		return nil, err
	}
	return &ss, nil
}

func insertSession(ctx context.Context, q querier, s *models.Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	const stmt = `
		INSERT INTO sessions (id, user_id, assignment_id, scenario_id, mode, external_ref, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.ExecContext(ctx, stmt, s.ID, s.UserID, s.AssignmentID, s.ScenarioID, s.Mode, s.ExternalRef,
		s.StartedAt, s.EndedAt)
	return err
}

// CreateSession inserts a free-practice session. A duplicate external_ref
// surfaces as ErrUniqueViolation.
func (c *DatabaseClient) CreateSession(ctx context.Context, s *models.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	return classify(insertSession(ctx, c.db, s))
}

// StartAssignmentSession inserts the session and moves its assignment to
// in_progress in one transaction. A completed assignment yields
// ErrAssignmentClosed and no session row.
func (c *DatabaseClient) StartAssignmentSession(ctx context.Context, s *models.Session) error {
	if s == nil || s.AssignmentID == nil {
		return errors.New("session without assignment")
	}
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertSession(ctx, tx, s); err != nil {
			return err
		}
		const q = `
			UPDATE assignments
			SET status = $1, session_id = $2, updated_at = $3
			WHERE id = $4 AND status <> $5
		`
		res, err := tx.ExecContext(ctx, q, models.AssignmentInProgress, s.ID, s.StartedAt,
			*s.AssignmentID, models.AssignmentCompleted)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAssignmentClosed
		}
		return nil
	})
}

func (c *DatabaseClient) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (c *DatabaseClient) GetSessionByExternalRef(ctx context.Context, ref string) (*models.Session, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE external_ref = $1`, ref)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (c *DatabaseClient) ListSessionsByUser(ctx context.Context, userID string) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 ORDER BY started_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// EndSession sets ended_at once. Ending an ended session is a no-op.
func (c *DatabaseClient) EndSession(ctx context.Context, id string, at time.Time) error {
	res, err := c.db.ExecContext(ctx, `UPDATE sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL`, at, id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = $1`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return nil
}

const insertTurnSQL = `
	INSERT INTO transcript_turns (id, session_id, attempt, role, content, turn_index, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// ReplaceTranscript swaps the turns of (session, attempt) for the given batch
// in one transaction. Turn indexes are taken from batch position, so replaying
// the same batch leaves the same rows.
func (c *DatabaseClient) ReplaceTranscript(ctx context.Context, sessionID string, attempt int, turns []models.TranscriptTurn) error {
	now := time.Now().UTC()
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transcript_turns WHERE session_id = $1 AND attempt = $2`, sessionID, attempt); err != nil {
			return err
		}
		for i := range turns {
			t := &turns[i]
			t.ID = uuid.NewString()
			t.SessionID = sessionID
			t.Attempt = attempt
			t.TurnIndex = i
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			if _, err := tx.ExecContext(ctx, insertTurnSQL,
				t.ID, t.SessionID, t.Attempt, t.Role, t.Content, t.TurnIndex, t.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendTurns adds turns after the current last index of (session, attempt).
// Two concurrent appends collide on the turn index unique key.
func (c *DatabaseClient) AppendTurns(ctx context.Context, sessionID string, attempt int, turns []models.TranscriptTurn) ([]models.TranscriptTurn, error) {
	now := time.Now().UTC()
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(turn_index) FROM transcript_turns WHERE session_id = $1 AND attempt = $2`,
			sessionID, attempt).Scan(&last); err != nil {
			return err
		}
		next := 0
		if last.Valid {
			next = int(last.Int64) + 1
		}
		for i := range turns {
			t := &turns[i]
			t.ID = uuid.NewString()
			t.SessionID = sessionID
			t.Attempt = attempt
			t.TurnIndex = next + i
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			if _, err := tx.ExecContext(ctx, insertTurnSQL,
				t.ID, t.SessionID, t.Attempt, t.Role, t.Content, t.TurnIndex, t.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// ListTurns returns the turns of the highest attempt of the session in order.
func (c *DatabaseClient) ListTurns(ctx context.Context, sessionID string) ([]models.TranscriptTurn, error) {
	const q = `
		SELECT id, session_id, attempt, role, content, turn_index, created_at
		FROM transcript_turns
		WHERE session_id = $1
		  AND attempt = (SELECT MAX(attempt) FROM transcript_turns WHERE session_id = $1)
		ORDER BY turn_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.TranscriptTurn{}
	for rows.Next() {
		var t models.TranscriptTurn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Attempt, &t.Role, &t.Content, &t.TurnIndex, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
