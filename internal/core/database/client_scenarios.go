package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

// Implementing the db interface for scenarios and assignments

const scenarioColumns = `id, account_id, created_by, title, prompt, evaluator_context, mode, category, skills, is_one_time, created_at, updated_at`

func scanScenario(s scanner) (*models.Scenario, error) {
	var (
		sc     models.Scenario
		skills string
	)
	if err := s.Scan(&sc.ID, &sc.AccountID, &sc.CreatedBy, &sc.Title, &sc.Prompt, &sc.EvaluatorContext,
		&sc.Mode, &sc.Category, &skills, &sc.IsOneTime, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, err
	}
	sc.Skills = []string{}
	if skills != "" {
		if err := json.Unmarshal([]byte(skills), &sc.Skills); err != nil {
			return nil, err
		}
	}
	return &sc, nil
}

func encodeSkills(skills []string) (string, error) {
	if skills == nil {
		skills = []string{}
	}
	b, err := json.Marshal(skills)
	return string(b), err
}

func (c *DatabaseClient) CreateScenario(ctx context.Context, sc *models.Scenario) error {
	if sc == nil {
		return errors.New("nil scenario")
	}
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = sc.CreatedAt
	skills, err := encodeSkills(sc.Skills)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO scenarios
			(id, account_id, created_by, title, prompt, evaluator_context, mode, category, skills, is_one_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = c.db.ExecContext(ctx, q, sc.ID, sc.AccountID, sc.CreatedBy, sc.Title, sc.Prompt, sc.EvaluatorContext,
		sc.Mode, sc.Category, skills, sc.IsOneTime, sc.CreatedAt, sc.UpdatedAt)
	return classify(err)
}

func (c *DatabaseClient) GetScenarioByID(ctx context.Context, id string) (*models.Scenario, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = $1`, id)
	sc, err := scanScenario(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sc, err
}

// ListScenarios returns reusable scenarios only; one-time scenarios are
// reachable through their assignment.
func (c *DatabaseClient) ListScenarios(ctx context.Context) ([]models.Scenario, error) {
	q := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE is_one_time = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Scenario{}
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateScenario(ctx context.Context, sc *models.Scenario) error {
	if sc == nil {
		return errors.New("nil scenario")
	}
	sc.UpdatedAt = time.Now().UTC()
	skills, err := encodeSkills(sc.Skills)
	if err != nil {
		return err
	}
	const q = `
		UPDATE scenarios
		SET title = $1, prompt = $2, evaluator_context = $3, mode = $4, category = $5, skills = $6, updated_at = $7
		WHERE id = $8
	`
	res, err := c.db.ExecContext(ctx, q, sc.Title, sc.Prompt, sc.EvaluatorContext, sc.Mode, sc.Category, skills, sc.UpdatedAt, sc.ID)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteScenario refuses to delete while assignments or sessions reference
// the scenario. The foreign keys catch a dependent created after the count.
func (c *DatabaseClient) DeleteScenario(ctx context.Context, id string) (Dependents, error) {
	var deps Dependents
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE scenario_id = $1`, id).Scan(&deps.Assignments); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE scenario_id = $1`, id).Scan(&deps.Sessions); err != nil {
			return err
		}
		if deps.Total() > 0 {
			return ErrHasDependents
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM scenarios WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	return deps, err
}

const assignmentColumns = `id, scenario_id, counselor_id, assigned_by, status, due_date, session_id, one_time, created_at, updated_at`

func scanAssignment(s scanner) (*models.Assignment, error) {
	var a models.Assignment
	if err := s.Scan(&a.ID, &a.ScenarioID, &a.CounselorID, &a.AssignedBy, &a.Status, &a.DueDate,
		&a.SessionID, &a.OneTime, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAssignment returns ErrUniqueViolation when the pair already has an
// open assignment, or when a.OneTime is set and the scenario already has one.
func (c *DatabaseClient) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	if a == nil {
		return errors.New("nil assignment")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	if a.Status == "" {
		a.Status = models.AssignmentPending
	}
	const q = `
		INSERT INTO assignments
			(id, scenario_id, counselor_id, assigned_by, status, due_date, session_id, one_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := c.db.ExecContext(ctx, q, a.ID, a.ScenarioID, a.CounselorID, a.AssignedBy, a.Status, a.DueDate,
		a.SessionID, a.OneTime, a.CreatedAt, a.UpdatedAt)
	return classify(err)
}

// FirstAssignmentForScenario returns the oldest assignment of the scenario,
// or nil when it has none.
func (c *DatabaseClient) FirstAssignmentForScenario(ctx context.Context, scenarioID string) (*models.Assignment, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE scenario_id = $1 ORDER BY created_at ASC LIMIT 1`, scenarioID)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (c *DatabaseClient) GetAssignmentByID(ctx context.Context, id string) (*models.Assignment, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (c *DatabaseClient) ListAssignments(ctx context.Context, f AssignmentFilter) ([]models.Assignment, error) {
	q := `SELECT ` + assignmentColumns + ` FROM assignments WHERE 1 = 1`
	var args []any
	if f.CounselorID != "" {
		args = append(args, f.CounselorID)
		q += ` AND counselor_id = ` + placeholders(len(args), 1)
	}
	if f.Status != "" {
		args = append(args, f.Status)
		q += ` AND status = ` + placeholders(len(args), 1)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// OpenAssignmentPairs maps every (counselor, scenario) pair among the inputs
// that has a non-completed assignment to that assignment's id.
func (c *DatabaseClient) OpenAssignmentPairs(ctx context.Context, counselorIDs, scenarioIDs []string) (map[models.AssignmentPair]string, error) {
	out := map[models.AssignmentPair]string{}
	if len(counselorIDs) == 0 || len(scenarioIDs) == 0 {
		return out, nil
	}

	args := make([]any, 0, 1+len(counselorIDs)+len(scenarioIDs))
	args = append(args, models.AssignmentCompleted)
	for _, id := range counselorIDs {
		args = append(args, id)
	}
	for _, id := range scenarioIDs {
		args = append(args, id)
	}
	q := `
		SELECT id, counselor_id, scenario_id FROM assignments
		WHERE status <> $1
		  AND counselor_id IN (` + placeholders(2, len(counselorIDs)) + `)
		  AND scenario_id IN (` + placeholders(2+len(counselorIDs), len(scenarioIDs)) + `)`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   string
			pair models.AssignmentPair
		)
		if err := rows.Scan(&id, &pair.CounselorID, &pair.ScenarioID); err != nil {
			return nil, err
		}
		out[pair] = id
	}
	return out, rows.Err()
}

// DeleteAssignment refuses to delete an assignment that has sessions or an
// evaluation.
func (c *DatabaseClient) DeleteAssignment(ctx context.Context, id string) (Dependents, error) {
	var deps Dependents
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations WHERE assignment_id = $1`, id).Scan(&deps.Evaluations); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE assignment_id = $1`, id).Scan(&deps.Sessions); err != nil {
			return err
		}
		if deps.Total() > 0 {
			return ErrHasDependents
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	return deps, err
}
