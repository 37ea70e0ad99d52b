package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

const maxBulkPairs = 500

// Reasons a bulk pair is skipped.
const (
	SkipAlreadyAssigned  = "already_assigned"
	SkipUnknownCounselor = "unknown_counselor"
	SkipUnknownScenario  = "unknown_scenario"
	SkipOneTimeScenario  = "one_time_scenario"
)

type AssignmentService struct {
	db  db.DbClient
	log *logger.Logger
}

func NewAssignmentService(store db.DbClient, log *logger.Logger) *AssignmentService {
	return &AssignmentService{db: store, log: log.With("component", "assignments")}
}

type AssignInput struct {
	ScenarioID  string     `json:"scenarioId"`
	CounselorID string     `json:"counselorId"`
	DueDate     *time.Time `json:"dueDate"`
}

// Assign creates one assignment. A pair that already has an open assignment
// is a CONFLICT naming the existing row.
func (s *AssignmentService) Assign(ctx context.Context, p Principal, in AssignInput) (*models.Assignment, error) {
	const op = "assignments.Assign"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	scenarioID, counselorID := strings.TrimSpace(in.ScenarioID), strings.TrimSpace(in.CounselorID)
	if scenarioID == "" || counselorID == "" {
		return nil, apperr.Validation(op, "scenarioId and counselorId are required")
	}

	sc, err := s.db.GetScenarioByID(ctx, scenarioID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if sc == nil {
		return nil, apperr.NotFound(op, "scenario")
	}
	if sc.IsOneTime {
		if err := s.oneTimeTaken(ctx, op, sc.ID); err != nil {
			return nil, err
		}
	}
	u, err := s.db.GetUserByID(ctx, counselorID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if u == nil || u.Role != models.RoleCounselor {
		return nil, apperr.NotFound(op, "counselor")
	}

	a := &models.Assignment{
		ID:          uuid.NewString(),
		ScenarioID:  scenarioID,
		CounselorID: counselorID,
		AssignedBy:  p.UserID,
		DueDate:     in.DueDate,
		OneTime:     sc.IsOneTime,
	}
	if err := s.db.CreateAssignment(ctx, a); err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			if sc.IsOneTime {
				if takenErr := s.oneTimeTaken(ctx, op, sc.ID); takenErr != nil {
					return nil, takenErr
				}
			}
			conflict := apperr.Conflict(op, "counselor already has an open assignment for this scenario")
			open, lookupErr := s.db.OpenAssignmentPairs(ctx, []string{counselorID}, []string{scenarioID})
			if lookupErr == nil {
				if id, ok := open[models.AssignmentPair{CounselorID: counselorID, ScenarioID: scenarioID}]; ok {
					conflict.WithDetail("assignmentId", id)
				}
			}
			return nil, conflict
		}
		return nil, apperr.Internal(op, err)
	}
	return a, nil
}

// oneTimeTaken is a CONFLICT naming the assignment a one-time scenario
// already backs, or nil while it is still free.
func (s *AssignmentService) oneTimeTaken(ctx context.Context, op, scenarioID string) error {
	first, err := s.db.FirstAssignmentForScenario(ctx, scenarioID)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if first == nil {
		return nil
	}
	return apperr.Conflict(op, "one-time scenario is already assigned").WithDetail("assignmentId", first.ID)
}

type BulkAssignInput struct {
	ScenarioIDs  []string   `json:"scenarioIds"`
	CounselorIDs []string   `json:"counselorIds"`
	DueDate      *time.Time `json:"dueDate"`
}

type SkippedPair struct {
	CounselorID string `json:"counselorId"`
	ScenarioID  string `json:"scenarioId"`
	Reason      string `json:"reason"`
}

type BulkAssignResult struct {
	Created      int                 `json:"created"`
	Skipped      int                 `json:"skipped"`
	SkippedPairs []SkippedPair       `json:"skippedPairs"`
	Assignments  []models.Assignment `json:"assignments"`
}

// BulkAssign assigns every scenario to every counselor. Pairs that already
// have an open assignment are skipped and reported, never duplicated.
func (s *AssignmentService) BulkAssign(ctx context.Context, p Principal, in BulkAssignInput) (*BulkAssignResult, error) {
	const op = "assignments.BulkAssign"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	scenarioIDs, counselorIDs := uniqueIDs(in.ScenarioIDs), uniqueIDs(in.CounselorIDs)
	if len(scenarioIDs) == 0 || len(counselorIDs) == 0 {
		return nil, apperr.Validation(op, "scenarioIds and counselorIds must not be empty")
	}
	if len(scenarioIDs)*len(counselorIDs) > maxBulkPairs {
		return nil, apperr.Validation(op, "too many pairs in one request")
	}

	scenarioSkip := map[string]string{}
	oneTime := map[string]bool{}
	for _, id := range scenarioIDs {
		sc, err := s.db.GetScenarioByID(ctx, id)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if sc == nil {
			scenarioSkip[id] = SkipUnknownScenario
			continue
		}
		if !sc.IsOneTime {
			continue
		}
		oneTime[id] = true
		first, err := s.db.FirstAssignmentForScenario(ctx, id)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if first != nil {
			scenarioSkip[id] = SkipOneTimeScenario
		}
	}
	counselorSkip := map[string]string{}
	for _, id := range counselorIDs {
		u, err := s.db.GetUserByID(ctx, id)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if u == nil || u.Role != models.RoleCounselor {
			counselorSkip[id] = SkipUnknownCounselor
		}
	}

	open, err := s.db.OpenAssignmentPairs(ctx, counselorIDs, scenarioIDs)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	res := &BulkAssignResult{SkippedPairs: []SkippedPair{}, Assignments: []models.Assignment{}}
	skip := func(counselorID, scenarioID, reason string) {
		res.Skipped++
		res.SkippedPairs = append(res.SkippedPairs, SkippedPair{CounselorID: counselorID, ScenarioID: scenarioID, Reason: reason})
	}

	for _, counselorID := range counselorIDs {
		for _, scenarioID := range scenarioIDs {
			if reason, bad := counselorSkip[counselorID]; bad {
				skip(counselorID, scenarioID, reason)
				continue
			}
			if reason, bad := scenarioSkip[scenarioID]; bad {
				skip(counselorID, scenarioID, reason)
				continue
			}
			if _, exists := open[models.AssignmentPair{CounselorID: counselorID, ScenarioID: scenarioID}]; exists {
				skip(counselorID, scenarioID, SkipAlreadyAssigned)
				continue
			}

			a := models.Assignment{
				ID:          uuid.NewString(),
				ScenarioID:  scenarioID,
				CounselorID: counselorID,
				AssignedBy:  p.UserID,
				DueDate:     in.DueDate,
				OneTime:     oneTime[scenarioID],
			}
			if err := s.db.CreateAssignment(ctx, &a); err != nil {
				// A concurrent request created the pair after our read.
				if errors.Is(err, db.ErrUniqueViolation) {
					reason := SkipAlreadyAssigned
					if a.OneTime {
						reason = SkipOneTimeScenario
						scenarioSkip[scenarioID] = SkipOneTimeScenario
					}
					skip(counselorID, scenarioID, reason)
					continue
				}
				return nil, apperr.Internal(op, err)
			}
			res.Created++
			res.Assignments = append(res.Assignments, a)
			if a.OneTime {
				scenarioSkip[scenarioID] = SkipOneTimeScenario
			}
		}
	}

	s.log.Info("bulk assignment", "created", res.Created, "skipped", res.Skipped)
	return res, nil
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// List shows supervisors every assignment and counselors only their own.
func (s *AssignmentService) List(ctx context.Context, p Principal, f db.AssignmentFilter) ([]models.Assignment, error) {
	const op = "assignments.List"
	if !p.IsSupervisor() {
		f.CounselorID = p.UserID
	}
	switch f.Status {
	case "", models.AssignmentPending, models.AssignmentInProgress, models.AssignmentCompleted:
	default:
		return nil, apperr.Validation(op, "unknown status")
	}
	list, err := s.db.ListAssignments(ctx, f)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return list, nil
}

func (s *AssignmentService) Get(ctx context.Context, p Principal, id string) (*models.Assignment, error) {
	const op = "assignments.Get"
	a, err := s.db.GetAssignmentByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if a == nil || !p.CanAccess(a.CounselorID) {
		return nil, apperr.NotFound(op, "assignment")
	}
	return a, nil
}

// Delete refuses while sessions or an evaluation reference the assignment.
func (s *AssignmentService) Delete(ctx context.Context, p Principal, id string) error {
	const op = "assignments.Delete"
	if err := requireSupervisor(op, p); err != nil {
		return err
	}
	deps, err := s.db.DeleteAssignment(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return apperr.NotFound(op, "assignment")
	case errors.Is(err, db.ErrHasDependents):
		return dependentsConflict(op, "assignment is still referenced", deps)
	case errors.Is(err, db.ErrForeignKeyViolation):
		return apperr.Conflict(op, "assignment is still referenced")
	default:
		return apperr.Internal(op, err)
	}
}
