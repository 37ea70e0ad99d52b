package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Rehearsal/internal/core"
	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

type ScenarioService struct {
	db        db.DbClient
	generator core.LLMProvider
	log       *logger.Logger
}

func NewScenarioService(store db.DbClient, generator core.LLMProvider, log *logger.Logger) *ScenarioService {
	return &ScenarioService{db: store, generator: generator, log: log.With("component", "scenarios")}
}

type ScenarioInput struct {
	Title            string   `json:"title"`
	Prompt           string   `json:"prompt"`
	EvaluatorContext string   `json:"evaluatorContext"`
	Mode             string   `json:"mode"`
	Category         string   `json:"category"`
	Skills           []string `json:"skills"`
	IsOneTime        bool     `json:"isOneTime"`
}

func (in ScenarioInput) validate(op string) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperr.Validation(op, "title is required")
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return apperr.Validation(op, "prompt is required")
	}
	if !validMode(in.Mode) {
		return apperr.Validation(op, "mode must be phone or chat")
	}
	return nil
}

func validMode(mode string) bool { return mode == models.ModePhone || mode == models.ModeChat }

// normalizeSkills trims and de-duplicates case-insensitively, keeping the
// first spelling and order.
func normalizeSkills(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (s *ScenarioService) Create(ctx context.Context, p Principal, in ScenarioInput) (*models.Scenario, error) {
	const op = "scenarios.Create"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	if in.Mode == "" {
		in.Mode = models.ModeChat
	}
	if err := in.validate(op); err != nil {
		return nil, err
	}
	sc := s.newScenario(p, in)
	if err := s.db.CreateScenario(ctx, sc); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return sc, nil
}

func (s *ScenarioService) newScenario(p Principal, in ScenarioInput) *models.Scenario {
	sc := &models.Scenario{
		ID:               uuid.NewString(),
		CreatedBy:        p.UserID,
		Title:            strings.TrimSpace(in.Title),
		Prompt:           strings.TrimSpace(in.Prompt),
		EvaluatorContext: strings.TrimSpace(in.EvaluatorContext),
		Mode:             in.Mode,
		Category:         strings.TrimSpace(in.Category),
		Skills:           normalizeSkills(in.Skills),
		IsOneTime:        in.IsOneTime,
	}
	if p.AccountID != "" {
		sc.AccountID = &p.AccountID
	}
	return sc
}

// List returns reusable scenarios only.
func (s *ScenarioService) List(ctx context.Context) ([]models.Scenario, error) {
	list, err := s.db.ListScenarios(ctx)
	if err != nil {
		return nil, apperr.Internal("scenarios.List", err)
	}
	return list, nil
}

func (s *ScenarioService) Get(ctx context.Context, id string) (*models.Scenario, error) {
	const op = "scenarios.Get"
	sc, err := s.db.GetScenarioByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if sc == nil {
		return nil, apperr.NotFound(op, "scenario")
	}
	return sc, nil
}

func (s *ScenarioService) Update(ctx context.Context, p Principal, id string, in ScenarioInput) (*models.Scenario, error) {
	const op = "scenarios.Update"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	sc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Mode == "" {
		in.Mode = sc.Mode
	}
	if err := in.validate(op); err != nil {
		return nil, err
	}

	sc.Title = strings.TrimSpace(in.Title)
	sc.Prompt = strings.TrimSpace(in.Prompt)
	sc.EvaluatorContext = strings.TrimSpace(in.EvaluatorContext)
	sc.Mode = in.Mode
	sc.Category = strings.TrimSpace(in.Category)
	sc.Skills = normalizeSkills(in.Skills)

	if err := s.db.UpdateScenario(ctx, sc); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound(op, "scenario")
		}
		return nil, apperr.Internal(op, err)
	}
	return sc, nil
}

// Delete refuses while any assignment or session still points at the scenario.
func (s *ScenarioService) Delete(ctx context.Context, p Principal, id string) error {
	const op = "scenarios.Delete"
	if err := requireSupervisor(op, p); err != nil {
		return err
	}
	deps, err := s.db.DeleteScenario(ctx, id)
	switch {
	case err == nil:
		s.log.Info("scenario deleted", "scenario_id", id)
		return nil
	case errors.Is(err, db.ErrNotFound):
		return apperr.NotFound(op, "scenario")
	case errors.Is(err, db.ErrHasDependents):
		return dependentsConflict(op, "scenario is still referenced", deps)
	case errors.Is(err, db.ErrForeignKeyViolation):
		return apperr.Conflict(op, "scenario is still referenced")
	default:
		return apperr.Internal(op, err)
	}
}

func dependentsConflict(op, msg string, deps db.Dependents) error {
	e := apperr.Conflict(op, msg)
	if deps.Assignments > 0 {
		e.WithDetail("assignments", deps.Assignments)
	}
	if deps.Sessions > 0 {
		e.WithDetail("sessions", deps.Sessions)
	}
	if deps.Evaluations > 0 {
		e.WithDetail("evaluations", deps.Evaluations)
	}
	return e
}

type GenerateScenarioInput struct {
	Complaint string     `json:"complaint"`
	Mode      string     `json:"mode"`
	Category  string     `json:"category"`
	Skills    []string   `json:"skills"`
	AssignTo  *string    `json:"assignTo"`
	DueDate   *time.Time `json:"dueDate"`
}

type GeneratedScenario struct {
	Scenario   *models.Scenario   `json:"scenario"`
	Assignment *models.Assignment `json:"assignment,omitempty"`
}

// Generate turns a supervisor's description into a scenario. With AssignTo
// the scenario is one-time and assigned to that counselor straight away.
func (s *ScenarioService) Generate(ctx context.Context, p Principal, in GenerateScenarioInput) (*GeneratedScenario, error) {
	const op = "scenarios.Generate"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	complaint := strings.TrimSpace(in.Complaint)
	if complaint == "" {
		return nil, apperr.Validation(op, "complaint is required")
	}
	if in.Mode == "" {
		in.Mode = models.ModeChat
	}
	if !validMode(in.Mode) {
		return nil, apperr.Validation(op, "mode must be phone or chat")
	}

	var counselor *models.User
	if assignTo := trimmedPtr(in.AssignTo); assignTo != nil {
		u, err := s.db.GetUserByID(ctx, *assignTo)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if u == nil || u.Role != models.RoleCounselor {
			return nil, apperr.NotFound(op, "counselor")
		}
		counselor = u
	}

	system, user := scenarioGenPrompts(complaint, in.Category)
	raw, err := s.generator.Generate(ctx, system, user)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	title, prompt, ok := parseGeneratedScenario(raw)
	if !ok {
		s.log.Warn("unusable generated scenario", "output_len", len(raw))
		return nil, apperr.Upstream(op, errors.New("generator reply had no title"))
	}

	sc := s.newScenario(p, ScenarioInput{
		Title:     title,
		Prompt:    prompt,
		Mode:      in.Mode,
		Category:  in.Category,
		Skills:    in.Skills,
		IsOneTime: counselor != nil,
	})
	if err := s.db.CreateScenario(ctx, sc); err != nil {
		return nil, apperr.Internal(op, err)
	}
	out := &GeneratedScenario{Scenario: sc}
	if counselor == nil {
		return out, nil
	}

	a := &models.Assignment{
		ID:          uuid.NewString(),
		ScenarioID:  sc.ID,
		CounselorID: counselor.ID,
		AssignedBy:  p.UserID,
		DueDate:     in.DueDate,
		OneTime:     true,
	}
	if err := s.db.CreateAssignment(ctx, a); err != nil {
		if _, delErr := s.db.DeleteScenario(ctx, sc.ID); delErr != nil {
			s.log.Error("orphaned one-time scenario", "scenario_id", sc.ID, "error", delErr)
		}
		return nil, apperr.Internal(op, err)
	}
	out.Assignment = a
	return out, nil
}
