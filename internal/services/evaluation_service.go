package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Rehearsal/internal/core"
	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	"github.com/markdave123-py/Rehearsal/internal/core/background"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/grading"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/core/ratelimit"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

const (
	minGradableTurns = 2
	tooEarlyRetry    = 3 * time.Second
	referenceLimit   = 4
)

type EvaluationConfig struct {
	GraderModel   string
	AnalysisModel string
	PerHour       int
	Window        time.Duration
}

// EvaluationService grades sessions and runs the secondary safety analysis.
type EvaluationService struct {
	db       db.DbClient
	grader   core.LLMProvider
	analyzer core.LLMProvider
	embedder core.EmbeddingProvider
	limiter  ratelimit.Limiter
	runner   background.Runner
	cfg      EvaluationConfig
	log      *logger.Logger
}

// NewEvaluationService accepts a nil embedder; grading then never uses
// reference documents.
func NewEvaluationService(
	store db.DbClient,
	grader, analyzer core.LLMProvider,
	embedder core.EmbeddingProvider,
	limiter ratelimit.Limiter,
	runner background.Runner,
	cfg EvaluationConfig,
	log *logger.Logger,
) *EvaluationService {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.PerHour <= 0 {
		cfg.PerHour = 5
	}
	return &EvaluationService{
		db: store, grader: grader, analyzer: analyzer, embedder: embedder,
		limiter: limiter, runner: runner, cfg: cfg,
		log: log.With("component", "evaluations"),
	}
}

// EvaluationView is what callers get back. Flags are left empty for
// counselors.
type EvaluationView struct {
	Evaluation   *models.Evaluation   `json:"evaluation"`
	Flags        []models.SessionFlag `json:"flags,omitempty"`
	DroppedFlags int                  `json:"-"`
}

// Evaluate grades the session once. Concurrent or repeated calls for the same
// target get CONFLICT naming the evaluation that won.
func (s *EvaluationService) Evaluate(ctx context.Context, p Principal, sessionID string) (*EvaluationView, error) {
	const op = "evaluations.Evaluate"

	sess, err := s.db.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if sess == nil || !p.CanAccess(sess.UserID) {
		return nil, apperr.NotFound(op, "session")
	}

	turns, err := s.db.ListTurns(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if len(turns) < minGradableTurns {
		return nil, apperr.TooEarly(op, "transcript is not ready yet", tooEarlyRetry)
	}

	target := models.TargetFor(sess)
	existing, err := s.db.GetEvaluationByTarget(ctx, target)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if existing != nil {
		return nil, alreadyEvaluated(op, existing.ID)
	}

	// Only calls that go on to grading spend the budget.
	if err := s.allow(ctx, op, "evaluate:"+sess.ID, s.cfg.PerHour); err != nil {
		return nil, err
	}

	sc, err := s.scenarioFor(ctx, sess)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	in := grading.PromptInput{Turns: turns}
	if sc != nil {
		in.ScenarioTitle = sc.Title
		in.ScenarioPrompt = sc.Prompt
		in.EvaluatorContext = sc.EvaluatorContext
		in.Skills = sc.Skills
	} else {
		in.ScenarioTitle = "Free practice"
	}
	in.Reference = s.reference(ctx, sess, in)

	system, user := grading.BuildGradingPrompt(in)
	raw, err := s.grader.Generate(ctx, system, user)
	if err != nil {
		s.log.Error("grading call failed", "session_id", sess.ID, "error", err)
		return nil, apperr.Upstream(op, err)
	}

	parsed := grading.Parse(raw)
	if len(parsed.Dropped) > 0 {
		s.log.Warn("dropped malformed evaluator flags", "session_id", sess.ID, "count", len(parsed.Dropped))
	}

	eval := &models.Evaluation{
		ID:              uuid.NewString(),
		GradedSessionID: sess.ID,
		Score:           parsed.Score,
		Feedback:        parsed.Feedback,
		RawOutput:       raw,
		UsedRetrieval:   len(in.Reference) > 0,
		Model:           s.cfg.GraderModel,
	}
	eval.AssignmentID, eval.SessionID = models.TargetColumns(target)
	flags := toSessionFlags(sess.ID, models.FlagSourceEvaluation, parsed.Flags)

	if err := s.db.CreateEvaluation(ctx, eval, flags, sess.AssignmentID); err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			winner, lookupErr := s.db.GetEvaluationByTarget(ctx, target)
			if lookupErr != nil || winner == nil {
				return nil, apperr.Conflict(op, "session already evaluated")
			}
			return nil, alreadyEvaluated(op, winner.ID)
		}
		return nil, apperr.Internal(op, err)
	}
	s.log.Info("session evaluated", "session_id", sess.ID, "evaluation_id", eval.ID, "flags", len(flags))

	graded := sess.ID
	if !s.runner.Submit("analysis:"+graded, func(ctx context.Context) error {
		return s.Analyze(ctx, graded)
	}) {
		s.log.Warn("analysis not scheduled", "session_id", graded)
	}

	view := &EvaluationView{Evaluation: eval, DroppedFlags: len(parsed.Dropped)}
	if p.IsSupervisor() || p.Trusted() {
		view.Flags = flags
	}
	return view, nil
}

func alreadyEvaluated(op, evaluationID string) error {
	return apperr.Conflict(op, "session already evaluated").WithDetail("evaluationId", evaluationID)
}

// allow fails open when the limiter itself errors.
func (s *EvaluationService) allow(ctx context.Context, op, key string, limit int) error {
	d, err := s.limiter.Allow(ctx, key, limit, s.cfg.Window)
	if err != nil {
		s.log.Warn("rate limiter unavailable", "key", key, "error", err)
		return nil
	}
	if !d.Allowed {
		return apperr.RateLimited(op, d.RetryAfter)
	}
	return nil
}

func (s *EvaluationService) scenarioFor(ctx context.Context, sess *models.Session) (*models.Scenario, error) {
	scenarioID := sess.ScenarioID
	if scenarioID == nil && sess.AssignmentID != nil {
		a, err := s.db.GetAssignmentByID(ctx, *sess.AssignmentID)
		if err != nil {
			return nil, err
		}
		if a != nil {
			scenarioID = &a.ScenarioID
		}
	}
	if scenarioID == nil {
		return nil, nil
	}
	return s.db.GetScenarioByID(ctx, *scenarioID)
}

// reference pulls procedure excerpts for the session owner's account. Any
// failure means grading without them.
func (s *EvaluationService) reference(ctx context.Context, sess *models.Session, in grading.PromptInput) []string {
	if s.embedder == nil {
		return nil
	}
	u, err := s.db.GetUserByID(ctx, sess.UserID)
	if err != nil || u == nil || u.AccountID == nil {
		return nil
	}
	acct, err := s.db.GetAccountByID(ctx, *u.AccountID)
	if err != nil || acct == nil || acct.VectorStoreID == nil {
		return nil
	}

	query := strings.TrimSpace(in.ScenarioTitle + "\n" + strings.Join(in.Skills, ", ") + "\n" + in.ScenarioPrompt)
	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		s.log.Warn("reference retrieval skipped", "session_id", sess.ID, "stage", "embed", "error", err)
		return nil
	}
	chunks, err := s.db.SearchReferenceChunks(ctx, *acct.VectorStoreID, vecs[0], referenceLimit)
	if err != nil {
		s.log.Warn("reference retrieval skipped", "session_id", sess.ID, "stage", "search", "error", err)
		return nil
	}
	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, ch.Text)
	}
	return out
}

// Analyze runs the secondary safety pass at most once per session.
func (s *EvaluationService) Analyze(ctx context.Context, sessionID string) error {
	done, err := s.db.HasAnalysis(ctx, sessionID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	sess, err := s.db.GetSessionByID(ctx, sessionID)
	if err != nil || sess == nil {
		return errors.Join(errors.New("analysis: session not found"), err)
	}
	turns, err := s.db.ListTurns(ctx, sessionID)
	if err != nil {
		return err
	}
	var title string
	if sc, err := s.scenarioFor(ctx, sess); err == nil && sc != nil {
		title = sc.Title
	}

	system, user := grading.BuildAnalysisPrompt(title, turns)
	raw, err := s.analyzer.Generate(ctx, system, user)
	if err != nil {
		return err
	}
	parsed, dropped := grading.ParseFlags(raw)
	if len(dropped) > 0 {
		s.log.Warn("dropped malformed analysis flags", "session_id", sessionID, "count", len(dropped))
	}

	flags := toSessionFlags(sessionID, models.FlagSourceAnalysis, parsed)
	if err := s.db.RecordAnalysis(ctx, sessionID, s.cfg.AnalysisModel, flags); err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			return nil
		}
		return err
	}
	s.log.Info("analysis recorded", "session_id", sessionID, "flags", len(flags))
	return nil
}

func toSessionFlags(sessionID, source string, parsed []grading.Flag) []models.SessionFlag {
	flags := make([]models.SessionFlag, 0, len(parsed))
	for _, f := range parsed {
		flags = append(flags, models.SessionFlag{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Category:  f.Category,
			Severity:  models.EffectiveSeverity(f.Category, source, f.Severity),
			Source:    source,
			Detail:    f.Detail,
			Status:    models.FlagOpen,
		})
	}
	return flags
}

// Get returns the evaluation of the session's target when it graded this
// session.
func (s *EvaluationService) Get(ctx context.Context, p Principal, sessionID string) (*EvaluationView, error) {
	const op = "evaluations.Get"
	sess, err := s.db.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if sess == nil || !p.CanAccess(sess.UserID) {
		return nil, apperr.NotFound(op, "session")
	}
	return s.view(ctx, op, p, models.TargetFor(sess))
}

// GetForAssignment serves partner lookups by assignment.
func (s *EvaluationService) GetForAssignment(ctx context.Context, p Principal, assignmentID string) (*EvaluationView, error) {
	const op = "evaluations.GetForAssignment"
	a, err := s.db.GetAssignmentByID(ctx, assignmentID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if a == nil || !p.CanAccess(a.CounselorID) {
		return nil, apperr.NotFound(op, "assignment")
	}
	return s.view(ctx, op, p, models.AssignmentTarget{AssignmentID: a.ID})
}

// GetByID resolves the evaluationId carried by a CONFLICT.
func (s *EvaluationService) GetByID(ctx context.Context, p Principal, id string) (*EvaluationView, error) {
	const op = "evaluations.GetByID"
	eval, err := s.db.GetEvaluationByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if eval == nil {
		return nil, apperr.NotFound(op, "evaluation")
	}
	sess, err := s.db.GetSessionByID(ctx, eval.GradedSessionID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if sess == nil || !p.CanAccess(sess.UserID) {
		return nil, apperr.NotFound(op, "evaluation")
	}
	target := eval.Target()
	if target == nil {
		return nil, apperr.Internal(op, errors.New("evaluation has no parent"))
	}
	return s.view(ctx, op, p, target)
}

func (s *EvaluationService) view(ctx context.Context, op string, p Principal, target models.EvaluationTarget) (*EvaluationView, error) {
	eval, err := s.db.GetEvaluationByTarget(ctx, target)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if eval == nil {
		return nil, apperr.NotFound(op, "evaluation")
	}
	v := &EvaluationView{Evaluation: eval}
	if p.IsSupervisor() || p.Trusted() {
		all, err := s.db.ListFlagsBySession(ctx, eval.GradedSessionID)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		for _, f := range all {
			if f.EvaluationID != nil && *f.EvaluationID == eval.ID {
				v.Flags = append(v.Flags, f)
			}
		}
	}
	return v, nil
}
