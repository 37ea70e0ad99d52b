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
	"github.com/markdave123-py/Rehearsal/internal/core/ratelimit"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

const (
	maxFlagDetail = 2000
	maxFlagList   = 500
)

type FlagService struct {
	db      db.DbClient
	limiter ratelimit.Limiter
	perHour int
	window  time.Duration
	log     *logger.Logger
}

func NewFlagService(store db.DbClient, limiter ratelimit.Limiter, perHour int, log *logger.Logger) *FlagService {
	if perHour <= 0 {
		perHour = 10
	}
	return &FlagService{db: store, limiter: limiter, perHour: perHour, window: time.Hour, log: log.With("component", "flags")}
}

type SubmitFlagInput struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Submit records user feedback about a session. Guidance concerns are always
// stored as critical whatever severity was sent.
func (s *FlagService) Submit(ctx context.Context, p Principal, sessionID string, in SubmitFlagInput) (*models.SessionFlag, error) {
	const op = "flags.Submit"

	sess, err := s.db.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if sess == nil || p.Kind != PrincipalUser || !p.CanAccess(sess.UserID) {
		return nil, apperr.NotFound(op, "session")
	}

	category := strings.TrimSpace(in.Category)
	if !models.ValidFlagCategory(category) {
		return nil, apperr.Validation(op, "unknown category")
	}
	severity := strings.ToLower(strings.TrimSpace(in.Severity))
	if severity == "" {
		severity = models.SeverityMedium
	}
	// Escalated categories ignore whatever severity was sent.
	if !models.ValidSeverity(severity) && !models.Escalated(category, models.FlagSourceUserFeedback) {
		return nil, apperr.Validation(op, "unknown severity")
	}
	severity = models.EffectiveSeverity(category, models.FlagSourceUserFeedback, severity)
	detail := strings.TrimSpace(in.Detail)
	if detail == "" {
		return nil, apperr.Validation(op, "detail is required")
	}
	if len(detail) > maxFlagDetail {
		return nil, apperr.Validation(op, "detail too long")
	}

	key := "feedback:" + sess.ID
	d, err := s.limiter.Allow(ctx, key, s.perHour, s.window)
	if err != nil {
		s.log.Warn("rate limiter unavailable", "key", key, "error", err)
	} else if !d.Allowed {
		return nil, apperr.RateLimited(op, d.RetryAfter)
	}

	createdBy := p.UserID
	flag := &models.SessionFlag{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Category:  category,
		Severity:  severity,
		Source:    models.FlagSourceUserFeedback,
		Detail:    detail,
		Status:    models.FlagOpen,
		CreatedBy: &createdBy,
	}
	if err := s.db.CreateFlag(ctx, flag); err != nil {
		return nil, apperr.Internal(op, err)
	}
	if flag.Severity == models.SeverityCritical {
		s.log.Warn("critical flag raised", "flag_id", flag.ID, "session_id", sess.ID, "category", category)
	}
	return flag, nil
}

// List is the supervisor review queue.
func (s *FlagService) List(ctx context.Context, p Principal, f db.FlagFilter) ([]models.SessionFlag, error) {
	const op = "flags.List"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	if f.Status != "" && !validFlagStatus(f.Status) {
		return nil, apperr.Validation(op, "unknown status")
	}
	if f.Severity != "" && !models.ValidSeverity(f.Severity) {
		return nil, apperr.Validation(op, "unknown severity")
	}
	switch f.Source {
	case "", models.FlagSourceEvaluation, models.FlagSourceAnalysis, models.FlagSourceUserFeedback:
	default:
		return nil, apperr.Validation(op, "unknown source")
	}
	if f.Limit <= 0 || f.Limit > maxFlagList {
		f.Limit = maxFlagList
	}
	flags, err := s.db.ListFlags(ctx, f)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return flags, nil
}

type UpdateFlagInput struct {
	Status         string `json:"status"`
	ResolutionNote string `json:"resolutionNote"`
}

// Update moves a flag through review. Severity is never changed here.
func (s *FlagService) Update(ctx context.Context, p Principal, id string, in UpdateFlagInput) (*models.SessionFlag, error) {
	const op = "flags.Update"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	if !validFlagStatus(in.Status) {
		return nil, apperr.Validation(op, "status must be open, reviewed, resolved or dismissed")
	}
	note := strings.TrimSpace(in.ResolutionNote)
	if len(note) > maxFlagDetail {
		return nil, apperr.Validation(op, "resolution note too long")
	}

	flag, err := s.db.UpdateFlagStatus(ctx, id, in.Status, note)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound(op, "flag")
		}
		return nil, apperr.Internal(op, err)
	}
	s.log.Info("flag updated", "flag_id", id, "status", in.Status, "by", p.UserID)
	return flag, nil
}

func validFlagStatus(s string) bool {
	switch s {
	case models.FlagOpen, models.FlagReviewed, models.FlagResolved, models.FlagDismissed:
		return true
	}
	return false
}
