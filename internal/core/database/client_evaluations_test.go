package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

func newEvaluation(gradedSessionID string, target models.EvaluationTarget) *models.Evaluation {
	score := 80.0
	e := &models.Evaluation{
		ID:              uuid.NewString(),
		GradedSessionID: gradedSessionID,
		Score:           &score,
		Feedback:        "Good rapport.",
		RawOutput:       "Score: 80/100\nGood rapport.",
		Model:           "test-model",
	}
	e.AssignmentID, e.SessionID = models.TargetColumns(target)
	return e
}

func TestExclusiveArcEnforcedByStorage(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sup := seedUser(t, c, models.RoleSupervisor)
	counselor := seedUser(t, c, models.RoleCounselor)
	sc := seedScenario(t, c, sup.ID, false)
	a := seedAssignment(t, c, sc.ID, counselor.ID, sup.ID)
	s := seedSession(t, c, counselor.ID)

	neither := newEvaluation(s.ID, nil)
	assert.ErrorIs(t, c.CreateEvaluation(ctx, neither, nil, nil), ErrCheckViolation)

	both := newEvaluation(s.ID, nil)
	both.AssignmentID, both.SessionID = &a.ID, &s.ID
	assert.ErrorIs(t, c.CreateEvaluation(ctx, both, nil, nil), ErrCheckViolation)

	var n int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM evaluations`).Scan(&n))
	assert.Zero(t, n)
}

func TestOneEvaluationPerSession(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	u := seedUser(t, c, models.RoleCounselor)
	s := seedSession(t, c, u.ID)
	target := models.SessionTarget{SessionID: s.ID}

	first := newEvaluation(s.ID, target)
	require.NoError(t, c.CreateEvaluation(ctx, first, nil, nil))

	second := newEvaluation(s.ID, target)
	flags := []models.SessionFlag{{
		ID: uuid.NewString(), SessionID: s.ID, Category: models.CategoryOther,
		Severity: models.SeverityLow, Source: models.FlagSourceEvaluation, Detail: "x",
	}}
	assert.ErrorIs(t, c.CreateEvaluation(ctx, second, flags, nil), ErrUniqueViolation)

	var n int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM evaluations WHERE session_id = $1`, s.ID).Scan(&n))
	assert.Equal(t, 1, n)

	stored, err := c.ListFlagsBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, stored, "flags of the losing insert are rolled back")

	got, err := c.GetEvaluationByTarget(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 80.0, *got.Score, 0.001)
}

func TestEvaluationCompletesAssignmentWithFlags(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sup := seedUser(t, c, models.RoleSupervisor)
	counselor := seedUser(t, c, models.RoleCounselor)
	sc := seedScenario(t, c, sup.ID, true)
	a := seedAssignment(t, c, sc.ID, counselor.ID, sup.ID)
	s := &models.Session{ID: uuid.NewString(), UserID: counselor.ID, AssignmentID: &a.ID, Mode: models.ModeChat}
	require.NoError(t, c.StartAssignmentSession(ctx, s))

	e := newEvaluation(s.ID, models.AssignmentTarget{AssignmentID: a.ID})
	flags := []models.SessionFlag{{
		ID: uuid.NewString(), SessionID: s.ID, Category: models.CategoryMissedRiskAssessment,
		Severity: models.SeverityHigh, Source: models.FlagSourceEvaluation, Detail: "No safety check.",
	}}
	require.NoError(t, c.CreateEvaluation(ctx, e, flags, &a.ID))

	got, err := c.GetAssignmentByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentCompleted, got.Status)

	stored, err := c.ListFlagsBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].EvaluationID)
	assert.Equal(t, e.ID, *stored[0].EvaluationID)

	deps, err := c.DeleteAssignment(ctx, a.ID)
	assert.ErrorIs(t, err, ErrHasDependents)
	assert.Equal(t, 1, deps.Evaluations)
}

func TestGuidanceEscalationCheck(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	u := seedUser(t, c, models.RoleCounselor)
	s := seedSession(t, c, u.ID)

	f := &models.SessionFlag{
		ID: uuid.NewString(), SessionID: s.ID, Category: models.CategoryAIGuidanceConcern,
		Severity: models.SeverityLow, Source: models.FlagSourceUserFeedback, Detail: "The caller gave advice.",
	}
	assert.ErrorIs(t, c.CreateFlag(ctx, f), ErrCheckViolation)

	f.Severity = models.SeverityCritical
	require.NoError(t, c.CreateFlag(ctx, f))

	updated, err := c.UpdateFlagStatus(ctx, f.ID, models.FlagResolved, "reviewed with the team")
	require.NoError(t, err)
	assert.Equal(t, models.FlagResolved, updated.Status)
	assert.Equal(t, models.SeverityCritical, updated.Severity)

	_, err = c.UpdateFlagStatus(ctx, uuid.NewString(), models.FlagResolved, "")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := c.ListFlags(ctx, FlagFilter{Status: models.FlagResolved, Severity: models.SeverityCritical})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecordAnalysisOncePerSession(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	u := seedUser(t, c, models.RoleCounselor)
	s := seedSession(t, c, u.ID)

	flag := func() []models.SessionFlag {
		return []models.SessionFlag{{
			ID: uuid.NewString(), SessionID: s.ID, Category: models.CategoryRoleplayInconsistent,
			Severity: models.SeverityMedium, Source: models.FlagSourceAnalysis, Detail: "Caller changed age.",
		}}
	}
	require.NoError(t, c.RecordAnalysis(ctx, s.ID, "mini", flag()))
	assert.ErrorIs(t, c.RecordAnalysis(ctx, s.ID, "mini", flag()), ErrUniqueViolation)

	done, err := c.HasAnalysis(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, done)

	stored, err := c.ListFlags(ctx, FlagFilter{SessionID: s.ID, Source: models.FlagSourceAnalysis})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRecordingUniquePerSession(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	u := seedUser(t, c, models.RoleCounselor)
	s := seedSession(t, c, u.ID)

	require.NoError(t, c.CreateRecording(ctx, &models.Recording{ID: uuid.NewString(), SessionID: s.ID, StorageURL: "s3://b/1"}))
	err := c.CreateRecording(ctx, &models.Recording{ID: uuid.NewString(), SessionID: s.ID, StorageURL: "s3://b/2"})
	assert.ErrorIs(t, err, ErrUniqueViolation)

	rec, err := c.GetRecordingBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3://b/1", rec.StorageURL)
}

func TestRetrievalUnsupportedOnSQLite(t *testing.T) {
	c := newTestClient(t)
	_, err := c.SearchReferenceChunks(context.Background(), "vs", []float32{0.1}, 3)
	assert.ErrorIs(t, err, ErrRetrievalUnsupported)
}
