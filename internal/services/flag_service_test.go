package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/core/ratelimit"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

func flagFixture(t *testing.T, perHour int) (*FlagService, *db.DatabaseClient, Principal, *models.Session) {
	store := newStore(t)
	svc := NewFlagService(store, ratelimit.NewInMemory(), perHour, logger.NewNop())
	p := addUser(t, store, models.RoleCounselor, nil)
	s := &models.Session{ID: uuid.NewString(), UserID: p.UserID, Mode: models.ModeChat}
	require.NoError(t, store.CreateSession(context.Background(), s))
	return svc, store, p, s
}

func TestSubmitEscalatesGuidanceConcern(t *testing.T) {
	ctx := context.Background()
	svc, _, p, s := flagFixture(t, 10)

	flag, err := svc.Submit(ctx, p, s.ID, SubmitFlagInput{
		Category: models.CategoryAIGuidanceConcern,
		Severity: models.SeverityLow,
		Detail:   "The caller was told to stop taking medication.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, flag.Severity)
	assert.Equal(t, models.FlagSourceUserFeedback, flag.Source)
	assert.Equal(t, models.FlagOpen, flag.Status)
	require.NotNil(t, flag.CreatedBy)
	assert.Equal(t, p.UserID, *flag.CreatedBy)

	bogus, err := svc.Submit(ctx, p, s.ID, SubmitFlagInput{
		Category: models.CategoryAIGuidanceConcern,
		Severity: "urgent",
		Detail:   "The caller was promised a callback that never exists.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, bogus.Severity)

	other, err := svc.Submit(ctx, p, s.ID, SubmitFlagInput{Category: models.CategoryTechnicalIssue, Detail: "Audio cut out."})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMedium, other.Severity)
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	svc, store, p, s := flagFixture(t, 10)

	_, err := svc.Submit(ctx, p, s.ID, SubmitFlagInput{Category: "rude", Detail: "x"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, err = svc.Submit(ctx, p, s.ID, SubmitFlagInput{Category: models.CategoryOther, Severity: "extreme", Detail: "x"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, err = svc.Submit(ctx, p, s.ID, SubmitFlagInput{Category: models.CategoryOther, Detail: "  "})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	stranger := addUser(t, store, models.RoleCounselor, nil)
	_, err = svc.Submit(ctx, stranger, s.ID, SubmitFlagInput{Category: models.CategoryOther, Detail: "x"})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	_, err = svc.Submit(ctx, Principal{Kind: PrincipalInternal}, s.ID, SubmitFlagInput{Category: models.CategoryOther, Detail: "x"})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestSubmitRateLimitedPerSession(t *testing.T) {
	ctx := context.Background()
	svc, _, p, s := flagFixture(t, 3)
	in := SubmitFlagInput{Category: models.CategoryOther, Detail: "Something felt off."}

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(ctx, p, s.ID, in)
		require.NoError(t, err, "call %d", i+1)
	}
	_, err := svc.Submit(ctx, p, s.ID, in)
	require.True(t, apperr.IsCode(err, apperr.CodeRateLimited))
	assert.Positive(t, apperr.As(err).RetryAfter)

	// invalid input never spends budget
	_, err = svc.Submit(ctx, p, s.ID, SubmitFlagInput{Category: "nope", Detail: "x"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestFlagReviewQueue(t *testing.T) {
	ctx := context.Background()
	svc, store, p, s := flagFixture(t, 10)
	sup := addUser(t, store, models.RoleSupervisor, nil)

	flag, err := svc.Submit(ctx, p, s.ID, SubmitFlagInput{Category: models.CategoryAIGuidanceConcern, Detail: "Unsafe advice."})
	require.NoError(t, err)

	_, err = svc.List(ctx, p, db.FlagFilter{})
	assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))
	_, err = svc.List(ctx, sup, db.FlagFilter{Status: "pending"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	open, err := svc.List(ctx, sup, db.FlagFilter{Status: models.FlagOpen, Severity: models.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, flag.ID, open[0].ID)

	_, err = svc.Update(ctx, p, flag.ID, UpdateFlagInput{Status: models.FlagResolved})
	assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))
	_, err = svc.Update(ctx, sup, flag.ID, UpdateFlagInput{Status: "closed"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, err = svc.Update(ctx, sup, uuid.NewString(), UpdateFlagInput{Status: models.FlagResolved})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	updated, err := svc.Update(ctx, sup, flag.ID, UpdateFlagInput{Status: models.FlagResolved, ResolutionNote: " Coached counselor. "})
	require.NoError(t, err)
	assert.Equal(t, models.FlagResolved, updated.Status)
	assert.Equal(t, "Coached counselor.", updated.ResolutionNote)
	assert.Equal(t, models.SeverityCritical, updated.Severity)

	open, err = svc.List(ctx, sup, db.FlagFilter{Status: models.FlagOpen})
	require.NoError(t, err)
	assert.Empty(t, open)
}
