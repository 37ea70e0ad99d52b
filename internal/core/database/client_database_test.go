package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

func TestBootstrapIsRepeatable(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, EnsureBootstrapped(context.Background(), c.db, "sqlite3", 0))

	var n int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM rehearsal_meta`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSplitStatementsSkipsComments(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- note\nCREATE INDEX i ON a (x);\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a (x)", stmts[1])
}

func TestUsersAndProcedureHistory(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	acct := &models.Account{ID: uuid.NewString(), Name: "Helpline North"}
	require.NoError(t, c.CreateAccount(ctx, acct))

	u := &models.User{ID: uuid.NewString(), AccountID: &acct.ID, Name: "Sam", Role: models.RoleCounselor, ExternalID: strPtr("ext-1")}
	require.NoError(t, c.CreateUser(ctx, u))

	dup := &models.User{ID: uuid.NewString(), Name: "Other", Role: models.RoleCounselor, ExternalID: strPtr("ext-1")}
	assert.ErrorIs(t, c.CreateUser(ctx, dup), ErrUniqueViolation)

	bad := &models.User{ID: uuid.NewString(), Name: "Nobody", Role: "admin"}
	assert.ErrorIs(t, c.CreateUser(ctx, bad), ErrCheckViolation)

	got, err := c.GetUserByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)

	missing, err := c.GetUserByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	storeID, err := c.SetAccountVectorStore(ctx, acct.ID, "vs-1")
	require.NoError(t, err)
	assert.Equal(t, "vs-1", storeID)
	storeID, err = c.SetAccountVectorStore(ctx, acct.ID, "vs-2")
	require.NoError(t, err)
	assert.Equal(t, "vs-1", storeID, "an existing store id is kept")

	for i := 0; i < 2; i++ {
		require.NoError(t, c.AppendProcedure(ctx, &models.ProcedureEntry{
			ID:         uuid.NewString(),
			AccountID:  acct.ID,
			FileName:   fmt.Sprintf("protocol-%d.pdf", i),
			StorageURL: "s3://bucket/key",
			UploadedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}
	loaded, err := c.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, loaded.ProcedureHistory, 2)
	assert.Equal(t, "protocol-0.pdf", loaded.ProcedureHistory[0].FileName)
}

func TestListScenariosHidesOneTime(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sup := seedUser(t, c, models.RoleSupervisor)

	reusable := seedScenario(t, c, sup.ID, false)
	seedScenario(t, c, sup.ID, true)

	list, err := c.ListScenarios(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, reusable.ID, list[0].ID)
	assert.Equal(t, []string{"rapport", "risk assessment"}, list[0].Skills)
}

func TestDeleteScenarioBlockedByAssignment(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sup := seedUser(t, c, models.RoleSupervisor)
	counselor := seedUser(t, c, models.RoleCounselor)
	sc := seedScenario(t, c, sup.ID, false)
	seedAssignment(t, c, sc.ID, counselor.ID, sup.ID)

	deps, err := c.DeleteScenario(ctx, sc.ID)
	assert.ErrorIs(t, err, ErrHasDependents)
	assert.Equal(t, 1, deps.Assignments)

	still, err := c.GetScenarioByID(ctx, sc.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)

	free := seedScenario(t, c, sup.ID, false)
	_, err = c.DeleteScenario(ctx, free.ID)
	require.NoError(t, err)
	_, err = c.DeleteScenario(ctx, free.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenAssignmentUniqueness(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sup := seedUser(t, c, models.RoleSupervisor)
	c1 := seedUser(t, c, models.RoleCounselor)
	c2 := seedUser(t, c, models.RoleCounselor)
	sc := seedScenario(t, c, sup.ID, false)

	first := seedAssignment(t, c, sc.ID, c1.ID, sup.ID)

	dup := &models.Assignment{ID: uuid.NewString(), ScenarioID: sc.ID, CounselorID: c1.ID, AssignedBy: sup.ID}
	assert.ErrorIs(t, c.CreateAssignment(ctx, dup), ErrUniqueViolation)

	open, err := c.OpenAssignmentPairs(ctx, []string{c1.ID, c2.ID}, []string{sc.ID})
	require.NoError(t, err)
	assert.Equal(t, map[models.AssignmentPair]string{{CounselorID: c1.ID, ScenarioID: sc.ID}: first.ID}, open)

	// a completed assignment frees the pair
	_, err = c.db.Exec(`UPDATE assignments SET status = 'completed' WHERE id = $1`, first.ID)
	require.NoError(t, err)
	require.NoError(t, c.CreateAssignment(ctx, dup))
}

func TestOneTimeScenarioHoldsOneAssignment(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sup := seedUser(t, c, models.RoleSupervisor)
	c1 := seedUser(t, c, models.RoleCounselor)
	c2 := seedUser(t, c, models.RoleCounselor)
	sc := seedScenario(t, c, sup.ID, true)

	none, err := c.FirstAssignmentForScenario(ctx, sc.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	first := &models.Assignment{ID: uuid.NewString(), ScenarioID: sc.ID, CounselorID: c1.ID, AssignedBy: sup.ID, OneTime: true}
	require.NoError(t, c.CreateAssignment(ctx, first))

	got, err := c.FirstAssignmentForScenario(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.OneTime)

	second := &models.Assignment{ID: uuid.NewString(), ScenarioID: sc.ID, CounselorID: c2.ID, AssignedBy: sup.ID, OneTime: true}
	assert.ErrorIs(t, c.CreateAssignment(ctx, second), ErrUniqueViolation)

	// completing the assignment does not free a one-time scenario
	_, err = c.db.Exec(`UPDATE assignments SET status = 'completed' WHERE id = $1`, first.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, c.CreateAssignment(ctx, second), ErrUniqueViolation)
}

func TestStartAssignmentSession(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	sup := seedUser(t, c, models.RoleSupervisor)
	counselor := seedUser(t, c, models.RoleCounselor)
	sc := seedScenario(t, c, sup.ID, false)
	a := seedAssignment(t, c, sc.ID, counselor.ID, sup.ID)

	s := &models.Session{ID: uuid.NewString(), UserID: counselor.ID, AssignmentID: &a.ID, ScenarioID: &sc.ID, Mode: models.ModeChat}
	require.NoError(t, c.StartAssignmentSession(ctx, s))

	got, err := c.GetAssignmentByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentInProgress, got.Status)
	require.NotNil(t, got.SessionID)
	assert.Equal(t, s.ID, *got.SessionID)

	deps, err := c.DeleteAssignment(ctx, a.ID)
	assert.ErrorIs(t, err, ErrHasDependents)
	assert.Equal(t, 1, deps.Sessions)

	_, err = c.db.Exec(`UPDATE assignments SET status = 'completed' WHERE id = $1`, a.ID)
	require.NoError(t, err)

	late := &models.Session{ID: uuid.NewString(), UserID: counselor.ID, AssignmentID: &a.ID, Mode: models.ModeChat}
	assert.ErrorIs(t, c.StartAssignmentSession(ctx, late), ErrAssignmentClosed)
	none, err := c.GetSessionByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Nil(t, none, "the session insert is rolled back")
}

func TestReplaceTranscriptIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	u := seedUser(t, c, models.RoleCounselor)
	s := seedSession(t, c, u.ID)

	batch := func() []models.TranscriptTurn {
		return []models.TranscriptTurn{
			{Role: models.TurnRoleAssistant, Content: "Hello, you've reached the line."},
			{Role: models.TurnRoleUser, Content: "I don't know who else to call."},
			{Role: models.TurnRoleAssistant, Content: "I'm glad you called."},
		}
	}

	require.NoError(t, c.ReplaceTranscript(ctx, s.ID, 1, batch()))
	require.NoError(t, c.ReplaceTranscript(ctx, s.ID, 1, batch()))

	var n int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM transcript_turns WHERE session_id = $1 AND attempt = 1`, s.ID).Scan(&n))
	assert.Equal(t, 3, n)

	turns, err := c.ListTurns(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, turn := range turns {
		assert.Equal(t, i, turn.TurnIndex)
	}

	// a shorter correction replaces the attempt entirely
	require.NoError(t, c.ReplaceTranscript(ctx, s.ID, 1, batch()[:2]))
	turns, err = c.ListTurns(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	// the latest attempt wins when listing
	require.NoError(t, c.ReplaceTranscript(ctx, s.ID, 2, batch()[:1]))
	turns, err = c.ListTurns(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, 2, turns[0].Attempt)
}

func TestAppendTurnsContinuesIndex(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	u := seedUser(t, c, models.RoleCounselor)
	s := seedSession(t, c, u.ID)

	_, err := c.AppendTurns(ctx, s.ID, 1, []models.TranscriptTurn{{Role: models.TurnRoleUser, Content: "hi"}})
	require.NoError(t, err)
	added, err := c.AppendTurns(ctx, s.ID, 1, []models.TranscriptTurn{
		{Role: models.TurnRoleAssistant, Content: "hello"},
		{Role: models.TurnRoleUser, Content: "it's been a rough week"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added[0].TurnIndex)
	assert.Equal(t, 2, added[1].TurnIndex)
}

func TestEndSessionOnce(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	u := seedUser(t, c, models.RoleCounselor)
	s := seedSession(t, c, u.ID)

	first := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, c.EndSession(ctx, s.ID, first))
	require.NoError(t, c.EndSession(ctx, s.ID, first.Add(time.Hour)))

	got, err := c.GetSessionByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, first.Equal(*got.EndedAt))

	assert.ErrorIs(t, c.EndSession(ctx, uuid.NewString(), first), ErrNotFound)
}

func TestDuplicateExternalRef(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	u := seedUser(t, c, models.RoleCounselor)

	ref := "room-42"
	require.NoError(t, c.CreateSession(ctx, &models.Session{ID: uuid.NewString(), UserID: u.ID, Mode: models.ModePhone, ExternalRef: &ref}))
	err := c.CreateSession(ctx, &models.Session{ID: uuid.NewString(), UserID: u.ID, Mode: models.ModePhone, ExternalRef: &ref})
	assert.ErrorIs(t, err, ErrUniqueViolation)
	assert.True(t, errors.Is(err, ErrUniqueViolation))
}
