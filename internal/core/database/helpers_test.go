package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

func newTestClient(t *testing.T) *DatabaseClient {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "rehearsal.db") + "?_foreign_keys=on&_busy_timeout=5000"
	c, err := Open(context.Background(), "sqlite3", dsn, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func seedUser(t *testing.T, c *DatabaseClient, role string) *models.User {
	t.Helper()
	u := &models.User{ID: uuid.NewString(), Name: role + "-" + uuid.NewString()[:8], Role: role}
	require.NoError(t, c.CreateUser(context.Background(), u))
	return u
}

func seedScenario(t *testing.T, c *DatabaseClient, createdBy string, oneTime bool) *models.Scenario {
	t.Helper()
	sc := &models.Scenario{
		ID:        uuid.NewString(),
		CreatedBy: createdBy,
		Title:     "Caller in distress",
		Prompt:    "You are a caller who lost their job.",
		Mode:      models.ModeChat,
		Skills:    []string{"rapport", "risk assessment"},
		IsOneTime: oneTime,
	}
	require.NoError(t, c.CreateScenario(context.Background(), sc))
	return sc
}

func seedAssignment(t *testing.T, c *DatabaseClient, scenarioID, counselorID, supervisorID string) *models.Assignment {
	t.Helper()
	a := &models.Assignment{
		ID:          uuid.NewString(),
		ScenarioID:  scenarioID,
		CounselorID: counselorID,
		AssignedBy:  supervisorID,
	}
	require.NoError(t, c.CreateAssignment(context.Background(), a))
	return a
}

func seedSession(t *testing.T, c *DatabaseClient, userID string) *models.Session {
	t.Helper()
	s := &models.Session{ID: uuid.NewString(), UserID: userID, Mode: models.ModeChat}
	require.NoError(t, c.CreateSession(context.Background(), s))
	return s
}

func strPtr(s string) *string { return &s }
