package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Rehearsal/internal/core/background"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/ingestion_engine"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

func newStore(t *testing.T) *db.DatabaseClient {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "services.db") + "?_foreign_keys=on&_busy_timeout=5000"
	c, err := db.Open(context.Background(), "sqlite3", dsn, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func addUser(t *testing.T, store db.DbClient, role string, accountID *string) Principal {
	t.Helper()
	u := &models.User{ID: uuid.NewString(), AccountID: accountID, Name: role, Role: role}
	require.NoError(t, store.CreateUser(context.Background(), u))
	p := Principal{Kind: PrincipalUser, UserID: u.ID, Role: role}
	if accountID != nil {
		p.AccountID = *accountID
	}
	return p
}

func addScenario(t *testing.T, store db.DbClient, createdBy string) *models.Scenario {
	t.Helper()
	sc := &models.Scenario{
		ID:               uuid.NewString(),
		CreatedBy:        createdBy,
		Title:            "Lost job",
		Prompt:           "You lost your job last week and feel hopeless.",
		EvaluatorContext: "Check for a direct suicide question.",
		Mode:             models.ModeChat,
		Skills:           []string{"rapport", "risk assessment"},
	}
	require.NoError(t, store.CreateScenario(context.Background(), sc))
	return sc
}

func addTurns(t *testing.T, store db.DbClient, sessionID string, n int) {
	t.Helper()
	turns := make([]models.TranscriptTurn, n)
	for i := range turns {
		role := models.TurnRoleAssistant
		if i%2 == 1 {
			role = models.TurnRoleUser
		}
		turns[i] = models.TranscriptTurn{Role: role, Content: "line"}
	}
	require.NoError(t, store.ReplaceTranscript(context.Background(), sessionID, 1, turns))
}

// stubLLM answers every call with reply or err and counts calls.
type stubLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
	last  [2]string
}

func (s *stubLLM) Generate(_ context.Context, system, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = [2]string{system, user}
	return s.reply, s.err
}

func (s *stubLLM) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// gateLLM blocks every caller until release is closed.
type gateLLM struct {
	reply   string
	arrived chan struct{}
	release chan struct{}
}

func (g *gateLLM) Generate(ctx context.Context, _, _ string) (string, error) {
	g.arrived <- struct{}{}
	select {
	case <-g.release:
		return g.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// taskQueue collects background tasks so tests run them explicitly.
type taskQueue struct {
	mu    sync.Mutex
	names []string
	tasks []background.Task
}

func (q *taskQueue) Submit(name string, task background.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	q.tasks = append(q.tasks, task)
	return true
}

func (q *taskQueue) runAll(t *testing.T) {
	t.Helper()
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		require.NoError(t, task(context.Background()))
	}
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemStorage() *memStorage { return &memStorage{objects: map[string][]byte{}} }

func (m *memStorage) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	if m.failPut {
		return "", errors.New("s3 down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "https://bucket.s3.test/" + key, nil
}

func (m *memStorage) DeleteFile(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) ExtractText(context.Context, []byte, string) (string, error) {
	return s.text, s.err
}

type recordingIngestor struct {
	jobs []ingestion_engine.ProcedureJob
}

func (r *recordingIngestor) Start(context.Context, int) {}

func (r *recordingIngestor) Enqueue(_ context.Context, job ingestion_engine.ProcedureJob) error {
	r.jobs = append(r.jobs, job)
	return nil
}
