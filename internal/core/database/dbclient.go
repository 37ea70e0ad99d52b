package db

import (
	"context"
	"time"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

// DbClient defines all persistence operations the services need. Multi-row
// invariants are enforced here through transactions and constraints.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	ListUsers(ctx context.Context, role string) ([]models.User, error)

	CreateAccount(ctx context.Context, acct *models.Account) error
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	SetAccountVectorStore(ctx context.Context, accountID, storeID string) (string, error)
	AppendProcedure(ctx context.Context, entry *models.ProcedureEntry) error
	ListProcedures(ctx context.Context, accountID string) ([]models.ProcedureEntry, error)

	CreateScenario(ctx context.Context, sc *models.Scenario) error
	GetScenarioByID(ctx context.Context, id string) (*models.Scenario, error)
	ListScenarios(ctx context.Context) ([]models.Scenario, error)
	UpdateScenario(ctx context.Context, sc *models.Scenario) error
	DeleteScenario(ctx context.Context, id string) (Dependents, error)

	CreateAssignment(ctx context.Context, a *models.Assignment) error
	FirstAssignmentForScenario(ctx context.Context, scenarioID string) (*models.Assignment, error)
	GetAssignmentByID(ctx context.Context, id string) (*models.Assignment, error)
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]models.Assignment, error)
	OpenAssignmentPairs(ctx context.Context, counselorIDs, scenarioIDs []string) (map[models.AssignmentPair]string, error)
	DeleteAssignment(ctx context.Context, id string) (Dependents, error)

	CreateSession(ctx context.Context, s *models.Session) error
	StartAssignmentSession(ctx context.Context, s *models.Session) error
	GetSessionByID(ctx context.Context, id string) (*models.Session, error)
	GetSessionByExternalRef(ctx context.Context, ref string) (*models.Session, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]models.Session, error)
	EndSession(ctx context.Context, id string, at time.Time) error

	ReplaceTranscript(ctx context.Context, sessionID string, attempt int, turns []models.TranscriptTurn) error
	AppendTurns(ctx context.Context, sessionID string, attempt int, turns []models.TranscriptTurn) ([]models.TranscriptTurn, error)
	ListTurns(ctx context.Context, sessionID string) ([]models.TranscriptTurn, error)

	CreateEvaluation(ctx context.Context, eval *models.Evaluation, flags []models.SessionFlag, completeAssignmentID *string) error
	GetEvaluationByTarget(ctx context.Context, target models.EvaluationTarget) (*models.Evaluation, error)
	GetEvaluationByID(ctx context.Context, id string) (*models.Evaluation, error)

	HasAnalysis(ctx context.Context, sessionID string) (bool, error)
	RecordAnalysis(ctx context.Context, sessionID, model string, flags []models.SessionFlag) error

	CreateFlag(ctx context.Context, flag *models.SessionFlag) error
	GetFlagByID(ctx context.Context, id string) (*models.SessionFlag, error)
	ListFlags(ctx context.Context, f FlagFilter) ([]models.SessionFlag, error)
	ListFlagsBySession(ctx context.Context, sessionID string) ([]models.SessionFlag, error)
	UpdateFlagStatus(ctx context.Context, id, status, note string) (*models.SessionFlag, error)

	CreateRecording(ctx context.Context, rec *models.Recording) error
	GetRecordingBySession(ctx context.Context, sessionID string) (*models.Recording, error)

	InsertReferenceChunks(ctx context.Context, chunks []models.ReferenceChunk) error
	SearchReferenceChunks(ctx context.Context, vectorStoreID string, queryVec []float32, limit int) ([]models.ReferenceChunk, error)

	Ping(ctx context.Context) error
	Close() error
}

// Dependents counts the rows that block a delete.
type Dependents struct {
	Assignments int `json:"assignments,omitempty"`
	Sessions    int `json:"sessions,omitempty"`
	Evaluations int `json:"evaluations,omitempty"`
}

func (d Dependents) Total() int { return d.Assignments + d.Sessions + d.Evaluations }

type AssignmentFilter struct {
	CounselorID string
	Status      string
}

type FlagFilter struct {
	Status    string
	Severity  string
	Source    string
	SessionID string
	Limit     int
}
