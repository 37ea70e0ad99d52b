package models

import (
	"time"
)

// Roles a User can hold.
const (
	RoleCounselor  = "counselor"
	RoleSupervisor = "supervisor"
)

// Practice modes shared by Scenario and Session.
const (
	ModePhone = "phone"
	ModeChat  = "chat"
)

// Assignment statuses. completed is terminal.
const (
	AssignmentPending    = "pending"
	AssignmentInProgress = "in_progress"
	AssignmentCompleted  = "completed"
)

// Transcript roles.
const (
	TurnRoleUser      = "user"
	TurnRoleAssistant = "assistant"
)

// User is a counselor or supervisor. Identity never changes after provisioning.
type User struct {
	ID         string    `db:"id" json:"id"`
	AccountID  *string   `db:"account_id" json:"account_id,omitempty"`
	Name       string    `db:"name" json:"name"`
	Role       string    `db:"role" json:"role"`
	ExternalID *string   `db:"external_id" json:"external_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Account groups users and scenarios of one organization.
type Account struct {
	ID               string           `db:"id" json:"id"`
	Name             string           `db:"name" json:"name"`
	VectorStoreID    *string          `db:"vector_store_id" json:"vector_store_id,omitempty"`
	ProcedureHistory []ProcedureEntry `db:"-" json:"procedure_history"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// ProcedureEntry is one append-only record of an uploaded reference document.
type ProcedureEntry struct {
	ID         string    `db:"id" json:"id"`
	AccountID  string    `db:"account_id" json:"account_id"`
	FileName   string    `db:"file_name" json:"file_name"`
	StorageURL string    `db:"storage_url" json:"storage_url"`
	UploadedAt time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// ReferenceChunk is one embedded slice of a procedure document.
type ReferenceChunk struct {
	ID            string    `db:"id" json:"id"`
	VectorStoreID string    `db:"vector_store_id" json:"vector_store_id"`
	ProcedureID   string    `db:"procedure_id" json:"procedure_id"`
	Position      int       `db:"position" json:"position"`
	Text          string    `db:"text" json:"text"`
	Embedding     []float32 `db:"embedding" json:"-"`
	TokenCount    int       `db:"token_count" json:"token_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Scenario is a roleplay prompt a counselor practices against.
type Scenario struct {
	ID               string    `db:"id" json:"id"`
	AccountID        *string   `db:"account_id" json:"account_id,omitempty"`
	CreatedBy        string    `db:"created_by" json:"created_by"`
	Title            string    `db:"title" json:"title"`
	Prompt           string    `db:"prompt" json:"prompt"`
	EvaluatorContext string    `db:"evaluator_context" json:"evaluator_context,omitempty"`
	Mode             string    `db:"mode" json:"mode"`
	Category         string    `db:"category" json:"category,omitempty"`
	Skills           []string  `db:"skills" json:"skills"`
	IsOneTime        bool      `db:"is_one_time" json:"is_one_time"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Assignment binds one scenario to one counselor.
type Assignment struct {
	ID          string     `db:"id" json:"id"`
	ScenarioID  string     `db:"scenario_id" json:"scenario_id"`
	CounselorID string     `db:"counselor_id" json:"counselor_id"`
	AssignedBy  string     `db:"assigned_by" json:"assigned_by"`
	Status      string     `db:"status" json:"status"`
	DueDate     *time.Time `db:"due_date" json:"due_date,omitempty"`
	SessionID   *string    `db:"session_id" json:"session_id,omitempty"`
	OneTime     bool       `db:"one_time" json:"one_time"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// AssignmentPair identifies the (counselor, scenario) slot that may hold at
// most one open assignment.
type AssignmentPair struct {
	CounselorID string `json:"counselor_id"`
	ScenarioID  string `json:"scenario_id"`
}

// Session is one practice attempt. A nil AssignmentID means free practice.
type Session struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	AssignmentID *string    `db:"assignment_id" json:"assignment_id,omitempty"`
	ScenarioID   *string    `db:"scenario_id" json:"scenario_id,omitempty"`
	Mode         string     `db:"mode" json:"mode"`
	ExternalRef  *string    `db:"external_ref" json:"external_ref,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	EndedAt      *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// Active reports whether the session still accepts turns.
func (s *Session) Active() bool { return s.EndedAt == nil }

// TranscriptTurn is one utterance. TurnIndex is contiguous within (SessionID, Attempt).
type TranscriptTurn struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Attempt   int       `db:"attempt" json:"attempt"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	TurnIndex int       `db:"turn_index" json:"turn_index"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Recording references the audio of a voice session.
type Recording struct {
	ID         string    `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	StorageURL string    `db:"storage_url" json:"storage_url"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Evaluation is the graded result of a session. Exactly one of AssignmentID
// and SessionID is set; GradedSessionID always names the transcript that was graded.
type Evaluation struct {
	ID              string    `db:"id" json:"id"`
	AssignmentID    *string   `db:"assignment_id" json:"assignment_id,omitempty"`
	SessionID       *string   `db:"session_id" json:"session_id,omitempty"`
	GradedSessionID string    `db:"graded_session_id" json:"graded_session_id"`
	Score           *float64  `db:"score" json:"score,omitempty"`
	Feedback        string    `db:"feedback" json:"feedback"`
	RawOutput       string    `db:"raw_output" json:"-"`
	UsedRetrieval   bool      `db:"used_retrieval" json:"used_retrieval"`
	Model           string    `db:"model" json:"model"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Target returns the parent the evaluation hangs off, or nil when the row
// breaks the exclusive arc.
func (e *Evaluation) Target() EvaluationTarget {
	switch {
	case e.AssignmentID != nil && e.SessionID == nil:
		return AssignmentTarget{AssignmentID: *e.AssignmentID}
	case e.SessionID != nil && e.AssignmentID == nil:
		return SessionTarget{SessionID: *e.SessionID}
	default:
		return nil
	}
}

// EvaluationTarget is either AssignmentTarget or SessionTarget.
type EvaluationTarget interface {
	columns() (assignmentID, sessionID *string)
}

// AssignmentTarget grades the latest attempt of an assignment.
type AssignmentTarget struct{ AssignmentID string }

// SessionTarget grades a free-practice session.
type SessionTarget struct{ SessionID string }

func (t AssignmentTarget) columns() (*string, *string) { return &t.AssignmentID, nil }
func (t SessionTarget) columns() (*string, *string)    { return nil, &t.SessionID }

// TargetColumns maps a target onto the two nullable evaluation columns.
func TargetColumns(t EvaluationTarget) (assignmentID, sessionID *string) {
	if t == nil {
		return nil, nil
	}
	return t.columns()
}

// TargetFor picks the evaluation parent for a session.
func TargetFor(s *Session) EvaluationTarget {
	if s.AssignmentID != nil {
		return AssignmentTarget{AssignmentID: *s.AssignmentID}
	}
	return SessionTarget{SessionID: s.ID}
}

// Flag sources.
const (
	FlagSourceEvaluation   = "evaluation"
	FlagSourceAnalysis     = "analysis"
	FlagSourceUserFeedback = "user_feedback"
)

// Flag severities, lowest first.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Flag review statuses.
const (
	FlagOpen      = "open"
	FlagReviewed  = "reviewed"
	FlagResolved  = "resolved"
	FlagDismissed = "dismissed"
)

// Flag categories.
const (
	CategoryAIGuidanceConcern    = "ai_guidance_concern"
	CategoryMissedRiskAssessment = "missed_risk_assessment"
	CategoryHarmfulResponse      = "harmful_response"
	CategoryPolicyViolation      = "policy_violation"
	CategoryRoleplayInconsistent = "roleplay_inconsistency"
	CategoryTechnicalIssue       = "technical_issue"
	CategoryOther                = "other"
)

var flagCategories = map[string]struct{}{
	CategoryAIGuidanceConcern:    {},
	CategoryMissedRiskAssessment: {},
	CategoryHarmfulResponse:      {},
	CategoryPolicyViolation:      {},
	CategoryRoleplayInconsistent: {},
	CategoryTechnicalIssue:       {},
	CategoryOther:                {},
}

var severityRank = map[string]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// ValidFlagCategory reports whether c is a known category.
func ValidFlagCategory(c string) bool {
	_, ok := flagCategories[c]
	return ok
}

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s string) bool {
	_, ok := severityRank[s]
	return ok
}

// SessionFlag is a safety or consistency concern attached to a session.
type SessionFlag struct {
	ID             string    `db:"id" json:"id"`
	SessionID      string    `db:"session_id" json:"session_id"`
	EvaluationID   *string   `db:"evaluation_id" json:"evaluation_id,omitempty"`
	Category       string    `db:"category" json:"category"`
	Severity       string    `db:"severity" json:"severity"`
	Source         string    `db:"source" json:"source"`
	Detail         string    `db:"detail" json:"detail"`
	Status         string    `db:"status" json:"status"`
	ResolutionNote string    `db:"resolution_note" json:"resolution_note,omitempty"`
	CreatedBy      *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Escalated reports whether flags of this category and source are always
// critical: guidance concerns raised by users.
func Escalated(category, source string) bool {
	return category == CategoryAIGuidanceConcern && source == FlagSourceUserFeedback
}

// EffectiveSeverity applies the write-time escalation rule.
func EffectiveSeverity(category, source, requested string) string {
	if Escalated(category, source) {
		return SeverityCritical
	}
	if !ValidSeverity(requested) {
		return SeverityMedium
	}
	return requested
}
