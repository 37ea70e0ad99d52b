package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Rehearsal/internal/core"
	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	"github.com/markdave123-py/Rehearsal/internal/core/background"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	objectclient "github.com/markdave123-py/Rehearsal/internal/core/object-client"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

const (
	chatAttempt       = 1
	maxMessageLength  = 4000
	maxTranscriptSize = 2000
)

type SessionService struct {
	db       db.DbClient
	roleplay core.LLMProvider
	storage  core.ObjectClient
	runner   background.Runner
	log      *logger.Logger
}

func NewSessionService(store db.DbClient, roleplay core.LLMProvider, storage core.ObjectClient, runner background.Runner, log *logger.Logger) *SessionService {
	return &SessionService{db: store, roleplay: roleplay, storage: storage, runner: runner, log: log.With("component", "sessions")}
}

type CreateSessionInput struct {
	Mode         string  `json:"mode"`
	AssignmentID *string `json:"assignmentId"`
	ScenarioID   *string `json:"scenarioId"`
}

// Create starts a session for the calling user.
func (s *SessionService) Create(ctx context.Context, p Principal, in CreateSessionInput) (*models.Session, error) {
	const op = "sessions.Create"
	if p.Kind != PrincipalUser {
		return nil, apperr.Forbidden(op)
	}
	return s.start(ctx, op, p.UserID, trimmedPtr(in.AssignmentID), trimmedPtr(in.ScenarioID), in.Mode, nil)
}

type InternalSessionInput struct {
	UserID       string  `json:"userId"`
	AssignmentID *string `json:"assignmentId"`
	ScenarioID   *string `json:"scenarioId"`
	RoomName     string  `json:"roomName"`
	Mode         string  `json:"mode"`
}

// CreateInternal is called by the voice agent once per room. Replays with the
// same room name return the session created the first time; created reports
// whether this call made it.
func (s *SessionService) CreateInternal(ctx context.Context, in InternalSessionInput) (sess *models.Session, created bool, err error) {
	const op = "sessions.CreateInternal"
	room := strings.TrimSpace(in.RoomName)
	userID := strings.TrimSpace(in.UserID)
	if room == "" || userID == "" {
		return nil, false, apperr.Validation(op, "userId and roomName are required")
	}
	if in.Mode == "" {
		in.Mode = models.ModePhone
	}

	if existing, err := s.replay(ctx, op, room, userID); existing != nil || err != nil {
		return existing, false, err
	}

	u, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, false, apperr.Internal(op, err)
	}
	if u == nil {
		return nil, false, apperr.NotFound(op, "user")
	}

	sess, err = s.start(ctx, op, userID, trimmedPtr(in.AssignmentID), trimmedPtr(in.ScenarioID), in.Mode, &room)
	if err != nil {
		// Two deliveries of the same callback raced; the loser reads the winner.
		if apperr.IsCode(err, apperr.CodeConflict) {
			if existing, rerr := s.replay(ctx, op, room, userID); existing != nil || rerr != nil {
				return existing, false, rerr
			}
		}
		return nil, false, err
	}
	return sess, true, nil
}

func (s *SessionService) replay(ctx context.Context, op, room, userID string) (*models.Session, error) {
	existing, err := s.db.GetSessionByExternalRef(ctx, room)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != userID {
		return nil, apperr.Conflict(op, "room already bound to another user")
	}
	return existing, nil
}

func (s *SessionService) start(ctx context.Context, op, userID string, assignmentID, scenarioID *string, mode string, ref *string) (*models.Session, error) {
	sess := &models.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		ScenarioID:  scenarioID,
		ExternalRef: ref,
	}

	var sc *models.Scenario
	if assignmentID != nil {
		a, err := s.db.GetAssignmentByID(ctx, *assignmentID)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if a == nil || a.CounselorID != userID {
			return nil, apperr.NotFound(op, "assignment")
		}
		if a.Status == models.AssignmentCompleted {
			return nil, apperr.Conflict(op, "assignment already completed")
		}
		sess.AssignmentID = &a.ID
		sess.ScenarioID = &a.ScenarioID
	}
	if sess.ScenarioID != nil {
		var err error
		if sc, err = s.db.GetScenarioByID(ctx, *sess.ScenarioID); err != nil {
			return nil, apperr.Internal(op, err)
		}
		if sc == nil || (sc.IsOneTime && sess.AssignmentID == nil) {
			return nil, apperr.NotFound(op, "scenario")
		}
	}

	if mode == "" && sc != nil {
		mode = sc.Mode
	}
	if mode == "" {
		mode = models.ModeChat
	}
	if !validMode(mode) {
		return nil, apperr.Validation(op, "mode must be phone or chat")
	}
	sess.Mode = mode

	var err error
	if sess.AssignmentID != nil {
		err = s.db.StartAssignmentSession(ctx, sess)
	} else {
		err = s.db.CreateSession(ctx, sess)
	}
	switch {
	case err == nil:
	case errors.Is(err, db.ErrAssignmentClosed):
		return nil, apperr.Conflict(op, "assignment already completed")
	case errors.Is(err, db.ErrUniqueViolation):
		return nil, apperr.Conflict(op, "session already exists for this room")
	default:
		return nil, apperr.Internal(op, err)
	}

	s.log.Info("session started", "session_id", sess.ID, "user_id", userID, "mode", sess.Mode)
	return sess, nil
}

// TurnInput is one utterance as delivered by the voice agent.
type TurnInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TranscriptInput struct {
	Attempt int         `json:"attempt"`
	Turns   []TurnInput `json:"turns"`
	End     bool        `json:"end"`
}

// ReplaceTranscript overwrites one attempt of a session's transcript. Sending
// the same batch twice leaves the same rows.
func (s *SessionService) ReplaceTranscript(ctx context.Context, sessionID string, in TranscriptInput) (int, error) {
	const op = "sessions.ReplaceTranscript"
	if in.Attempt == 0 {
		in.Attempt = 1
	}
	if in.Attempt < 0 {
		return 0, apperr.Validation(op, "attempt must be positive")
	}
	if len(in.Turns) > maxTranscriptSize {
		return 0, apperr.Validation(op, "transcript too long")
	}

	turns := make([]models.TranscriptTurn, 0, len(in.Turns))
	for i, t := range in.Turns {
		if t.Role != models.TurnRoleUser && t.Role != models.TurnRoleAssistant {
			return 0, apperr.Validation(op, fmt.Sprintf("turn %d: role must be user or assistant", i))
		}
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		turns = append(turns, models.TranscriptTurn{Role: t.Role, Content: content})
	}

	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return 0, err
	}
	if err := s.db.ReplaceTranscript(ctx, sess.ID, in.Attempt, turns); err != nil {
		return 0, apperr.Internal(op, err)
	}
	if in.End {
		if err := s.db.EndSession(ctx, sess.ID, time.Now().UTC()); err != nil {
			return 0, apperr.Internal(op, err)
		}
	}
	return len(turns), nil
}

// End marks the session ended. Ending twice keeps the first timestamp.
func (s *SessionService) End(ctx context.Context, p Principal, sessionID string) (*models.Session, error) {
	const op = "sessions.End"
	sess, err := s.loadFor(ctx, op, p, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.db.EndSession(ctx, sess.ID, time.Now().UTC()); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound(op, "session")
		}
		return nil, apperr.Internal(op, err)
	}
	return s.load(ctx, op, sess.ID)
}

// SendMessage appends the counselor's message and the simulated caller's
// reply to a chat session.
func (s *SessionService) SendMessage(ctx context.Context, p Principal, sessionID, content string) ([]models.TranscriptTurn, error) {
	const op = "sessions.SendMessage"
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation(op, "content is required")
	}
	if len(content) > maxMessageLength {
		return nil, apperr.Validation(op, "message too long")
	}

	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if p.Kind != PrincipalUser || sess.UserID != p.UserID {
		return nil, apperr.NotFound(op, "session")
	}
	if sess.Mode != models.ModeChat {
		return nil, apperr.Validation(op, "messages can only be sent to chat sessions")
	}
	if !sess.Active() {
		return nil, apperr.Conflict(op, "session has ended")
	}

	added, err := s.appendTurn(ctx, op, sess.ID, models.TurnRoleUser, content)
	if err != nil {
		return nil, err
	}

	var sc *models.Scenario
	if sess.ScenarioID != nil {
		if sc, err = s.db.GetScenarioByID(ctx, *sess.ScenarioID); err != nil {
			return nil, apperr.Internal(op, err)
		}
	}
	history, err := s.db.ListTurns(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	system, user := roleplayPrompts(sc, history)
	reply, err := s.roleplay.Generate(ctx, system, user)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, apperr.Upstream(op, errors.New("empty roleplay reply"))
	}

	callerTurn, err := s.appendTurn(ctx, op, sess.ID, models.TurnRoleAssistant, reply)
	if err != nil {
		return nil, err
	}
	return []models.TranscriptTurn{*added, *callerTurn}, nil
}

func (s *SessionService) appendTurn(ctx context.Context, op, sessionID, role, content string) (*models.TranscriptTurn, error) {
	added, err := s.db.AppendTurns(ctx, sessionID, chatAttempt, []models.TranscriptTurn{{Role: role, Content: content}})
	if err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			return nil, apperr.Conflict(op, "another message is being processed, retry")
		}
		return nil, apperr.Internal(op, err)
	}
	return &added[0], nil
}

// SessionDetail is a session with everything recorded about it. Flags are
// only filled for supervisors and trusted callers.
type SessionDetail struct {
	Session    *models.Session         `json:"session"`
	Turns      []models.TranscriptTurn `json:"turns"`
	Evaluation *models.Evaluation      `json:"evaluation,omitempty"`
	Flags      []models.SessionFlag    `json:"flags,omitempty"`
	Recording  *models.Recording       `json:"recording,omitempty"`
}

func (s *SessionService) Get(ctx context.Context, p Principal, sessionID string) (*SessionDetail, error) {
	const op = "sessions.Get"
	sess, err := s.loadFor(ctx, op, p, sessionID)
	if err != nil {
		return nil, err
	}
	d := &SessionDetail{Session: sess}

	if d.Turns, err = s.db.ListTurns(ctx, sess.ID); err != nil {
		return nil, apperr.Internal(op, err)
	}
	eval, err := s.db.GetEvaluationByTarget(ctx, models.TargetFor(sess))
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	// An assignment evaluation belongs to the session that was graded.
	if eval != nil && eval.GradedSessionID == sess.ID {
		d.Evaluation = eval
	}
	if d.Recording, err = s.db.GetRecordingBySession(ctx, sess.ID); err != nil {
		return nil, apperr.Internal(op, err)
	}
	if p.IsSupervisor() || p.Trusted() {
		if d.Flags, err = s.db.ListFlagsBySession(ctx, sess.ID); err != nil {
			return nil, apperr.Internal(op, err)
		}
	}
	return d, nil
}

func (s *SessionService) List(ctx context.Context, p Principal) ([]models.Session, error) {
	list, err := s.db.ListSessionsByUser(ctx, p.UserID)
	if err != nil {
		return nil, apperr.Internal("sessions.List", err)
	}
	return list, nil
}

type RecordingInput struct {
	FileName    string
	ContentType string
	Data        []byte
	DurationMS  int64
}

// SaveRecording accepts the audio and uploads it in the background. Upload
// and insert failures are logged only.
func (s *SessionService) SaveRecording(ctx context.Context, sessionID string, in RecordingInput) error {
	const op = "sessions.SaveRecording"
	if len(in.Data) == 0 {
		return apperr.Validation(op, "recording is empty")
	}
	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return err
	}
	if in.ContentType == "" {
		in.ContentType = "audio/webm"
	}

	accepted := s.runner.Submit("recording:"+sess.ID, func(ctx context.Context) error {
		key := objectclient.RecordingKey(sess.ID, in.FileName)
		url, err := s.storage.UploadFile(ctx, key, in.Data, in.ContentType)
		if err != nil {
			return fmt.Errorf("upload recording: %w", err)
		}
		rec := &models.Recording{ID: uuid.NewString(), SessionID: sess.ID, StorageURL: url, DurationMS: in.DurationMS}
		if err := s.db.CreateRecording(ctx, rec); err != nil {
			if errors.Is(err, db.ErrUniqueViolation) {
				s.log.Info("duplicate recording ignored", "session_id", sess.ID)
				return nil
			}
			return fmt.Errorf("insert recording: %w", err)
		}
		return nil
	})
	if !accepted {
		e := apperr.Upstream(op, errors.New("background workers saturated"))
		e.RetryAfter = 5 * time.Second
		return e
	}
	return nil
}

func (s *SessionService) load(ctx context.Context, op, sessionID string) (*models.Session, error) {
	sess, err := s.db.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if sess == nil {
		return nil, apperr.NotFound(op, "session")
	}
	return sess, nil
}

// loadFor hides sessions the principal may not see behind NOT_FOUND.
func (s *SessionService) loadFor(ctx context.Context, op string, p Principal, sessionID string) (*models.Session, error) {
	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(sess.UserID) {
		return nil, apperr.NotFound(op, "session")
	}
	return sess, nil
}
