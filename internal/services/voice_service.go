package services

import (
	"context"

	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/voice"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

type TokenMinter interface {
	Mint(identity, displayName string, meta voice.Metadata) (*voice.Token, error)
}

type VoiceService struct {
	db     db.DbClient
	minter TokenMinter
}

// NewVoiceService accepts a nil minter; token requests then fail as
// upstream errors.
func NewVoiceService(store db.DbClient, minter TokenMinter) *VoiceService {
	return &VoiceService{db: store, minter: minter}
}

type VoiceTokenInput struct {
	AssignmentID *string `json:"assignmentId"`
	ScenarioID   *string `json:"scenarioId"`
}

// Token mints room access for the caller. The session itself is created by
// the voice agent once the room is joined.
func (s *VoiceService) Token(ctx context.Context, p Principal, in VoiceTokenInput) (*voice.Token, error) {
	const op = "voice.Token"
	if p.Kind != PrincipalUser {
		return nil, apperr.Forbidden(op)
	}
	if s.minter == nil {
		return nil, apperr.New(apperr.CodeUpstream, op, "voice practice is not configured", nil)
	}

	u, err := s.db.GetUserByID(ctx, p.UserID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if u == nil {
		return nil, apperr.Unauthorized(op)
	}

	meta := voice.Metadata{UserID: u.ID}
	if id := trimmedPtr(in.AssignmentID); id != nil {
		a, err := s.db.GetAssignmentByID(ctx, *id)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if a == nil || a.CounselorID != u.ID {
			return nil, apperr.NotFound(op, "assignment")
		}
		if a.Status == models.AssignmentCompleted {
			return nil, apperr.Conflict(op, "assignment already completed")
		}
		meta.AssignmentID = a.ID
		meta.ScenarioID = a.ScenarioID
	} else if id := trimmedPtr(in.ScenarioID); id != nil {
		sc, err := s.db.GetScenarioByID(ctx, *id)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if sc == nil || sc.IsOneTime {
			return nil, apperr.NotFound(op, "scenario")
		}
		meta.ScenarioID = sc.ID
	}

	tok, err := s.minter.Mint(u.ID, u.Name, meta)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return tok, nil
}
