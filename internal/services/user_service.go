package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

type UserService struct {
	db  db.DbClient
	log *logger.Logger
}

func NewUserService(store db.DbClient, log *logger.Logger) *UserService {
	return &UserService{db: store, log: log.With("component", "users")}
}

type CreateUserInput struct {
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	AccountID  *string `json:"accountId"`
	ExternalID *string `json:"externalId"`
}

// Create provisions a user. Identity is fixed from here on.
func (s *UserService) Create(ctx context.Context, p Principal, in CreateUserInput) (*models.User, error) {
	const op = "users.Create"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation(op, "name is required")
	}
	if in.Role != models.RoleCounselor && in.Role != models.RoleSupervisor {
		return nil, apperr.Validation(op, "role must be counselor or supervisor")
	}

	accountID := trimmedPtr(in.AccountID)
	if accountID == nil && p.AccountID != "" {
		accountID = &p.AccountID
	}
	if accountID != nil {
		acct, err := s.db.GetAccountByID(ctx, *accountID)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if acct == nil {
			return nil, apperr.NotFound(op, "account")
		}
	}

	u := &models.User{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Name:       name,
		Role:       in.Role,
		ExternalID: trimmedPtr(in.ExternalID),
	}
	if err := s.db.CreateUser(ctx, u); err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			return nil, apperr.Conflict(op, "external id already provisioned")
		}
		return nil, apperr.Internal(op, err)
	}
	s.log.Info("user provisioned", "user_id", u.ID, "role", u.Role)
	return u, nil
}

func (s *UserService) Get(ctx context.Context, p Principal, id string) (*models.User, error) {
	const op = "users.Get"
	if !p.CanAccess(id) {
		return nil, apperr.NotFound(op, "user")
	}
	u, err := s.db.GetUserByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if u == nil {
		return nil, apperr.NotFound(op, "user")
	}
	return u, nil
}

func (s *UserService) List(ctx context.Context, p Principal, role string) ([]models.User, error) {
	const op = "users.List"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	if role != "" && role != models.RoleCounselor && role != models.RoleSupervisor {
		return nil, apperr.Validation(op, "unknown role")
	}
	users, err := s.db.ListUsers(ctx, role)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return users, nil
}

type CreateAccountInput struct {
	Name string `json:"name"`
}

func (s *UserService) CreateAccount(ctx context.Context, p Principal, in CreateAccountInput) (*models.Account, error) {
	const op = "accounts.Create"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation(op, "name is required")
	}
	acct := &models.Account{ID: uuid.NewString(), Name: name, ProcedureHistory: []models.ProcedureEntry{}}
	if err := s.db.CreateAccount(ctx, acct); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return acct, nil
}

// GetAccount returns the account with its procedure history, oldest first.
func (s *UserService) GetAccount(ctx context.Context, p Principal, id string) (*models.Account, error) {
	const op = "accounts.Get"
	if !canSeeAccount(p, id) {
		return nil, apperr.NotFound(op, "account")
	}
	acct, err := s.db.GetAccountByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if acct == nil {
		return nil, apperr.NotFound(op, "account")
	}
	return acct, nil
}

// canSeeAccount lets supervisors without an account administer any account.
func canSeeAccount(p Principal, accountID string) bool {
	if p.Trusted() {
		return true
	}
	if !p.IsSupervisor() {
		return p.AccountID == accountID
	}
	return p.AccountID == "" || p.AccountID == accountID
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
