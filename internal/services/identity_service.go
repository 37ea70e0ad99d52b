package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

type PrincipalKind string

const (
	PrincipalUser     PrincipalKind = "user"
	PrincipalInternal PrincipalKind = "internal"
	PrincipalPartner  PrincipalKind = "partner"
)

// Principal is the authenticated caller of one request.
type Principal struct {
	Kind      PrincipalKind
	UserID    string
	Role      string
	AccountID string
	Partner   string
}

func (p Principal) IsSupervisor() bool {
	return p.Kind == PrincipalUser && p.Role == models.RoleSupervisor
}

// Trusted callers are the voice agent and partner integrations.
func (p Principal) Trusted() bool {
	return p.Kind == PrincipalInternal || p.Kind == PrincipalPartner
}

// CanAccess reports whether p may read or act on data owned by userID.
func (p Principal) CanAccess(userID string) bool {
	if p.Trusted() || p.IsSupervisor() {
		return true
	}
	return p.Kind == PrincipalUser && p.UserID != "" && p.UserID == userID
}

func requireSupervisor(op string, p Principal) error {
	if !p.IsSupervisor() {
		return apperr.Forbidden(op)
	}
	return nil
}

// IdentityService resolves the three credential kinds the API accepts.
type IdentityService struct {
	db             db.DbClient
	internalDigest [32]byte
	hasInternal    bool
	partners       map[string][]byte
	dummyHash      []byte
	log            *logger.Logger
}

// NewIdentityService takes the shared agent secret and a map of partner name
// to bcrypt hash of that partner's secret.
func NewIdentityService(store db.DbClient, internalSecret string, partnerHashes map[string]string, log *logger.Logger) *IdentityService {
	s := &IdentityService{
		db:       store,
		partners: make(map[string][]byte, len(partnerHashes)),
		log:      log.With("component", "identity"),
	}
	if internalSecret != "" {
		s.internalDigest = sha256.Sum256([]byte(internalSecret))
		s.hasInternal = true
	}
	for name, hash := range partnerHashes {
		s.partners[name] = []byte(hash)
	}
	// Unknown partners are compared against this so every miss costs one bcrypt.
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	return s
}

// ResolveUser maps an X-User-Id value onto a provisioned user. Malformed and
// unknown ids fail identically.
func (s *IdentityService) ResolveUser(ctx context.Context, rawID string) (Principal, error) {
	const op = "identity.ResolveUser"

	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return Principal{}, apperr.Unauthorized(op)
	}
	u, err := s.db.GetUserByID(ctx, id.String())
	if err != nil {
		return Principal{}, apperr.Internal(op, err)
	}
	if u == nil {
		return Principal{}, apperr.Unauthorized(op)
	}

	p := Principal{Kind: PrincipalUser, UserID: u.ID, Role: u.Role}
	if u.AccountID != nil {
		p.AccountID = *u.AccountID
	}
	return p, nil
}

// ResolveInternal checks the shared service secret in constant time.
func (s *IdentityService) ResolveInternal(secret string) (Principal, error) {
	const op = "identity.ResolveInternal"
	if !s.hasInternal || secret == "" {
		return Principal{}, apperr.Unauthorized(op)
	}
	got := sha256.Sum256([]byte(secret))
	if subtle.ConstantTimeCompare(got[:], s.internalDigest[:]) != 1 {
		return Principal{}, apperr.Unauthorized(op)
	}
	return Principal{Kind: PrincipalInternal}, nil
}

// ResolvePartner checks an X-API-Key of the form "<partner>.<secret>".
func (s *IdentityService) ResolvePartner(key string) (Principal, error) {
	const op = "identity.ResolvePartner"

	name, secret, ok := strings.Cut(strings.TrimSpace(key), ".")
	hash, known := s.partners[name]
	if !ok || !known {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(secret))
		return Principal{}, apperr.Unauthorized(op)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		s.log.Warn("partner key rejected", "partner", name)
		return Principal{}, apperr.Unauthorized(op)
	}
	return Principal{Kind: PrincipalPartner, Partner: name}, nil
}
