package middleware

import (
	"context"
	"net/http"

	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

const (
	HeaderUserID         = "X-User-Id"
	HeaderInternalSecret = "X-Internal-Secret"
	HeaderAPIKey         = "X-API-Key"
)

// Resolver turns request credentials into a principal.
type Resolver interface {
	ResolveUser(ctx context.Context, rawID string) (services.Principal, error)
	ResolveInternal(secret string) (services.Principal, error)
	ResolvePartner(key string) (services.Principal, error)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p services.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by one of the Require middlewares.
func PrincipalFrom(ctx context.Context) (services.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(services.Principal)
	return p, ok
}

// Identity builds the gate middlewares around one resolver.
type Identity struct {
	resolver Resolver
	log      *logger.Logger
}

func NewIdentity(resolver Resolver, log *logger.Logger) *Identity {
	return &Identity{resolver: resolver, log: log}
}

// RequireUser authenticates X-User-Id against provisioned users.
func (m *Identity) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.resolver.ResolveUser(r.Context(), r.Header.Get(HeaderUserID))
		if err != nil {
			respond.Error(w, r, m.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireSupervisor must run after RequireUser.
func (m *Identity) RequireSupervisor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			respond.Error(w, r, m.log, apperr.Unauthorized("middleware.RequireSupervisor"))
			return
		}
		if !p.IsSupervisor() {
			respond.Error(w, r, m.log, apperr.Forbidden("middleware.RequireSupervisor"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Identity) RequireInternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.resolver.ResolveInternal(r.Header.Get(HeaderInternalSecret))
		if err != nil {
			m.log.Warn("internal callback rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			respond.Error(w, r, m.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (m *Identity) RequirePartner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.resolver.ResolvePartner(r.Header.Get(HeaderAPIKey))
		if err != nil {
			respond.Error(w, r, m.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
