package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

type fakeResolver struct {
	users map[string]services.Principal
}

func (f fakeResolver) ResolveUser(_ context.Context, raw string) (services.Principal, error) {
	if p, ok := f.users[raw]; ok {
		return p, nil
	}
	return services.Principal{}, apperr.Unauthorized("test")
}

func (f fakeResolver) ResolveInternal(secret string) (services.Principal, error) {
	if secret == "agent" {
		return services.Principal{Kind: services.PrincipalInternal}, nil
	}
	return services.Principal{}, apperr.Unauthorized("test")
}

func (f fakeResolver) ResolvePartner(key string) (services.Principal, error) {
	if key == "acme.key" {
		return services.Principal{Kind: services.PrincipalPartner, Partner: "acme"}, nil
	}
	return services.Principal{}, apperr.Unauthorized("test")
}

func newGate() *Identity {
	return NewIdentity(fakeResolver{users: map[string]services.Principal{
		"c1": {Kind: services.PrincipalUser, UserID: "c1", Role: models.RoleCounselor},
		"s1": {Kind: services.PrincipalUser, UserID: "s1", Role: models.RoleSupervisor},
	}}, logger.NewNop())
}

// echo answers with the resolved principal's kind.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(string(p.Kind) + ":" + p.UserID + p.Partner))
})

func serve(h http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireUser(t *testing.T) {
	gate := newGate()
	h := gate.RequireUser(echo)

	rec := serve(h, HeaderUserID, "c1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user:c1", rec.Body.String())

	for _, v := range []string{"", "nobody"} {
		rec := serve(h, HeaderUserID, v)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)
	}
}

func TestRequireSupervisor(t *testing.T) {
	gate := newGate()
	h := gate.RequireUser(gate.RequireSupervisor(echo))

	assert.Equal(t, http.StatusForbidden, serve(h, HeaderUserID, "c1").Code)
	assert.Equal(t, http.StatusOK, serve(h, HeaderUserID, "s1").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(gate.RequireSupervisor(echo), "", "").Code)
}

func TestRequireInternalAndPartner(t *testing.T) {
	gate := newGate()

	assert.Equal(t, "internal:", serve(gate.RequireInternal(echo), HeaderInternalSecret, "agent").Body.String())
	assert.Equal(t, http.StatusUnauthorized, serve(gate.RequireInternal(echo), HeaderInternalSecret, "guess").Code)
	// a user id is not an internal credential
	assert.Equal(t, http.StatusUnauthorized, serve(gate.RequireInternal(echo), HeaderUserID, "s1").Code)

	assert.Equal(t, "partner:acme", serve(gate.RequirePartner(echo), HeaderAPIKey, "acme.key").Body.String())
	assert.Equal(t, http.StatusUnauthorized, serve(gate.RequirePartner(echo), HeaderAPIKey, "acme.nope").Code)
}
