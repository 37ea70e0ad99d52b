package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("create session: %w", Conflict("session.create", "already exists"))
	assert.Equal(t, CodeConflict, CodeOf(err))
	assert.True(t, IsCode(err, CodeConflict))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestTransientAndPermanentAreDistinct(t *testing.T) {
	early := TooEarly("evaluate", "transcript not ready", 3*time.Second)
	conflict := Conflict("evaluate", "evaluation already exists")

	assert.True(t, Retryable(early.Code))
	assert.False(t, Retryable(conflict.Code))
	assert.NotEqual(t, HTTPStatus(early.Code), HTTPStatus(conflict.Code))
	assert.Equal(t, http.StatusTooEarly, HTTPStatus(early.Code))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(CodeRateLimited))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(CodeUpstream))
}

func TestUnauthorizedMessageIsUniform(t *testing.T) {
	assert.Equal(t, Unauthorized("a").Message, Unauthorized("b").Message)
}

func TestAsWrapsUntyped(t *testing.T) {
	cause := errors.New("db down")
	got := As(cause)
	assert.Equal(t, CodeInternal, got.Code)
	assert.ErrorIs(t, got, cause)

	e := NotFound("x", "session").WithDetail("id", "42")
	assert.Same(t, e, As(e))
	assert.Equal(t, "42", e.Details["id"])
}
