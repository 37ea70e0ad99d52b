package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

func TestProvisionUsers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewUserService(store, logger.NewNop())

	acct, err := svc.CreateAccount(ctx, Principal{Kind: PrincipalUser, UserID: "root", Role: models.RoleSupervisor}, CreateAccountInput{Name: " Helpline "})
	require.NoError(t, err)
	assert.Equal(t, "Helpline", acct.Name)

	sup := addUser(t, store, models.RoleSupervisor, &acct.ID)
	ext := "crm-42"
	u, err := svc.Create(ctx, sup, CreateUserInput{Name: "Dana", Role: models.RoleCounselor, ExternalID: &ext})
	require.NoError(t, err)
	require.NotNil(t, u.AccountID)
	assert.Equal(t, acct.ID, *u.AccountID, "defaults to the supervisor's account")

	_, err = svc.Create(ctx, sup, CreateUserInput{Name: "Dup", Role: models.RoleCounselor, ExternalID: &ext})
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict))

	_, err = svc.Create(ctx, sup, CreateUserInput{Name: "x", Role: "admin"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, err = svc.Create(ctx, sup, CreateUserInput{Name: "  ", Role: models.RoleCounselor})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	missing := "no-such-account"
	_, err = svc.Create(ctx, sup, CreateUserInput{Name: "x", Role: models.RoleCounselor, AccountID: &missing})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	counselors, err := svc.List(ctx, sup, models.RoleCounselor)
	require.NoError(t, err)
	require.Len(t, counselors, 1)
	assert.Equal(t, u.ID, counselors[0].ID)

	_, err = svc.List(ctx, sup, "admin")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestUserAndAccountVisibility(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewUserService(store, logger.NewNop())

	acct := "acct-a"
	other := "acct-b"
	require.NoError(t, store.CreateAccount(ctx, &models.Account{ID: acct, Name: "A"}))
	require.NoError(t, store.CreateAccount(ctx, &models.Account{ID: other, Name: "B"}))
	c := addUser(t, store, models.RoleCounselor, &acct)
	peer := addUser(t, store, models.RoleCounselor, &acct)

	me, err := svc.Get(ctx, c, c.UserID)
	require.NoError(t, err)
	assert.Equal(t, c.UserID, me.ID)

	_, err = svc.Get(ctx, c, peer.UserID)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	_, err = svc.List(ctx, c, "")
	assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))
	_, err = svc.CreateAccount(ctx, c, CreateAccountInput{Name: "C"})
	assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))

	got, err := svc.GetAccount(ctx, c, acct)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
	_, err = svc.GetAccount(ctx, c, other)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	sup := addUser(t, store, models.RoleSupervisor, &acct)
	_, err = svc.GetAccount(ctx, sup, other)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	global := addUser(t, store, models.RoleSupervisor, nil)
	_, err = svc.GetAccount(ctx, global, other)
	assert.NoError(t, err)
}
