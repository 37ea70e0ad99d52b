package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

func documentFixture(t *testing.T, ext stubExtractor) (*DocumentService, *db.DatabaseClient, *memStorage, *recordingIngestor, Principal) {
	store := newStore(t)
	storage := newMemStorage()
	ing := &recordingIngestor{}
	svc := NewDocumentService(store, storage, ext, ing, logger.NewNop())

	acct := "acct-docs"
	require.NoError(t, store.CreateAccount(context.Background(), &models.Account{ID: acct, Name: "Helpline"}))
	return svc, store, storage, ing, addUser(t, store, models.RoleSupervisor, &acct)
}

func TestUploadProcedure(t *testing.T) {
	ctx := context.Background()
	svc, store, storage, ing, sup := documentFixture(t, stubExtractor{text: "Always ask about suicide directly."})

	entry, err := svc.UploadProcedure(ctx, sup, sup.AccountID, "../Risk Protocol.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "Risk Protocol.pdf", entry.FileName)
	assert.Equal(t, 1, storage.len())

	acct, err := store.GetAccountByID(ctx, sup.AccountID)
	require.NoError(t, err)
	require.NotNil(t, acct.VectorStoreID)
	require.Len(t, acct.ProcedureHistory, 1)
	assert.Equal(t, entry.ID, acct.ProcedureHistory[0].ID)

	require.Len(t, ing.jobs, 1)
	assert.Equal(t, entry.ID, ing.jobs[0].ProcedureID)
	assert.Equal(t, *acct.VectorStoreID, ing.jobs[0].VectorStoreID)

	// the vector store id is assigned once per account
	_, err = svc.UploadProcedure(ctx, sup, sup.AccountID, "second.txt", "text/plain", []byte("more"))
	require.NoError(t, err)
	require.Len(t, ing.jobs, 2)
	assert.Equal(t, ing.jobs[0].VectorStoreID, ing.jobs[1].VectorStoreID)
}

func TestUploadProcedureWithoutTextStoresNothing(t *testing.T) {
	ctx := context.Background()
	svc, store, storage, ing, sup := documentFixture(t, stubExtractor{err: errors.New("no text")})

	_, err := svc.UploadProcedure(ctx, sup, sup.AccountID, "scan.pdf", "application/pdf", []byte("%PDF"))
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	assert.Zero(t, storage.len())
	assert.Empty(t, ing.jobs)

	acct, err := store.GetAccountByID(ctx, sup.AccountID)
	require.NoError(t, err)
	assert.Empty(t, acct.ProcedureHistory)
	assert.Nil(t, acct.VectorStoreID)
}

func TestUploadProcedureAccessAndStorageFailure(t *testing.T) {
	ctx := context.Background()
	svc, store, storage, _, sup := documentFixture(t, stubExtractor{text: "ok"})

	counselor := addUser(t, store, models.RoleCounselor, &sup.AccountID)
	_, err := svc.UploadProcedure(ctx, counselor, sup.AccountID, "a.txt", "text/plain", []byte("x"))
	assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))

	_, err = svc.UploadProcedure(ctx, sup, "acct-other", "a.txt", "text/plain", []byte("x"))
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	storage.failPut = true
	_, err = svc.UploadProcedure(ctx, sup, sup.AccountID, "a.txt", "text/plain", []byte("x"))
	assert.True(t, apperr.IsCode(err, apperr.CodeUpstream))
}
