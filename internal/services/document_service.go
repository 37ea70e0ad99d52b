package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Rehearsal/internal/core"
	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/ingestion_engine"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	objectclient "github.com/markdave123-py/Rehearsal/internal/core/object-client"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

// DocumentService stores account procedure documents and hands their text to
// the retrieval ingestor.
type DocumentService struct {
	db        db.DbClient
	storage   core.ObjectClient
	extractor core.DocumentExtractor
	ingestor  ingestion_engine.Ingestor
	log       *logger.Logger
}

// NewDocumentService accepts a nil ingestor when retrieval is disabled; the
// procedure is then stored without being indexed.
func NewDocumentService(store db.DbClient, storage core.ObjectClient, extractor core.DocumentExtractor, ing ingestion_engine.Ingestor, log *logger.Logger) *DocumentService {
	return &DocumentService{db: store, storage: storage, extractor: extractor, ingestor: ing, log: log.With("component", "documents")}
}

// UploadProcedure extracts, stores and records one procedure document. Nothing
// is stored when the document has no readable text.
func (s *DocumentService) UploadProcedure(ctx context.Context, p Principal, accountID, fileName, contentType string, data []byte) (*models.ProcedureEntry, error) {
	const op = "documents.UploadProcedure"
	if err := requireSupervisor(op, p); err != nil {
		return nil, err
	}
	if !canSeeAccount(p, accountID) {
		return nil, apperr.NotFound(op, "account")
	}
	acct, err := s.db.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if acct == nil {
		return nil, apperr.NotFound(op, "account")
	}

	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || len(data) == 0 {
		return nil, apperr.Validation(op, "a non-empty file is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	text, err := s.extractor.ExtractText(ctx, data, contentType)
	if err != nil {
		s.log.Warn("procedure text extraction failed", "account_id", accountID, "file", fileName, "error", err)
		return nil, apperr.Validation(op, "could not read text from the document")
	}

	procID := uuid.NewString()
	key := objectclient.ProcedureKey(accountID, procID, fileName)
	url, err := s.storage.UploadFile(ctx, key, data, contentType)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	storeID, err := s.db.SetAccountVectorStore(ctx, accountID, "vs-"+uuid.NewString())
	if err != nil {
		s.discard(key)
		return nil, apperr.Internal(op, err)
	}

	entry := &models.ProcedureEntry{
		ID:         procID,
		AccountID:  accountID,
		FileName:   fileName,
		StorageURL: url,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.db.AppendProcedure(ctx, entry); err != nil {
		s.discard(key)
		return nil, apperr.Internal(op, err)
	}

	if s.ingestor == nil {
		s.log.Info("procedure stored without indexing", "procedure_id", procID)
		return entry, nil
	}
	enqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.ingestor.Enqueue(enqCtx, ingestion_engine.ProcedureJob{ProcedureID: procID, VectorStoreID: storeID, Text: text}); err != nil {
		// The document and its history row are kept; only the index misses it.
		s.log.Warn("procedure not queued for indexing", "procedure_id", procID, "error", err)
	}
	return entry, nil
}

func (s *DocumentService) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.storage.DeleteFile(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("orphaned procedure object", "key", key, "error", err)
	}
}
