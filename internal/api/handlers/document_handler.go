package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

const maxProcedureSize = 25 << 20

type DocumentHandler struct {
	documents *services.DocumentService
	log       *logger.Logger
}

func NewDocumentHandler(documents *services.DocumentService, log *logger.Logger) *DocumentHandler {
	return &DocumentHandler{documents: documents, log: log}
}

// UploadProcedure stores a reference procedure for the account in the path.
func (h *DocumentHandler) UploadProcedure(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	up, err := readUpload(w, r, "file", maxProcedureSize)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	entry, err := h.documents.UploadProcedure(uploadCtx, p, chi.URLParam(r, "id"), up.FileName, up.ContentType, up.Data)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, entry)
}
