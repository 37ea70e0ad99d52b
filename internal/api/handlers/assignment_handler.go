package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

type AssignmentHandler struct {
	assignments *services.AssignmentService
	log         *logger.Logger
}

func NewAssignmentHandler(assignments *services.AssignmentService, log *logger.Logger) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments, log: log}
}

func (h *AssignmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var req services.AssignInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	a, err := h.assignments.Assign(r.Context(), p, req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, a)
}

// Bulk answers 200 even when every pair was skipped; the body says why.
func (h *AssignmentHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var req services.BulkAssignInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	res, err := h.assignments.BulkAssign(r.Context(), p, req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *AssignmentHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	q := r.URL.Query()
	list, err := h.assignments.List(r.Context(), p, db.AssignmentFilter{
		CounselorID: q.Get("counselorId"),
		Status:      q.Get("status"),
	})
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *AssignmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	a, err := h.assignments.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, a)
}

func (h *AssignmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if err := h.assignments.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
