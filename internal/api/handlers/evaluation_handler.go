package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

type EvaluationHandler struct {
	evaluations *services.EvaluationService
	log         *logger.Logger
}

func NewEvaluationHandler(evaluations *services.EvaluationService, log *logger.Logger) *EvaluationHandler {
	return &EvaluationHandler{evaluations: evaluations, log: log}
}

// Evaluate grades a session. Users and partners share this handler; the
// principal decides what they may see.
func (h *EvaluationHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	view, err := h.evaluations.Evaluate(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, view)
}

func (h *EvaluationHandler) GetForSession(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	view, err := h.evaluations.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, view)
}

func (h *EvaluationHandler) GetForAssignment(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	view, err := h.evaluations.GetForAssignment(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, view)
}

func (h *EvaluationHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	view, err := h.evaluations.GetByID(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, view)
}
