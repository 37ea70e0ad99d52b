package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

type FlagHandler struct {
	flags *services.FlagService
	log   *logger.Logger
}

func NewFlagHandler(flags *services.FlagService, log *logger.Logger) *FlagHandler {
	return &FlagHandler{flags: flags, log: log}
}

func (h *FlagHandler) Submit(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var req services.SubmitFlagInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	flag, err := h.flags.Submit(r.Context(), p, chi.URLParam(r, "id"), req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, flag)
}

func (h *FlagHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	q := r.URL.Query()
	flags, err := h.flags.List(r.Context(), p, db.FlagFilter{
		Status:    q.Get("status"),
		Severity:  q.Get("severity"),
		Source:    q.Get("source"),
		SessionID: q.Get("sessionId"),
		Limit:     queryInt(r, "limit"),
	})
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, flags)
}

func (h *FlagHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var req services.UpdateFlagInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	flag, err := h.flags.Update(r.Context(), p, chi.URLParam(r, "id"), req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, flag)
}
