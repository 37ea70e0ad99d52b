package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

type ScenarioHandler struct {
	scenarios *services.ScenarioService
	log       *logger.Logger
}

func NewScenarioHandler(scenarios *services.ScenarioService, log *logger.Logger) *ScenarioHandler {
	return &ScenarioHandler{scenarios: scenarios, log: log}
}

func (h *ScenarioHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var req services.ScenarioInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	sc, err := h.scenarios.Create(r.Context(), p, req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, sc)
}

func (h *ScenarioHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.scenarios.List(r.Context())
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *ScenarioHandler) Get(w http.ResponseWriter, r *http.Request) {
	sc, err := h.scenarios.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, sc)
}

func (h *ScenarioHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var req services.ScenarioInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	sc, err := h.scenarios.Update(r.Context(), p, chi.URLParam(r, "id"), req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, sc)
}

func (h *ScenarioHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if err := h.scenarios.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScenarioHandler) Generate(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var req services.GenerateScenarioInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	out, err := h.scenarios.Generate(r.Context(), p, req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, out)
}
