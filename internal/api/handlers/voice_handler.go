package handlers

import (
	"net/http"

	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

type VoiceHandler struct {
	voice *services.VoiceService
	log   *logger.Logger
}

func NewVoiceHandler(voice *services.VoiceService, log *logger.Logger) *VoiceHandler {
	return &VoiceHandler{voice: voice, log: log}
}

func (h *VoiceHandler) Token(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var req services.VoiceTokenInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	tok, err := h.voice.Token(r.Context(), p, req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, tok)
}
