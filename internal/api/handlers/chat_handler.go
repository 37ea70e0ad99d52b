package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/models"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

type ChatHandler struct {
	sessions *services.SessionService
	log      *logger.Logger
}

func NewChatHandler(sessions *services.SessionService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{sessions: sessions, log: log}
}

type messageRequest struct {
	Content string `json:"content"`
}

type messageResponse struct {
	Turns []models.TranscriptTurn `json:"turns"`
}

// SendMessage appends the counselor's message and returns it with the
// caller's reply.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	turns, err := h.sessions.SendMessage(r.Context(), p, chi.URLParam(r, "id"), req.Content)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, messageResponse{Turns: turns})
}
