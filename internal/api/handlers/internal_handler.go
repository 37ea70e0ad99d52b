package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

const maxRecordingSize = 200 << 20

// InternalHandler serves the voice agent callbacks.
type InternalHandler struct {
	sessions *services.SessionService
	log      *logger.Logger
}

func NewInternalHandler(sessions *services.SessionService, log *logger.Logger) *InternalHandler {
	return &InternalHandler{sessions: sessions, log: log}
}

// CreateSession answers 201 the first time a room is seen and 200 on replays.
func (h *InternalHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req services.InternalSessionInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	sess, created, err := h.sessions.CreateInternal(r.Context(), req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond.JSON(w, status, sess)
}

type transcriptResponse struct {
	SessionID string `json:"sessionId"`
	Turns     int    `json:"turns"`
}

func (h *InternalHandler) ReplaceTranscript(w http.ResponseWriter, r *http.Request) {
	var req services.TranscriptInput
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	id := chi.URLParam(r, "id")
	n, err := h.sessions.ReplaceTranscript(r.Context(), id, req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, transcriptResponse{SessionID: id, Turns: n})
}

// UploadRecording accepts the audio and returns before it is stored.
func (h *InternalHandler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(w, r, "file", maxRecordingSize)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	var duration int64
	if v := r.FormValue("durationMs"); v != "" {
		if duration, err = strconv.ParseInt(v, 10, 64); err != nil || duration < 0 {
			respond.Error(w, r, h.log, apperr.Validation("internal.UploadRecording", "durationMs must be a non-negative integer"))
			return
		}
	}

	err = h.sessions.SaveRecording(r.Context(), chi.URLParam(r, "id"), services.RecordingInput{
		FileName:    up.FileName,
		ContentType: up.ContentType,
		Data:        up.Data,
		DurationMS:  duration,
	})
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
