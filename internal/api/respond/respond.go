// Package respond writes JSON bodies and the shared error envelope.
package respond

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
)

type errorBody struct {
	Code      apperr.Code    `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

type envelope struct {
	Error errorBody `json:"error"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Error answers with the envelope for err. INTERNAL causes are logged and
// never sent to the caller.
func Error(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	e := apperr.As(err)

	body := errorBody{Code: e.Code, Message: e.Message, Retryable: apperr.Retryable(e.Code), Details: e.Details}
	switch e.Code {
	case apperr.CodeInternal:
		log.Error("request failed", "op", e.Op, "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", e.Cause)
		body.Message = "internal error"
		body.Details = nil
	case apperr.CodeUpstream:
		log.Warn("upstream failure", "op", e.Op, "path", r.URL.Path, "error", e.Cause)
	}

	if e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	JSON(w, apperr.HTTPStatus(e.Code), envelope{Error: body})
}
