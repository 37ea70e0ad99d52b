package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	middleware "github.com/markdave123-py/Rehearsal/internal/api/middlewares"
	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

const maxJSONBody = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperr.Validation("decode", "request body too large")
		}
		return apperr.Validation("decode", "invalid JSON body")
	}
	return nil
}

func principal(r *http.Request) (services.Principal, error) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		return services.Principal{}, apperr.Unauthorized("handlers")
	}
	return p, nil
}

type upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// readUpload reads the multipart field into memory, capped at limit bytes.
func readUpload(w http.ResponseWriter, r *http.Request, field string, limit int64) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, apperr.Validation("upload", "expected a multipart form within the size limit")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, apperr.Validation("upload", "missing "+field+" part")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, apperr.Validation("upload", "could not read file")
	}
	if int64(len(data)) > limit {
		return nil, apperr.Validation("upload", "file too large")
	}
	return &upload{FileName: header.Filename, ContentType: header.Header.Get("Content-Type"), Data: data}, nil
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
