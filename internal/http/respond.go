package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/example/clean-matching/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to their status. Anything unclassified is
// logged and hidden behind a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err, "request_id", requestIDFromContext(r.Context()))
		writeJSON(w, status, errorBody{Error: "internal", Message: "internal error"})
		return
	}
	if info := infoFrom(r.Context()); info != nil {
		info.Code = ae.Code
	}
	writeJSON(w, status, errorBody{Error: ae.Code, Message: ae.Message})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Invalid("invalid JSON body: " + err.Error())
	}
	return nil
}
