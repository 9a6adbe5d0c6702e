package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/photo"
	"github.com/sells-group/photo-drop/internal/proximity"
	"github.com/sells-group/photo-drop/internal/session"
	"github.com/sells-group/photo-drop/internal/store"
)

// statusError carries an explicit HTTP status.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &statusError{status: http.StatusBadRequest, msg: msg}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var se *statusError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &se):
		return se.status
	case errors.As(err, &tooLarge), eris.Is(err, photo.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case eris.Is(err, session.ErrNotFound), eris.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, proximity.ErrNotIdle),
		eris.Is(err, proximity.ErrNoLocation),
		eris.Is(err, proximity.ErrNoExchange),
		eris.Is(err, proximity.ErrNoPrompt),
		eris.Is(err, proximity.ErrPickerClosed),
		eris.Is(err, session.ErrClosed):
		return http.StatusConflict
	case eris.Is(err, model.ErrInvalidLocation), eris.Is(err, photo.ErrEmpty):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a small JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}
