package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/photo"
	"github.com/sells-group/photo-drop/internal/proximity"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	writeJSON(w, http.StatusCreated, map[string]string{"id": sess.ID()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAuthorization(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Granted bool `json:"granted"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.SetAuthorized(r.Context(), req.Granted); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": req.Granted})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var loc model.Location
	if err := decodeJSON(w, r, &loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !sess.AllowLocation() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "location updates too frequent"})
		return
	}
	applied, err := sess.UpdateLocation(r.Context(), loc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.DropPhoto(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"picker": proximity.PickerDrop.String()})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Choice proximity.Choice `json:"choice"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	switch req.Choice {
	case proximity.ChoiceExchange, proximity.ChoiceNotHere:
	default:
		s.writeError(w, r, badRequest(`choice must be "exchange" or "not_here"`))
		return
	}
	if err := sess.Decide(r.Context(), req.Choice); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"choice": string(req.Choice)})
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// A closed picker rejects the upload before it is decoded.
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if snap.Picker == proximity.PickerClosed {
		s.writeError(w, r, proximity.ErrPickerClosed)
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	payload, err := photo.Prepare(body, s.cfg.ThumbnailSize, s.cfg.MaxSourcePixels)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			err = badRequest(err.Error())
		}
		s.writeError(w, r, err)
		return
	}
	if err := sess.PickPhoto(r.Context(), payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handlePickerCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.CancelPicker(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dismissed, err := sess.Dismiss(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dismissed": dismissed})
}

func (s *Server) handleListDrops(w http.ResponseWriter, r *http.Request) {
	box, err := parseBBox(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.index.InBBox(r.Context(), box, s.cfg.DropsLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pins := make([]model.Pin, 0, len(entries))
	for _, e := range entries {
		pins = append(pins, model.Pin{Key: e.Key, Location: e.Location})
	}
	writeJSON(w, http.StatusOK, map[string]any{"drops": pins, "count": len(pins)})
}

func parseBBox(r *http.Request) (model.BBox, error) {
	q := r.URL.Query()
	var vals [4]float64
	for i, name := range []string{"min_lat", "min_lng", "max_lat", "max_lng"} {
		raw := q.Get(name)
		if raw == "" {
			return model.BBox{}, badRequest(name + " is required")
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.BBox{}, badRequest("invalid " + name)
		}
		vals[i] = v
	}
	return model.BBox{MinLat: vals[0], MinLng: vals[1], MaxLat: vals[2], MaxLng: vals[3]}, nil
}
