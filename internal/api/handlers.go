package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"surveysched/internal/activation"
	"surveysched/internal/notifier"
	"surveysched/internal/task/scheduler"
	"surveysched/pkg/logx"
)

// maxBody caps request bodies; a schedule payload is a few hundred bytes.
const maxBody = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// InspectResponse is the body of GET /schedule/{entityId}.
type InspectResponse struct {
	Schedule   activation.Schedule `json:"schedule"`
	Evaluation activation.Result   `json:"evaluation"`
	At         time.Time           `json:"at"`
}

// StatusResponse is the body of GET /schedule/reconcile/status.
type StatusResponse struct {
	Timezone string              `json:"timezone"`
	Trigger  *scheduler.Snapshot `json:"trigger,omitempty"`
	LastPass *activation.Summary `json:"lastPass,omitempty"`
	Notifier *notifier.Stats     `json:"notifier,omitempty"`
	// EventsDropped counts transition events lost to a full subscriber
	// buffer since start. Notifications for those were never sent.
	EventsDropped uint64 `json:"eventsDropped"`
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("entityId"))
	if id == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("entity id required"))
		return
	}

	var in activation.Input
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	out, err := s.deps.Activation.SetSchedule(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.log.Info("schedule set", logx.String("schedule", id), logx.Bool("active", out.IsActive))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("entityId"))
	sc, res, err := s.deps.Activation.Inspect(r.Context(), id)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, InspectResponse{
		Schedule:   sc,
		Evaluation: res,
		At:         s.deps.Activation.Reconciler().Now(),
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if !lim.Allow() {
		reconcileThrottled.Inc()
		w.Header().Set("Retry-After", "1")
		s.writeError(w, r, http.StatusTooManyRequests, errors.New("reconcile rate limit exceeded"))
		return
	}

	sum, err := s.deps.Activation.Reconcile(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec := s.deps.Activation.Reconciler()
	out := StatusResponse{Timezone: rec.Location().String()}
	if s.deps.Trigger != nil {
		snap := s.deps.Trigger.Snapshot()
		out.Trigger = &snap
	}
	if last, ok := rec.Last(); ok {
		out.LastPass = &last
	}
	if s.deps.Notifier != nil && s.deps.Notifier.Enabled() {
		st := s.deps.Notifier.Stats()
		out.Notifier = &st
	}
	if s.deps.Events != nil {
		out.EventsDropped = s.deps.Events.Dropped()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.started).Truncate(time.Second).String(),
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, activation.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, activation.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	resp := errorResponse{Error: err.Error()}
	var ve *activation.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if code >= 500 {
		s.log.Error("request failed", logx.String("path", r.URL.Path), logx.Err(err))
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
