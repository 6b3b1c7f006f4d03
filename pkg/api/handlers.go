package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/security"
)

// JobView is the wire form of a pending job.
type JobView struct {
	ID             int64           `json:"id" yaml:"id"`
	Kind           core.Kind       `json:"kind" yaml:"kind"`
	Target         string          `json:"target" yaml:"target"`
	Args           json.RawMessage `json:"args,omitempty" yaml:"-"`
	IdempotencyKey string          `json:"idempotencyKey" yaml:"idempotencyKey"`
	Attempts       int             `json:"attempts" yaml:"attempts"`
	LastError      string          `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt" yaml:"createdAt"`
}

// NewJobView converts a stored job.
func NewJobView(j *core.Job) JobView {
	v := JobView{
		ID:             j.ID,
		Kind:           j.Kind,
		Target:         j.Target,
		IdempotencyKey: j.IdempotencyKey,
		Attempts:       j.Attempts,
		LastError:      j.LastError,
		CreatedAt:      j.CreatedAt,
	}
	if json.Valid(j.Args) {
		v.Args = json.RawMessage(j.Args)
	}
	return v
}

// DeadLetterView is the wire form of a dead-lettered job.
type DeadLetterView struct {
	ID             int64           `json:"id" yaml:"id"`
	Kind           core.Kind       `json:"kind" yaml:"kind"`
	Target         string          `json:"target" yaml:"target"`
	Args           json.RawMessage `json:"args,omitempty" yaml:"-"`
	IdempotencyKey string          `json:"idempotencyKey" yaml:"idempotencyKey"`
	Attempts       int             `json:"attempts" yaml:"attempts"`
	Reason         string          `json:"reason" yaml:"reason"`
	FailedAt       time.Time       `json:"failedAt" yaml:"failedAt"`
}

// NewDeadLetterView converts a stored dead letter.
func NewDeadLetterView(d *core.DeadLetter) DeadLetterView {
	v := DeadLetterView{
		ID:             d.ID,
		Kind:           d.Kind,
		Target:         d.Target,
		IdempotencyKey: d.IdempotencyKey,
		Attempts:       d.Attempts,
		Reason:         d.Reason,
		FailedAt:       d.FailedAt,
	}
	if json.Valid(d.Args) {
		v.Args = json.RawMessage(d.Args)
	}
	return v
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sync.State())
}

// handleSync requests a pass. With ?wait=true it blocks until a pass that
// started after the request has finished.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		st, err := s.sync.SyncNow(r.Context())
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}
	s.sync.RequestSync()
	writeJSON(w, http.StatusAccepted, s.sync.State())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobList, err := s.queue.Jobs(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	views := make([]JobView, 0, len(jobList))
	for _, j := range jobList {
		views = append(views, NewJobView(j))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	job, err := s.queue.Job(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewJobView(job))
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	if err := s.queue.Discard(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	views := make([]DeadLetterView, 0, len(list))
	for _, d := range list {
		views = append(views, NewDeadLetterView(d))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	job, err := s.queue.RequeueDeadLetter(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewJobView(job))
}

func (s *Server) handlePurgeDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	if err := s.queue.PurgeDeadLetter(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid id"))
		return 0, false
	}
	return id, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrJobNotFound) || errors.Is(err, core.ErrNotDeadLetter) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Error("request failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: security.SanitizeErrorMessage(err.Error())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
