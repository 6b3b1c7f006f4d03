package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/queue"
	"github.com/jdziat/durable-outbox/pkg/scheduler"
	"github.com/jdziat/durable-outbox/pkg/storage"
)

type fakeSyncer struct {
	requests atomic.Int32
	nowErr   error
	state    scheduler.State
}

func (f *fakeSyncer) State() scheduler.State { return f.state }
func (f *fakeSyncer) RequestSync()           { f.requests.Add(1) }

func (f *fakeSyncer) SyncNow(ctx context.Context) (scheduler.State, error) {
	if f.nowErr != nil {
		return f.state, f.nowErr
	}
	f.requests.Add(1)
	st := f.state
	st.LastResult = &scheduler.Summary{OK: true, Processed: 2}
	return st, nil
}

func setup(t *testing.T) (*Server, *queue.Queue, *fakeSyncer) {
	t.Helper()
	s, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	q := queue.New(s, nil, queue.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	fs := &fakeSyncer{state: scheduler.State{IsOnline: true, Pending: 3}}
	return NewServer(q, fs), q, fs
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func capture(t *testing.T, q *queue.Queue, fn string) *core.Job {
	t.Helper()
	job, err := q.Enqueue(context.Background(), core.RPC{Fn: fn, Args: map[string]any{"n": 1}})
	require.NoError(t, err)
	return job
}

// ═══════════════════════════════════════════════════════════════════════════
// Status and sync
// ═══════════════════════════════════════════════════════════════════════════

func TestStatus(t *testing.T) {
	srv, _, _ := setup(t)

	rec := do(t, srv, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st scheduler.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.IsOnline)
	assert.EqualValues(t, 3, st.Pending)
}

func TestSync_Accepted(t *testing.T) {
	srv, _, fs := setup(t)

	rec := do(t, srv, http.MethodPost, "/sync")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 1, fs.requests.Load())
}

func TestSync_Wait(t *testing.T) {
	srv, _, _ := setup(t)

	rec := do(t, srv, http.MethodPost, "/sync?wait=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var st scheduler.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 2, st.LastResult.Processed)
}

func TestSync_WaitStopped(t *testing.T) {
	srv, _, fs := setup(t)
	fs.nowErr = scheduler.ErrStopped

	rec := do(t, srv, http.MethodPost, "/sync?wait=1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduler stopped")
}

// ═══════════════════════════════════════════════════════════════════════════
// Jobs
// ═══════════════════════════════════════════════════════════════════════════

func TestListJobs_InOrder(t *testing.T) {
	srv, q, _ := setup(t)
	first := capture(t, q, "create_batch")
	second := capture(t, q, "transfer_volume")

	rec := do(t, srv, http.MethodGet, "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, first.ID, views[0].ID)
	assert.Equal(t, second.ID, views[1].ID)
	assert.Equal(t, core.KindRPC, views[0].Kind)
	assert.JSONEq(t, `{"n":1}`, string(views[0].Args))
	assert.Equal(t, first.IdempotencyKey, views[0].IdempotencyKey)
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	srv, _, _ := setup(t)

	rec := do(t, srv, http.MethodGet, "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestGetJob(t *testing.T) {
	srv, q, _ := setup(t)
	job := capture(t, q, "create_batch")

	rec := do(t, srv, http.MethodGet, "/jobs/"+itoa(job.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/jobs/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/jobs/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveJob(t *testing.T) {
	srv, q, _ := setup(t)
	job := capture(t, q, "create_batch")

	rec := do(t, srv, http.MethodDelete, "/jobs/"+itoa(job.ID))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	n, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = do(t, srv, http.MethodDelete, "/jobs/"+itoa(job.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveJob_AlreadyDrained(t *testing.T) {
	srv, q, _ := setup(t)
	job := capture(t, q, "create_batch")

	// The engine removes replayed jobs through the idempotent store call.
	require.NoError(t, q.Storage().Remove(context.Background(), job.ID))

	rec := do(t, srv, http.MethodDelete, "/jobs/"+itoa(job.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ═══════════════════════════════════════════════════════════════════════════
// Dead letters
// ═══════════════════════════════════════════════════════════════════════════

func deadLetter(t *testing.T, q *queue.Queue, fn string) *core.Job {
	t.Helper()
	job := capture(t, q, fn)
	require.NoError(t, q.Storage().DeadLetter(context.Background(), job.ID, "volume exceeds capacity"))
	return job
}

func TestDeadLetters_ListRequeuePurge(t *testing.T) {
	srv, q, _ := setup(t)
	dl := deadLetter(t, q, "transfer_volume")
	other := deadLetter(t, q, "create_batch")

	rec := do(t, srv, http.MethodGet, "/dead-letters?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []DeadLetterView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "volume exceeds capacity", views[0].Reason)

	rec = do(t, srv, http.MethodPost, "/dead-letters/"+itoa(dl.ID)+"/requeue")
	require.Equal(t, http.StatusCreated, rec.Code)
	var requeued JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &requeued))
	assert.Greater(t, requeued.ID, other.ID)
	assert.Equal(t, dl.IdempotencyKey, requeued.IdempotencyKey)

	rec = do(t, srv, http.MethodPost, "/dead-letters/"+itoa(dl.ID)+"/requeue")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/dead-letters/"+itoa(other.ID))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	n, err := q.Storage().CountDeadLetters(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ═══════════════════════════════════════════════════════════════════════════
// Errors and middleware
// ═══════════════════════════════════════════════════════════════════════════

type brokenStorage struct {
	core.Storage
}

func (brokenStorage) ListInOrder(context.Context) ([]*core.Job, error) {
	return nil, core.NewStorageError("list", errors.New("disk I/O error"))
}

func TestListJobs_StorageError(t *testing.T) {
	q := queue.New(brokenStorage{}, nil, queue.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	srv := NewServer(q, &fakeSyncer{})

	rec := do(t, srv, http.MethodGet, "/jobs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk I/O error")
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := setup(t)
	rec := do(t, srv, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPut, "/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewJobView_InvalidArgsOmitted(t *testing.T) {
	v := NewJobView(&core.Job{ID: 1, Kind: core.KindRPC, Args: []byte("{not json")})
	assert.Nil(t, v.Args)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
