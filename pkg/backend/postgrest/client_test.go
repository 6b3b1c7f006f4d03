package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/jobctx"
)

// captured is one request seen by the test server.
type captured struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

func newServer(t *testing.T, status int, respBody string) (*httptest.Server, chan captured) {
	t.Helper()
	reqs := make(chan captured, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		reqs <- captured{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func TestInvoke_PostsToRPC(t *testing.T) {
	srv, reqs := newServer(t, http.StatusNoContent, "")
	c, err := New(srv.URL+"/rest/v1/", WithAPIKey("anon-key"))
	require.NoError(t, err)

	ctx := jobctx.WithIdempotencyKey(context.Background(), "6d0c9b5e-1f0b-4b7e-8f53-2a7d4c1e9a10")
	require.NoError(t, c.Invoke(ctx, "rpc_transfer_batch", map[string]any{"p_batch_id": "b-1", "p_loss_l": 0.5}))

	got := <-reqs
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/rest/v1/rpc/rpc_transfer_batch", got.Path)
	assert.Equal(t, "anon-key", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer anon-key", got.Header.Get("Authorization"))
	assert.Equal(t, "6d0c9b5e-1f0b-4b7e-8f53-2a7d4c1e9a10", got.Header.Get("Idempotency-Key"))
	assert.Equal(t, "return=minimal", got.Header.Get("Prefer"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "b-1", got.Body["p_batch_id"])
	assert.Equal(t, 0.5, got.Body["p_loss_l"])
}

func TestInsertRecord_PostsToTable(t *testing.T) {
	srv, reqs := newServer(t, http.StatusCreated, "")
	c, err := New(srv.URL)
	require.NoError(t, err)

	require.NoError(t, c.InsertRecord(context.Background(), "haccp_cleaning", nil))

	got := <-reqs
	assert.Equal(t, "/haccp_cleaning", got.Path)
	assert.Empty(t, got.Header.Get("apikey"))
	assert.Empty(t, got.Header.Get("Idempotency-Key"))
	assert.NotNil(t, got.Body, "nil payload is sent as an empty object")
}

func TestPost_ApplicationErrorUsesMessage(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest,
		`{"code":"P0001","message":"volume exceeds capacity","details":null,"hint":null}`)
	c, err := New(srv.URL)
	require.NoError(t, err)

	err = c.Invoke(context.Background(), "rpc_transfer_batch", nil)
	require.Error(t, err)

	var be *core.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, core.ClassApplication, be.Class)
	assert.Equal(t, http.StatusBadRequest, be.Status)
	assert.Equal(t, "P0001", be.Code)
	assert.Equal(t, "volume exceeds capacity", err.Error())
}

func TestPost_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   core.ErrorClass
	}{
		{http.StatusRequestTimeout, core.ClassConnectivity},
		{http.StatusTooManyRequests, core.ClassConnectivity},
		{http.StatusBadGateway, core.ClassConnectivity},
		{http.StatusServiceUnavailable, core.ClassConnectivity},
		{http.StatusGatewayTimeout, core.ClassConnectivity},
		{http.StatusUnauthorized, core.ClassApplication},
		{http.StatusConflict, core.ClassApplication},
		{http.StatusInternalServerError, core.ClassApplication},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := newServer(t, tt.status, "upstream says no")
			c, err := New(srv.URL)
			require.NoError(t, err)

			err = c.InsertRecord(context.Background(), "analysis_reading", map[string]any{"value_num": 1})
			require.Error(t, err)
			assert.Equal(t, tt.want, core.Classify(err))
			assert.Contains(t, err.Error(), "backend returned")
		})
	}
}

func TestPost_TransportErrorIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)

	err = c.Invoke(context.Background(), "rpc_addition", nil)
	require.Error(t, err)
	assert.True(t, core.IsConnectivity(err))
}

func TestPost_TimeoutIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	err = c.Invoke(context.Background(), "rpc_addition", nil)
	require.Error(t, err)
	assert.True(t, core.IsConnectivity(err))
}

func TestInvoke_RejectsInvalidTarget(t *testing.T) {
	c, err := New("http://localhost:1")
	require.NoError(t, err)

	err = c.Invoke(context.Background(), "../admin", nil)
	require.Error(t, err)
	assert.Equal(t, core.ClassApplication, core.Classify(err))
}

func TestPing(t *testing.T) {
	t.Run("any response is reachable", func(t *testing.T) {
		srv, reqs := newServer(t, http.StatusUnauthorized, "")
		c, err := New(srv.URL, WithAPIKey("k"))
		require.NoError(t, err)

		assert.NoError(t, c.Ping(context.Background()))
		got := <-reqs
		assert.Equal(t, http.MethodHead, got.Method)
		assert.Equal(t, "k", got.Header.Get("apikey"))
	})

	t.Run("gateway error is unreachable", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusBadGateway, "")
		c, err := New(srv.URL)
		require.NoError(t, err)

		assert.True(t, core.IsConnectivity(c.Ping(context.Background())))
	})
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)

	_, err = New("not a url")
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	hc := &http.Client{Timeout: time.Minute}
	c, err := New("https://example.supabase.co/rest/v1", WithHTTPClient(hc), WithHTTPClient(nil), WithLogger(nil))
	require.NoError(t, err)

	assert.Same(t, hc, c.http)
	assert.NotNil(t, c.logger)
	assert.Equal(t, "https://example.supabase.co/rest/v1", c.baseURL.String())
}
