package sync

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/teamsync/agent/internal/errors"
)

type capturedRequest struct {
	method string
	path   string
	header http.Header
	body   []byte
}

func newReplayTarget(t *testing.T, status int) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()
	requests := make(chan capturedRequest, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- capturedRequest{method: r.Method, path: r.URL.EscapedPath(), header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte("nope"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func TestHTTPReplayer_post(t *testing.T) {
	srv, requests := newReplayTarget(t, http.StatusCreated)
	r := NewHTTPReplayer(srv.URL+"/", time.Second, 0)

	op := Operation{Path: "/api/training/sessions", Method: http.MethodPost, SendBody: true}
	err := r.Do(context.Background(), op, "Bearer abc", map[string]interface{}{"name": "A"})
	require.NoError(t, err)

	got := <-requests
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/training/sessions", got.path)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "Bearer abc", got.header.Get("Authorization"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(got.body, &body))
	assert.Equal(t, "A", body["name"])
}

func TestHTTPReplayer_deleteHasNoBody(t *testing.T) {
	srv, requests := newReplayTarget(t, http.StatusNoContent)
	r := NewHTTPReplayer(srv.URL, time.Second, 0)

	op := Operation{Path: "/api/training/sessions/w9", Method: http.MethodDelete}
	require.NoError(t, r.Do(context.Background(), op, "", map[string]interface{}{"id": "w9"}))

	got := <-requests
	assert.Equal(t, http.MethodDelete, got.method)
	assert.Empty(t, got.body)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Empty(t, got.header.Get("Authorization"), "empty credential is sent as-is")
}

func TestHTTPReplayer_non2xx(t *testing.T) {
	srv, _ := newReplayTarget(t, http.StatusInternalServerError)
	r := NewHTTPReplayer(srv.URL, time.Second, 0)

	err := r.Do(context.Background(), Operation{Path: "/api/training/sessions", Method: http.MethodPost, SendBody: true}, "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNetworkFailure))

	var httpErr *HTTPError
	require.True(t, stderrors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, "nope", httpErr.Message)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPReplayer_transportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := NewHTTPReplayer(url, time.Second, 0)
	err := r.Do(context.Background(), Operation{Path: "/x", Method: http.MethodPost, SendBody: true}, "", nil)
	assert.True(t, errors.Is(err, errors.ErrNetworkFailure), "got %v", err)
}

func TestHTTPReplayer_cancelledWhileRateLimited(t *testing.T) {
	srv, _ := newReplayTarget(t, http.StatusOK)
	r := NewHTTPReplayer(srv.URL, time.Second, 0.001)

	op := Operation{Path: "/x", Method: http.MethodPost, SendBody: true}
	require.NoError(t, r.Do(context.Background(), op, "", nil), "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Do(ctx, op, "", nil)
	assert.True(t, errors.Is(err, errors.ErrNetworkFailure))
}
