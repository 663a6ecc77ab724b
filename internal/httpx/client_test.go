package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	client, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	client.sleep = func(time.Duration) {}
	return client
}

func TestDoRetriesTransientStatuses(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	client := newTestClient(t, Config{MaxAttempts: 5})
	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{MaxAttempts: 5})
	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{MaxAttempts: 3})
	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The final attempt's response is returned as-is.
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoRewindsPostBodyOnRetry(t *testing.T) {
	t.Parallel()

	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newTestClient(t, Config{MaxAttempts: 3})
	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodPost, srv.URL, strings.NewReader(`{"q":"test"}`))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, `{"q":"test"}`, bodies[0])
	assert.Equal(t, `{"q":"test"}`, bodies[1])
}

func TestDoSetsBrowserHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newTestClient(t, Config{})
	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, DefaultAcceptLanguage, gotLang)
}

func TestBackoffIsDeterministic(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, Config{
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  1 * time.Second,
	})

	assert.Equal(t, 100*time.Millisecond, client.backoff(1))
	assert.Equal(t, 200*time.Millisecond, client.backoff(2))
	assert.Equal(t, 400*time.Millisecond, client.backoff(3))
	assert.Equal(t, 800*time.Millisecond, client.backoff(4))
	assert.Equal(t, 1*time.Second, client.backoff(5))
	assert.Equal(t, 1*time.Second, client.backoff(6))
}

func TestIsStatus(t *testing.T) {
	t.Parallel()

	err := &StatusError{StatusCode: 400, URL: "http://example.test"}
	assert.True(t, IsStatus(err, 400, 422))
	assert.False(t, IsStatus(err, 404))
	assert.Equal(t, 400, StatusOf(err))
	assert.Equal(t, 0, StatusOf(io.EOF))
}
