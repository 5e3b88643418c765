package spo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// staticTokenCache returns a cache whose fetch always yields bearer.
func staticTokenCache(bearer string) *TokenCache {
	return NewTokenCache(func(_ context.Context) (string, time.Duration, error) {
		return bearer, time.Hour, nil
	}, slog.Default())
}

// newTestSession creates a Session with instant retry sleeps.
func newTestSession(t *testing.T, token *TokenCache) *Session {
	t.Helper()

	s := NewSession(http.DefaultClient, token, "@odata.nextLink", nil, slog.Default())
	s.sleepFunc = noopSleep

	return s
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"hello":"world"}`))
	}))
	defer srv.Close()

	session := newTestSession(t, staticTokenCache("test-token"))

	var body map[string]string
	require.NoError(t, session.Fetch(context.Background(), srv.URL, &body))
	assert.Equal(t, "world", body["hello"])
}

func TestFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	session := newTestSession(t, staticTokenCache("test-token"))

	var body map[string]string
	err := session.Fetch(context.Background(), srv.URL, &body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetch_UnauthorizedInvalidatesTokenAndRetriesOnce(t *testing.T) {
	var fetches atomic.Int32

	token := NewTokenCache(func(_ context.Context) (string, time.Duration, error) {
		n := fetches.Add(1)

		return fmt.Sprintf("token-%d", n), time.Hour, nil
	}, slog.Default())

	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	session := newTestSession(t, token)

	var body map[string]bool
	require.NoError(t, session.Fetch(context.Background(), srv.URL, &body))
	assert.True(t, body["ok"])
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, int32(2), fetches.Load())
}

func TestFetch_UnauthorizedTwiceFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	session := newTestSession(t, staticTokenCache("test-token"))

	var body map[string]bool
	err := session.Fetch(context.Background(), srv.URL, &body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	session := newTestSession(t, staticTokenCache("test-token"))

	var body map[string]bool
	require.NoError(t, session.Fetch(context.Background(), srv.URL, &body))
	assert.Equal(t, int32(3), requests.Load())
}

func TestFetch_RetryBudgetIsBounded(t *testing.T) {
	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	session := newTestSession(t, staticTokenCache("test-token"))

	var body map[string]bool
	err := session.Fetch(context.Background(), srv.URL, &body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), requests.Load())
}

func TestFetch_ClientErrorsAreNotRetried(t *testing.T) {
	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	session := newTestSession(t, staticTokenCache("test-token"))

	var body map[string]bool
	err := session.Fetch(context.Background(), srv.URL, &body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), requests.Load())
}

func TestScroll_TwoPages(t *testing.T) {
	var srvURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/page-one", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":           []int{1, 2, 3},
			"@odata.nextLink": srvURL + "/page-two",
		})
	})
	mux.HandleFunc("/page-two", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []int{4, 5, 6},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	srvURL = srv.URL

	session := newTestSession(t, staticTokenCache("test-token"))

	var pages [][]json.RawMessage

	for page, err := range session.Scroll(context.Background(), srv.URL+"/page-one") {
		require.NoError(t, err)

		pages = append(pages, page)
	}

	require.Len(t, pages, 2)
	assert.Len(t, pages[0], 3)
	assert.Len(t, pages[1], 3)
}

func TestScroll_NotFoundOnFirstPageYieldsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	session := newTestSession(t, staticTokenCache("test-token"))

	batches := 0

	for _, err := range session.Scroll(context.Background(), srv.URL) {
		require.NoError(t, err)

		batches++
	}

	assert.Zero(t, batches)
}

func TestScroll_NotFoundOnLaterPagePropagates(t *testing.T) {
	var srvURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/first", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":           []int{1},
			"@odata.nextLink": srvURL + "/vanished",
		})
	})
	mux.HandleFunc("/vanished", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	srvURL = srv.URL

	session := newTestSession(t, staticTokenCache("test-token"))

	var (
		batches   int
		scrollErr error
	)

	for page, err := range session.Scroll(context.Background(), srv.URL+"/first") {
		if err != nil {
			scrollErr = err

			break
		}

		batches++
		_ = page
	}

	assert.Equal(t, 1, batches)
	require.Error(t, scrollErr)
	assert.ErrorIs(t, scrollErr, ErrNotFound)
}

func TestScroll_StopsFetchingWhenConsumerStops(t *testing.T) {
	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":           []int{1},
			"@odata.nextLink": "http://" + r.Host + r.URL.Path,
		})
	}))
	defer srv.Close()

	session := newTestSession(t, staticTokenCache("test-token"))

	for range session.Scroll(context.Background(), srv.URL) {
		break
	}

	assert.Equal(t, int32(1), requests.Load())
}

func TestPipe_StreamsBytesUnmodified(t *testing.T) {
	payload := []byte("This is the raw binary payload")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	session := newTestSession(t, staticTokenCache("test-token"))

	var buf bytes.Buffer

	n, err := session.Pipe(context.Background(), srv.URL, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.Bytes())
}
