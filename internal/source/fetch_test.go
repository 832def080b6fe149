package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageFetcherConditionalGet(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		assert.Equal(t, "ja,en;q=0.9", r.Header.Get("Accept-Language"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, "<html>schedule</html>")
	}))
	defer srv.Close()

	f := NewPageFetcher(t.TempDir(), srv.Client())

	body, err := f.Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>schedule</html>", string(body))

	body, err = f.Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>schedule</html>", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestPageFetcherFailureIgnoresCachedCopy(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "cached page")
	}))
	defer srv.Close()

	f := NewPageFetcher(t.TempDir(), srv.Client())
	_, err := f.Load(context.Background(), srv.URL)
	require.NoError(t, err)

	fail.Store(true)
	body, err := f.Load(context.Background(), srv.URL)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Nil(t, body)
}

func TestPageFetcherStatusErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewPageFetcher("", srv.Client()).Load(context.Background(), srv.URL)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://holodex.net/...(redacted)", redactURL("https://holodex.net/api/v2/live?key=abc"))
	assert.Equal(t, "...(redacted)", redactURL("not a url"))
}

func TestHololiveOutageAfterCachedFetchIsEmpty(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("ETag", `"d1"`)
		fmt.Fprint(w, holoduleFixture)
	}))
	defer srv.Close()

	h := NewHololive(srv.URL, NewPageFetcher(t.TempDir(), srv.Client()))
	h.now = fixedNow(time.Date(2025, 3, 10, 9, 0, 0, 0, tokyoZone))
	require.NotEmpty(t, h.Fetch(context.Background()))

	// Three days later the 03/10 token would roll into next year if the
	// old page were parsed again.
	fail.Store(true)
	h.now = fixedNow(time.Date(2025, 3, 13, 9, 0, 0, 0, tokyoZone))
	assert.Empty(t, h.Fetch(context.Background()))
}
