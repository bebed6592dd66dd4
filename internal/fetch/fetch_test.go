package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "actimport/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("a,b\n1,2\n")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{})
	rc, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 3, Timeout: 5 * time.Second})
	rc, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer rc.Close()
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestHTTPFetcher_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{})
	_, err := f.Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpen_DispatchesByScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data")) //nolint:errcheck
	}))
	defer srv.Close()

	rc, err := Open(context.Background(), srv.URL)
	require.NoError(t, err)
	rc.Close()

	_, err = Open(context.Background(), "gopher://example.com/file.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestParseFTPURL(t *testing.T) {
	host, path, err := parseFTPURL("ftp://files.example.org/exports/activities.csv")
	require.NoError(t, err)
	assert.Equal(t, "files.example.org:21", host)
	assert.Equal(t, "/exports/activities.csv", path)

	host, _, err = parseFTPURL("ftp://files.example.org:2121/x.csv")
	require.NoError(t, err)
	assert.Equal(t, "files.example.org:2121", host)

	_, _, err = parseFTPURL("http://example.org/x.csv")
	require.Error(t, err)

	_, _, err = parseFTPURL("ftp://example.org")
	require.Error(t, err)
}
