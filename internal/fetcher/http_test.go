package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-enrich/internal/resilience"
)

func testOptions() Options {
	return Options{RatePerSecond: 1000, Retry: resilience.NoSleep(resilience.DefaultRetryConfig())}
}

func TestHTTPDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "deal-enrich/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[{"deal_id":"A"}]`))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(testOptions()).Download(context.Background(), srv.URL+"/deals.json")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, `[{"deal_id":"A"}]`, string(data))
}

func TestHTTPDownload_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(testOptions()).Download(context.Background(), srv.URL)
	require.NoError(t, err)
	body.Close() //nolint:errcheck
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDownload_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(testOptions()).Download(context.Background(), srv.URL)
	require.Error(t, err)
	var pe *resilience.PermanentError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPDownload_RetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(testOptions()).Download(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "http 429")
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(Options{})
	assert.Equal(t, "deal-enrich/1.0", f.opts.UserAgent)
	assert.Equal(t, 3, f.opts.Retry.MaxAttempts)
	assert.NotNil(t, f.limiter)
}
