package notion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirect sends every request to srv regardless of its original host.
type redirect struct {
	srv *httptest.Server
}

func (r redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	u, _ := url.Parse(r.srv.URL)
	req = req.Clone(req.Context())
	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("secret", WithRateLimit(0), WithHTTPClient(&http.Client{Transport: redirect{srv}}))
}

func TestClient_GetDatabase(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Contains(t, r.URL.Path, "/databases/db-1")
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "database",
			"id":     "db-1",
			"properties": map[string]any{
				"Name": map[string]any{"id": "title", "type": "title", "title": map[string]any{}},
			},
		})
	})

	db, err := c.GetDatabase(context.Background(), "db-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Name"}, PropertyNames(db))
}

func TestClient_APIErrorStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"object":"error","status":400,"code":"validation_error","message":"bad property"}`))
	})

	_, err := c.CreatePage(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: create page")
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	c := NewClient("secret", WithRateLimit(0.001))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetDatabase(ctx, "db-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Zero(t, StatusCode(io.EOF))
	assert.Zero(t, StatusCode(nil))
}
