package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealsignal/internal/config"
	"dealsignal/internal/logger"
)

func apiConfig(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		ID:      "crunch",
		Kind:    config.KindAPI,
		BaseURL: baseURL,
		Endpoints: map[string]string{
			"health":  "/health",
			"funding": "/v1/funding",
			"wrapped": "/v1/wrapped",
			"single":  "/v1/single",
			"broken":  "/v1/broken",
		},
		Headers: map[string]string{"X-Client": "dealsignal"},
		Auth:    config.AuthConfig{Token: "secret"},
	}
}

type apiServer struct {
	*httptest.Server
	healthy   atomic.Bool
	dataCalls atomic.Int32
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	s := &apiServer{}
	s.healthy.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !s.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set(rateLimitHeader, "42")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/funding", func(w http.ResponseWriter, r *http.Request) {
		s.dataCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("X-Client") != "dealsignal" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set(rateLimitHeader, "41")
		_, _ = w.Write([]byte(`[{"company":"Acme","round":"` + r.URL.Query().Get("round") + `"},{"company":"Beta"},7]`))
	})
	mux.HandleFunc("/v1/wrapped", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"meta":{"page":1},"items":[{"company":"Acme"}]}`))
	})
	mux.HandleFunc("/v1/single", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"company":"Solo"}`))
	})
	mux.HandleFunc("/v1/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestAPIConnector_CheckHealth(t *testing.T) {
	srv := newAPIServer(t)
	c := NewAPIConnector(apiConfig(srv.URL), srv.Client(), Limits{}, logger.NewNop())

	_, ok := c.Status()
	assert.False(t, ok)

	st := c.CheckHealth(context.Background())
	assert.True(t, st.Connected)
	assert.Empty(t, st.Error)
	require.NotNil(t, st.RateLimitRemaining)
	assert.Equal(t, 42, *st.RateLimitRemaining)

	srv.healthy.Store(false)
	st = c.CheckHealth(context.Background())
	assert.False(t, st.Connected)
	assert.Contains(t, st.Error, "503")
	last, ok := c.Status()
	assert.True(t, ok)
	assert.Equal(t, st, last)
}

func TestAPIConnector_FetchDecodesShapes(t *testing.T) {
	srv := newAPIServer(t)
	c := NewAPIConnector(apiConfig(srv.URL), srv.Client(), Limits{}, logger.NewNop())
	ctx := context.Background()

	records, err := c.Fetch(ctx, "funding", map[string]string{"round": "seed"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Acme", records[0]["company"])
	assert.Equal(t, "seed", records[0]["round"])

	st, _ := c.Status()
	require.NotNil(t, st.RateLimitRemaining)
	assert.Equal(t, 41, *st.RateLimitRemaining)

	records, err = c.Fetch(ctx, "wrapped", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Acme", records[0]["company"])

	records, err = c.Fetch(ctx, "single", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Solo", records[0]["company"])
}

func TestAPIConnector_FetchSkippedWhenUnreachable(t *testing.T) {
	srv := newAPIServer(t)
	srv.healthy.Store(false)
	c := NewAPIConnector(apiConfig(srv.URL), srv.Client(), Limits{}, logger.NewNop())

	records, err := c.Fetch(context.Background(), "funding", nil)
	assert.Nil(t, records)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))
	var connErr *ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "crunch", connErr.SourceID)
	assert.Equal(t, int32(0), srv.dataCalls.Load())

	st, ok := c.Status()
	assert.True(t, ok)
	assert.False(t, st.Connected)
	assert.NotEmpty(t, st.Error)
}

func TestAPIConnector_FetchFailureMarksDisconnected(t *testing.T) {
	srv := newAPIServer(t)
	c := NewAPIConnector(apiConfig(srv.URL), srv.Client(), Limits{}, logger.NewNop())

	_, err := c.Fetch(context.Background(), "broken", nil)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "broken", fetchErr.Endpoint)
	assert.False(t, errors.Is(err, ErrNotConnected))

	st, _ := c.Status()
	assert.False(t, st.Connected)
	assert.Contains(t, st.Error, "500")

	// the next fetch re-checks health and recovers
	_, err = c.Fetch(context.Background(), "funding", nil)
	require.NoError(t, err)
	st, _ = c.Status()
	assert.True(t, st.Connected)
}

func TestAPIConnector_UnknownEndpoint(t *testing.T) {
	srv := newAPIServer(t)
	c := NewAPIConnector(apiConfig(srv.URL), srv.Client(), Limits{}, logger.NewNop())

	_, err := c.Fetch(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownEndpoint)
	_, ok := c.Status()
	assert.False(t, ok)
}

func TestAPIConnector_StaleHealthIsRechecked(t *testing.T) {
	srv := newAPIServer(t)
	c := NewAPIConnector(apiConfig(srv.URL), srv.Client(), Limits{HealthTTL: time.Minute}, logger.NewNop())
	now := time.Now()
	c.now = func() time.Time { return now }

	require.True(t, c.CheckHealth(context.Background()).Connected)
	srv.healthy.Store(false)

	_, err := c.Fetch(context.Background(), "funding", nil)
	require.NoError(t, err, "fresh health state is trusted")

	now = now.Add(2 * time.Minute)
	_, err = c.Fetch(context.Background(), "funding", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAPIConnector_MaxRecords(t *testing.T) {
	srv := newAPIServer(t)
	c := NewAPIConnector(apiConfig(srv.URL), srv.Client(), Limits{MaxRecords: 1}, logger.NewNop())

	records, err := c.Fetch(context.Background(), "funding", nil)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAPIConnector_TimeoutIsConnectivityFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			<-release
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := config.SourceConfig{ID: "slow", Kind: config.KindAPI, BaseURL: srv.URL, Endpoints: map[string]string{"slow": "/slow"}}
	c := NewAPIConnector(cfg, srv.Client(), Limits{FetchTimeout: 50 * time.Millisecond}, logger.NewNop())

	_, err := c.Fetch(context.Background(), "slow", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	st, _ := c.Status()
	assert.False(t, st.Connected)
}

func TestResolveURL(t *testing.T) {
	u, err := resolveURL("https://api.example.com/", "/v1/deals", map[string]string{"q": "a b"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/deals?q=a+b", u)

	u, err = resolveURL("https://api.example.com", "https://other.example.com/x", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/x", u)
}
