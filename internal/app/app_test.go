package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealsignal/internal/config"
	"dealsignal/internal/etl"
	"dealsignal/internal/logger"
)

const dealsJSON = `[
  {"companyId":"c1","companyName":"Acme","type":"series_a","amount":"$12M","industry":"Fintech"},
  {"companyId":"c2","companyName":"Globex","type":"acquisition","amount":250000000}
]`

func newDealsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/deals", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(dealsJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testPipeline(t *testing.T, baseURL string) *config.Pipeline {
	t.Helper()
	doc := fmt.Sprintf(`
sources:
  - id: deals-api
    kind: api
    baseUrl: %s
    endpoints:
      health: /health
      deals: /deals
jobs:
  - id: job1
    sourceId: deals-api
    endpoint: deals
    transformations:
      - kind: normalize
        monetaryFields: [amount]
    destination: signals
schedules:
  - id: s1
    jobType: etl
    jobId: job1
    frequency: daily
    enabled: true
channels:
  - id: phone
    type: mobile
    config:
      device: tok-1
    enabled: true
rules:
  - id: big-rounds
    name: Big rounds
    eventType: funding
    conditions:
      minAmount: 10000000
    channels: [mobile]
    enabled: true
`, baseURL)
	p, err := config.ParsePipeline([]byte(doc))
	require.NoError(t, err)
	return p
}

func TestAppRunsScheduleEndToEnd(t *testing.T) {
	srv := newDealsServer(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	settings := config.Settings{}
	settings.Scheduler.Autostart = true

	a, err := New(context.Background(), settings, testPipeline(t, srv.URL), logger.NewNop(), Options{
		HTTPClient: srv.Client(),
		Redis:      rdb,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	job, ok := a.Runner.Job("job1")
	require.True(t, ok)
	assert.Equal(t, etl.StatusIdle, job.Status().Status)

	a.Start(context.Background())
	assert.True(t, a.Scheduler.Status().Running)

	require.NoError(t, a.Scheduler.RunNow(context.Background(), "s1"))
	status := job.Status()
	assert.Equal(t, etl.StatusCompleted, status.Status)
	assert.Equal(t, 2, status.ProcessedRecords)
	assert.NotNil(t, status.LastRun)

	inbox := a.Notifications.Notifications()
	require.Len(t, inbox, 2)
	titles := []string{inbox[0].Title, inbox[1].Title}
	assert.Contains(t, titles, "Acme raised funding")
	assert.Contains(t, titles, "Globex acquisition")

	deliveries := a.Notifications.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "phone", deliveries[0].ChannelID)
	assert.Empty(t, deliveries[0].Error)

	recent := a.Refreshes.Recent()
	require.NotEmpty(t, recent)
	assert.Equal(t, "s1", recent[0].ScheduleID)
	assert.Empty(t, recent[0].Error)
}

func TestAppHandlerServesStatus(t *testing.T) {
	srv := newDealsServer(t)
	a, err := New(context.Background(), config.Settings{}, testPipeline(t, srv.URL), nil, Options{HTTPClient: srv.Client()})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "scheduler")
	assert.Contains(t, body, "pipelines")

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppRejectsBadEncryptionKey(t *testing.T) {
	settings := config.Settings{EncryptionKey: "not-a-key"}
	_, err := New(context.Background(), settings, &config.Pipeline{}, nil, Options{})
	require.Error(t, err)
}

func TestAppRejectsBadFrequencySpec(t *testing.T) {
	settings := config.Settings{Frequencies: map[string]string{"daily": "not a cron"}}
	_, err := New(context.Background(), settings, &config.Pipeline{}, nil, Options{})
	require.Error(t, err)
}

func TestAppSimulatorRegistered(t *testing.T) {
	settings := config.Settings{}
	settings.Simulation.Enabled = true
	settings.Simulation.Probability = 1
	a, err := New(context.Background(), settings, &config.Pipeline{}, nil, Options{})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.Simulator)

	_, ok := a.Simulator.Tick(context.Background())
	assert.True(t, ok)
	assert.Len(t, a.Notifications.Notifications(), 1)
	assert.NotEmpty(t, a.Notifications.Notifications()[0].Title)
}
