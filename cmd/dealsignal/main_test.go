package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealsignal/internal/app"
	"dealsignal/internal/config"
	"dealsignal/internal/crypto"
	"dealsignal/internal/logger"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidatePipelineListsProblems(t *testing.T) {
	path := writeFile(t, "pipeline.yaml", `
sources:
  - id: s
    kind: ftp
jobs:
  - id: j
    sourceId: missing
`)
	var out bytes.Buffer
	err := validatePipeline(&out, path)
	require.Error(t, err)
	assert.Contains(t, out.String(), "problem(s)")
	assert.Contains(t, out.String(), `unknown kind "ftp"`)
	assert.Contains(t, out.String(), `unknown source "missing"`)
}

func TestValidatePipelineOK(t *testing.T) {
	path := writeFile(t, "pipeline.yaml", `
sources:
  - id: api
    kind: api
    baseUrl: https://example.test
    endpoints:
      deals: /deals
`)
	var out bytes.Buffer
	require.NoError(t, validatePipeline(&out, path))
	assert.Contains(t, out.String(), "ok (1 sources, 0 jobs")
}

func TestValidateCommandUsesArgument(t *testing.T) {
	path := writeFile(t, "pipeline.yaml", "sources: []\n")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", path})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), path+": ok"))
}

func TestRunSchedulesRendersTables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"companyId":"c1","type":"seed"}]}`))
	}))
	t.Cleanup(srv.Close)

	pipeline, err := config.ParsePipeline([]byte(`
sources:
  - id: deals-api
    kind: api
    baseUrl: ` + srv.URL + `
    endpoints:
      deals: /deals
jobs:
  - id: job1
    sourceId: deals-api
    destination: none
schedules:
  - id: s1
    jobType: etl
    jobId: job1
    frequency: daily
    enabled: true
`))
	require.NoError(t, err)
	a, err := app.New(context.Background(), config.Settings{}, pipeline, logger.NewNop(), app.Options{HTTPClient: srv.Client()})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	var out bytes.Buffer
	err = runSchedules(context.Background(), &out, a, []string{"s1", "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	text := strings.ToLower(out.String())
	assert.Contains(t, text, "runs")
	assert.Contains(t, text, "deals-api")
	assert.Contains(t, text, "job1")
	assert.Contains(t, text, "completed")
	assert.Contains(t, text, "failed")
}

func TestEncryptCommandSealsSecret(t *testing.T) {
	const key = "0123456789abcdef0123456789abcdef"
	t.Setenv("DEALSIGNAL_ENCRYPTION_KEY", key)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"encrypt", "s3cret"})
	require.NoError(t, cmd.Execute())

	sealed := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(sealed, crypto.EncryptedPrefix))

	sealer, err := crypto.NewSealer([]byte(key))
	require.NoError(t, err)
	plain, err := sealer.Resolve(sealed)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)
}
