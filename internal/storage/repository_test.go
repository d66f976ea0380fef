package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	store, err := NewStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	repo := NewRepository(store)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func TestRepository_Runs(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	jobID := "job-" + uuid.NewString()

	msg := "boom"
	older := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
	_, err := repo.RecordRun(ctx, RunRecord{JobID: jobID, Success: false, Error: &msg, StartedAt: older})
	require.NoError(t, err)
	id, err := repo.RecordRun(ctx, RunRecord{JobID: jobID, Success: true, ProcessedRecords: 4, StartedAt: time.Now().UTC(), DurationMS: 12})
	require.NoError(t, err)

	runs, err := repo.ListRuns(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, id, runs[0].ID)
	assert.True(t, runs[0].Success)
	require.NotNil(t, runs[1].Error)
	assert.Equal(t, "boom", *runs[1].Error)

	got, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, got.ProcessedRecords)

	_, err = repo.GetRun(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_Executions(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	scheduleID := "sched-" + uuid.NewString()

	_, err := repo.RecordExecution(ctx, ExecutionRecord{ScheduleID: scheduleID, JobType: "all", ExecutedAt: time.Now().UTC()})
	require.NoError(t, err)

	execs, err := repo.ListExecutions(ctx, scheduleID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "all", execs[0].JobType)
	assert.Empty(t, execs[0].JobID)
	assert.Nil(t, execs[0].Error)
}
