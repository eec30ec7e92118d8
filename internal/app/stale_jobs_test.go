package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-video-pipeline/internal/pipeline"
)

func TestStaleJobSweeper(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := sqlite.NewJobRepo(db)
	bus := pipeline.NewTaskBus(4, 4, 4)

	mkJob := func(status domain.JobStatus) int64 {
		id, err := repo.Create(ctx, domain.Job{
			Spec:      domain.JobSpec{Prompt: "p", Duration: 5, AspectRatio: "16:9"},
			Status:    status,
			TaskState: domain.TaskState{},
		})
		require.NoError(t, err)
		return id
	}
	backdate := func(id int64, age time.Duration) {
		stamp := time.Now().Add(-age).UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
		_, err := db.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE id = ?`, stamp, id)
		require.NoError(t, err)
	}

	stuck := mkJob(domain.JobProcessing)
	backdate(stuck, time.Hour)
	bus.Activate(stuck)

	queued := mkJob(domain.JobPending)
	backdate(queued, time.Hour)

	fresh := mkJob(domain.JobGenerating)

	s := NewStaleJobSweeper(repo, bus, 15*time.Minute, time.Hour)
	s.sweepOnce(ctx)

	got, err := repo.Get(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, got.Status)
	assert.Zero(t, got.Percent)
	assert.False(t, bus.IsActive(stuck), "reset jobs leave the active set")

	got, err = repo.Get(ctx, queued)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, got.Status, "queued jobs are not stuck")

	got, err = repo.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.JobGenerating, got.Status, "recently touched jobs are untouched")
}

func TestStaleJobSweeperNilSafe(t *testing.T) {
	assert.Nil(t, NewStaleJobSweeper(nil, nil, 0, 0))
	var s *StaleJobSweeper
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nil sweeper Run should return immediately")
	}
}

func TestBuildReadinessChecks(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dbCheck, redisCheck := BuildReadinessChecks(db, nil)
	assert.NoError(t, dbCheck(ctx))
	assert.Nil(t, redisCheck)

	dbCheck, _ = BuildReadinessChecks(nil, nil)
	assert.Error(t, dbCheck(ctx))
}
