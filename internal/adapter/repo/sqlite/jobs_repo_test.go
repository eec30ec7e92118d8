package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newJob() domain.Job {
	return domain.Job{
		Spec: domain.JobSpec{Prompt: "A beautiful sunset", Duration: 5, AspectRatio: "16:9"},
	}
}

func TestJobCreateGetRoundTrip(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	ctx := context.Background()

	id, err := repo.Create(ctx, newJob())
	require.NoError(t, err)
	require.Positive(t, id)

	j, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDraft, j.Status)
	assert.Equal(t, "A beautiful sunset", j.Spec.Prompt)
	assert.Equal(t, domain.DefaultMaxRetries, j.MaxRetries)
	assert.False(t, j.CreatedAt.IsZero())
	assert.NotNil(t, j.TaskState)
}

func TestJobGetMissing(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	_, err := repo.Get(context.Background(), 999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobUpdatePersistsTaskState(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	ctx := context.Background()
	id, err := repo.Create(ctx, newJob())
	require.NoError(t, err)

	j, err := repo.Get(ctx, id)
	require.NoError(t, err)
	j.Status = domain.JobGenerating
	j.AccountID = 42
	j.TaskState.SetTask("generate", map[string]any{"status": domain.TaskStatusCompleted, "task_id": "T1"})
	j.TaskState.SetTask("poll", map[string]any{"status": domain.TaskStatusPending})
	j.TaskState.SetCurrent("poll")
	require.NoError(t, repo.Update(ctx, j))

	back, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobGenerating, back.Status)
	assert.Equal(t, int64(42), back.AccountID)
	assert.Equal(t, "T1", back.TaskState.Task("generate")["task_id"])
	assert.Equal(t, "poll", back.TaskState.Current())
	assert.True(t, back.UpdatedAt.After(back.CreatedAt) || back.UpdatedAt.Equal(back.CreatedAt))
}

func TestJobUpdateStatusAndProgress(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	ctx := context.Background()
	id, err := repo.Create(ctx, newJob())
	require.NoError(t, err)

	msg := "heavy_load: try later"
	require.NoError(t, repo.UpdateStatus(ctx, id, domain.JobFailed, &msg))
	require.NoError(t, repo.UpdateProgress(ctx, id, 140)) // clamped

	j, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, j.Status)
	assert.Equal(t, msg, j.ErrorMessage)
	assert.Equal(t, 100, j.Percent)

	require.ErrorIs(t, repo.UpdateStatus(ctx, 999, domain.JobFailed, nil), domain.ErrNotFound)
}

func TestJobUpdateIfStatusGuardsRaces(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	ctx := context.Background()
	id, err := repo.Create(ctx, newJob())
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, id, domain.JobProcessing, nil))

	j, err := repo.Get(ctx, id)
	require.NoError(t, err)

	// Another writer moves the job while we hold the processing snapshot.
	require.NoError(t, repo.UpdateStatus(ctx, id, domain.JobCancelled, nil))

	j.Status = domain.JobGenerating
	ok, err := repo.UpdateIfStatus(ctx, j, domain.JobProcessing)
	require.NoError(t, err)
	assert.False(t, ok, "stale snapshot must not win")

	back, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, back.Status)

	// With a fresh snapshot the guarded write goes through.
	back.Status = domain.JobPending
	ok, err = repo.UpdateIfStatus(ctx, back, domain.JobCancelled)
	require.NoError(t, err)
	assert.True(t, ok)
	back, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, back.Status)

	ok, err = repo.UpdateIfStatus(ctx, domain.Job{ID: 999}, domain.JobPending)
	require.NoError(t, err)
	assert.False(t, ok, "missing row reports a lost race, not an error")
}

func TestJobListFilterAndPage(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id, err := repo.Create(ctx, newJob())
		require.NoError(t, err)
		if i%2 == 0 {
			require.NoError(t, repo.UpdateStatus(ctx, id, domain.JobPending, nil))
		}
	}

	pending, err := repo.List(ctx, 0, 10, domain.JobPending)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	page, err := repo.List(ctx, 0, 2, "")
	require.NoError(t, err)
	assert.Len(t, page, 2)
	// Newest first.
	assert.Greater(t, page[0].ID, page[1].ID)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.JobPending])
	assert.Equal(t, 2, counts[domain.JobDraft])
}

func TestJobListByStatusesAndStale(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	ctx := context.Background()

	id1, err := repo.Create(ctx, newJob())
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, id1, domain.JobGenerating, nil))
	id2, err := repo.Create(ctx, newJob())
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, id2, domain.JobDone, nil))

	active, err := repo.ListByStatuses(ctx, domain.ActiveStatuses...)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id1, active[0].ID)

	// Nothing is stale yet; with a future cutoff everything active is.
	stale, err := repo.ListStale(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
	stale, err = repo.ListStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}

func TestJobFindByVideoID(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	ctx := context.Background()
	id, err := repo.Create(ctx, newJob())
	require.NoError(t, err)
	j, err := repo.Get(ctx, id)
	require.NoError(t, err)
	j.VideoID = "V123"
	require.NoError(t, repo.Update(ctx, j))

	found, err := repo.FindByVideoID(ctx, "V123")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
	_, err = repo.FindByVideoID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobBulkOps(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := repo.Create(ctx, newJob())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, repo.BulkUpdateStatus(ctx, ids[:2], domain.JobPending))
	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.JobPending])

	require.NoError(t, repo.BulkDelete(ctx, ids))
	counts, err = repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	// Empty id lists are no-ops.
	require.NoError(t, repo.BulkDelete(ctx, nil))
	require.NoError(t, repo.BulkUpdateStatus(ctx, nil, domain.JobPending))
}

func TestMigrateIsAdditiveAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.db")
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	// Simulate an old schema missing later columns.
	_, err = db.Exec(`CREATE TABLE jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt TEXT NOT NULL,
		duration INTEGER NOT NULL,
		aspect_ratio TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		percent INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT ''
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO jobs (prompt, duration, aspect_ratio) VALUES ('old', 5, '16:9')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	migrated, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = migrated.Close() }()

	repo := NewJobRepo(migrated)
	j, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "old", j.Spec.Prompt)
	assert.Equal(t, 0, j.RetryCount)

	// Re-opening must not fail on already-present columns.
	again, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
