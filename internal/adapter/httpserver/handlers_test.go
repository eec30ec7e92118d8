package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/videoapi/stub"
	"github.com/fairyhunter13/ai-video-pipeline/internal/config"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-video-pipeline/internal/pipeline"
	"github.com/fairyhunter13/ai-video-pipeline/internal/usecase"
)

type fixture struct {
	t    *testing.T
	srv  *Server
	jobs domain.JobRepository
	bus  *pipeline.TaskBus
	api  *stub.API
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	jobRepo := sqlite.NewJobRepo(db)
	acctRepo := sqlite.NewAccountRepo(db)
	bus := pipeline.NewTaskBus(4, 4, 4)
	api := stub.New()
	pool := pipeline.NewAccountPool(acctRepo, api)

	cfg := config.Config{
		Platform:            "pixverse",
		UploadsDir:          t.TempDir(),
		DownloadsDir:        t.TempDir(),
		MaxUploadMB:         1,
		WorkerShutdownGrace: time.Second,
	}
	workers := pipeline.NewWorkers(cfg, jobRepo, acctRepo, bus, pool, api, nil, nil)
	sup := pipeline.NewSupervisor(cfg, jobRepo, acctRepo, bus, pool, workers)

	srv := NewServer(cfg,
		usecase.NewJobService(jobRepo, bus),
		usecase.NewAccountService(acctRepo, pool, nil),
		sup,
		func(ctx context.Context) error { return db.PingContext(ctx) },
		nil,
	)
	return &fixture{t: t, srv: srv, jobs: jobRepo, bus: bus, api: api}
}

// do invokes a handler directly, injecting chi URL params when given.
func do(h http.HandlerFunc, method, target string, body io.Reader, params map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if params != nil {
		rc := chi.NewRouteContext()
		for k, v := range params {
			rc.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func (f *fixture) createJob(prompt string) jobResponse {
	f.t.Helper()
	body := fmt.Sprintf(`{"prompt":%q,"duration":5,"aspect_ratio":"16:9"}`, prompt)
	rec := do(f.srv.CreateJobHandler(), http.MethodPost, "/v1/jobs", strings.NewReader(body), nil)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var jr jobResponse
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &jr))
	return jr
}

func idParam(id int64) map[string]string {
	return map[string]string{"id": fmt.Sprintf("%d", id)}
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t)

	jr := f.createJob("a cat surfing a wave")
	assert.Equal(t, domain.JobDraft, jr.Status)
	assert.Equal(t, 0, jr.Percent)
	assert.NotZero(t, jr.ID)

	t.Run("missing prompt", func(t *testing.T) {
		rec := do(f.srv.CreateJobHandler(), http.MethodPost, "/v1/jobs",
			strings.NewReader(`{"duration":5,"aspect_ratio":"16:9"}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_ARGUMENT", decodeErr(t, rec).Code)
	})
	t.Run("bad duration", func(t *testing.T) {
		rec := do(f.srv.CreateJobHandler(), http.MethodPost, "/v1/jobs",
			strings.NewReader(`{"prompt":"x","duration":7,"aspect_ratio":"16:9"}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("malformed json", func(t *testing.T) {
		rec := do(f.srv.CreateJobHandler(), http.MethodPost, "/v1/jobs",
			strings.NewReader(`{`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)
	created := f.createJob("sunset timelapse")

	rec := do(f.srv.GetJobHandler(), http.MethodGet, "/v1/jobs/1", nil, idParam(created.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	var got jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "sunset timelapse", got.Prompt)

	t.Run("unknown id", func(t *testing.T) {
		rec := do(f.srv.GetJobHandler(), http.MethodGet, "/v1/jobs/9999", nil, idParam(9999))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decodeErr(t, rec).Code)
	})
	t.Run("non numeric id", func(t *testing.T) {
		rec := do(f.srv.GetJobHandler(), http.MethodGet, "/v1/jobs/abc", nil, map[string]string{"id": "abc"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListJobs(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.createJob(fmt.Sprintf("prompt %d", i))
	}

	rec := do(f.srv.ListJobsHandler(), http.MethodGet, "/v1/jobs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Jobs  []jobResponse `json:"jobs"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 3, out.Count)

	t.Run("status filter", func(t *testing.T) {
		rec := do(f.srv.ListJobsHandler(), http.MethodGet, "/v1/jobs?status=failed", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, 0, out.Count)
	})
	t.Run("unknown status", func(t *testing.T) {
		rec := do(f.srv.ListJobsHandler(), http.MethodGet, "/v1/jobs?status=bogus", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("bad limit", func(t *testing.T) {
		rec := do(f.srv.ListJobsHandler(), http.MethodGet, "/v1/jobs?limit=9000", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStartJob(t *testing.T) {
	f := newFixture(t)
	jr := f.createJob("city drone shot")

	rec := do(f.srv.StartJobHandler(), http.MethodPost, "/v1/jobs/1/start", nil, idParam(jr.ID))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	job, err := f.jobs.Get(context.Background(), jr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.True(t, f.bus.IsActive(jr.ID))

	// A second start is an idempotent no-op while the job is queued.
	rec = do(f.srv.StartJobHandler(), http.MethodPost, "/v1/jobs/1/start", nil, idParam(jr.ID))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	t.Run("terminal job rejected", func(t *testing.T) {
		done := f.createJob("already finished")
		require.NoError(t, f.jobs.UpdateStatus(context.Background(), done.ID, domain.JobDone, nil))
		rec := do(f.srv.StartJobHandler(), http.MethodPost, "/v1/jobs/2/start", nil, idParam(done.ID))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "CONFLICT", decodeErr(t, rec).Code)
	})
}

func TestStartJobQueueFull(t *testing.T) {
	f := newFixture(t)
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, f.createJob(fmt.Sprintf("p%d", i)).ID)
	}
	for _, id := range ids[:4] {
		rec := do(f.srv.StartJobHandler(), http.MethodPost, "/v1/jobs/x/start", nil, idParam(id))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := do(f.srv.StartJobHandler(), http.MethodPost, "/v1/jobs/x/start", nil, idParam(ids[4]))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "QUEUE_FULL", decodeErr(t, rec).Code)

	// The job stays pending so a later start can pick it up.
	job, err := f.jobs.Get(context.Background(), ids[4])
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.False(t, f.bus.IsActive(ids[4]))
}

func TestCancelAndRetry(t *testing.T) {
	f := newFixture(t)
	jr := f.createJob("mountain flyover")
	ctx := context.Background()

	rec := do(f.srv.StartJobHandler(), http.MethodPost, "/start", nil, idParam(jr.ID))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(f.srv.CancelJobHandler(), http.MethodPost, "/cancel", nil, idParam(jr.ID))
	require.Equal(t, http.StatusAccepted, rec.Code)
	job, err := f.jobs.Get(ctx, jr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, job.Status)
	// No workers run in this fixture, so the queued task still holds the
	// active-set entry; a worker dequeuing it would drop it on sight.
	assert.True(t, f.bus.IsActive(jr.ID))

	// Cancelled jobs can be retried from scratch.
	rec = do(f.srv.RetryJobHandler(), http.MethodPost, "/retry", nil, idParam(jr.ID))
	require.Equal(t, http.StatusAccepted, rec.Code)
	job, err = f.jobs.Get(ctx, jr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)

	t.Run("downloading job cannot be cancelled", func(t *testing.T) {
		dl := f.createJob("late cancel")
		require.NoError(t, f.jobs.UpdateStatus(ctx, dl.ID, domain.JobDownload, nil))
		rec := do(f.srv.CancelJobHandler(), http.MethodPost, "/cancel", nil, idParam(dl.ID))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
	t.Run("retry requires terminal status", func(t *testing.T) {
		draft := f.createJob("still a draft")
		rec := do(f.srv.RetryJobHandler(), http.MethodPost, "/retry", nil, idParam(draft.ID))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestDeleteJob(t *testing.T) {
	f := newFixture(t)
	jr := f.createJob("disposable")

	rec := do(f.srv.DeleteJobHandler(), http.MethodDelete, "/v1/jobs/x", nil, idParam(jr.ID))
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err := f.jobs.Get(context.Background(), jr.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	t.Run("in flight job rejected", func(t *testing.T) {
		active := f.createJob("busy")
		rec := do(f.srv.StartJobHandler(), http.MethodPost, "/start", nil, idParam(active.ID))
		require.Equal(t, http.StatusAccepted, rec.Code)
		rec = do(f.srv.DeleteJobHandler(), http.MethodDelete, "/delete", nil, idParam(active.ID))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestBulkJobs(t *testing.T) {
	f := newFixture(t)
	a := f.createJob("bulk a")
	b := f.createJob("bulk b")

	body := fmt.Sprintf(`{"action":"start","ids":[%d,%d,9999]}`, a.ID, b.ID)
	rec := do(f.srv.BulkJobsHandler(), http.MethodPost, "/v1/jobs/bulk", strings.NewReader(body), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Action  string               `json:"action"`
		Results []usecase.BulkResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[0].OK)
	assert.True(t, out.Results[1].OK)
	assert.False(t, out.Results[2].OK)
	assert.Equal(t, "not found", out.Results[2].Error)

	t.Run("unknown action", func(t *testing.T) {
		rec := do(f.srv.BulkJobsHandler(), http.MethodPost, "/v1/jobs/bulk",
			strings.NewReader(`{"action":"explode","ids":[1]}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("empty ids", func(t *testing.T) {
		rec := do(f.srv.BulkJobsHandler(), http.MethodPost, "/v1/jobs/bulk",
			strings.NewReader(`{"action":"start","ids":[]}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// pngHeader is a minimal valid PNG signature for MIME sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	f := newFixture(t)

	body, ctype := multipartBody(t, "image", "ref.png", pngHeader)
	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	f.srv.UploadImageHandler()(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		ImagePath string `json:"image_path"`
		Size      int    `json:"size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, strings.HasSuffix(out.ImagePath, ".png"))
	_, err := os.Stat(out.ImagePath)
	assert.NoError(t, err)

	t.Run("sniffing rejects non image", func(t *testing.T) {
		body, ctype := multipartBody(t, "image", "notes.png", []byte("plain text pretending"))
		req := httptest.NewRequest(http.MethodPost, "/v1/uploads", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		f.srv.UploadImageHandler()(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})
	t.Run("missing field", func(t *testing.T) {
		body, ctype := multipartBody(t, "wrong", "ref.png", pngHeader)
		req := httptest.NewRequest(http.MethodPost, "/v1/uploads", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		f.srv.UploadImageHandler()(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("not multipart", func(t *testing.T) {
		rec := do(f.srv.UploadImageHandler(), http.MethodPost, "/v1/uploads", strings.NewReader("{}"), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVideoFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jr := f.createJob("served video")

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4-bytes"), 0o644))

	job, err := f.jobs.Get(ctx, jr.ID)
	require.NoError(t, err)
	job.Status = domain.JobDone
	job.LocalPath = path
	require.NoError(t, f.jobs.Update(ctx, job))

	rec := do(f.srv.VideoFileHandler(), http.MethodGet, "/video", nil, idParam(jr.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "mp4-bytes", rec.Body.String())

	t.Run("not done yet", func(t *testing.T) {
		draft := f.createJob("still rendering")
		rec := do(f.srv.VideoFileHandler(), http.MethodGet, "/video", nil, idParam(draft.ID))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := do(f.srv.HealthzHandler(), http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	f := newFixture(t)
	rec := do(f.srv.ReadyzHandler(), http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("failing dependency flips to 503", func(t *testing.T) {
		f.srv.RedisCheck = func(context.Context) error { return fmt.Errorf("connection refused") }
		rec := do(f.srv.ReadyzHandler(), http.MethodGet, "/readyz", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var out struct {
			Ready  bool              `json:"ready"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.False(t, out.Ready)
		assert.Equal(t, "ok", out.Checks["db"])
		assert.Contains(t, out.Checks["redis"], "connection refused")
	})
}
