package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-video-pipeline/internal/config"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-video-pipeline/internal/pipeline"
	"github.com/fairyhunter13/ai-video-pipeline/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Jobs       usecase.JobService
	Accounts   usecase.AccountService
	Sup        *pipeline.Supervisor
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, jobs usecase.JobService, accounts usecase.AccountService, sup *pipeline.Supervisor, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Jobs: jobs, Accounts: accounts, Sup: sup, DBCheck: dbCheck, RedisCheck: redisCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type createJobRequest struct {
	Prompt      string `json:"prompt" validate:"required,min=1,max=2000"`
	Duration    int    `json:"duration" validate:"required,oneof=5 10 15"`
	AspectRatio string `json:"aspect_ratio" validate:"required,oneof=16:9 9:16 1:1"`
	ImagePath   string `json:"image_path" validate:"omitempty,max=512"`
}

type jobResponse struct {
	ID           int64            `json:"id"`
	Prompt       string           `json:"prompt"`
	Duration     int              `json:"duration"`
	AspectRatio  string           `json:"aspect_ratio"`
	ImagePath    string           `json:"image_path,omitempty"`
	Status       domain.JobStatus `json:"status"`
	Percent      int              `json:"percent"`
	ErrorMessage string           `json:"error_message,omitempty"`
	VideoURL     string           `json:"video_url,omitempty"`
	VideoID      string           `json:"video_id,omitempty"`
	LocalPath    string           `json:"local_path,omitempty"`
	AccountID    int64            `json:"account_id,omitempty"`
	TaskState    domain.TaskState `json:"task_state,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func toJobResponse(j domain.Job) jobResponse {
	return jobResponse{
		ID:           j.ID,
		Prompt:       j.Spec.Prompt,
		Duration:     j.Spec.Duration,
		AspectRatio:  j.Spec.AspectRatio,
		ImagePath:    j.Spec.ImagePath,
		Status:       j.Status,
		Percent:      j.Percent,
		ErrorMessage: j.ErrorMessage,
		VideoURL:     j.VideoURL,
		VideoID:      j.VideoID,
		LocalPath:    j.LocalPath,
		AccountID:    j.AccountID,
		TaskState:    j.TaskState,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func jobID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.WrapInvalid("job id must be a positive integer")
	}
	return id, nil
}

// CreateJobHandler validates the request body and stores a new draft job.
func (s *Server) CreateJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		job, err := s.Jobs.Create(r.Context(), domain.JobSpec{
			Prompt:      strings.TrimSpace(req.Prompt),
			Duration:    req.Duration,
			AspectRatio: req.AspectRatio,
			ImagePath:   req.ImagePath,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		LoggerFrom(r).Info("job created", "job_id", job.ID)
		writeJSON(w, http.StatusCreated, toJobResponse(job))
	}
}

// ListJobsHandler returns a page of jobs with an optional status filter.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if res := ValidatePagination(q.Get("offset"), q.Get("limit")); !res.Valid {
			writeError(w, r, domain.WrapInvalid("invalid pagination"), res.Errors)
			return
		}
		if res := ValidateStatus(q.Get("status")); !res.Valid {
			writeError(w, r, domain.WrapInvalid("invalid status filter"), res.Errors)
			return
		}
		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		jobs, err := s.Jobs.List(r.Context(), offset, limit, domain.JobStatus(q.Get("status")))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]jobResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, toJobResponse(j))
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "count": len(out)})
	}
}

// GetJobHandler returns one job.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := jobID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

// StartJobHandler hands a job to the generate queue.
func (s *Server) StartJobHandler() http.HandlerFunc {
	return s.lifecycleHandler("start", s.Jobs.Start)
}

// RetryJobHandler resets a failed or cancelled job and restarts it.
func (s *Server) RetryJobHandler() http.HandlerFunc {
	return s.lifecycleHandler("retry", s.Jobs.Retry)
}

// CancelJobHandler cancels a not-yet-downloading job.
func (s *Server) CancelJobHandler() http.HandlerFunc {
	return s.lifecycleHandler("cancel", s.Jobs.Cancel)
}

func (s *Server) lifecycleHandler(action string, op func(domain.Context, int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := jobID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := op(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		LoggerFrom(r).Info("job "+action, "job_id", id)
		writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "action": action})
	}
}

// DeleteJobHandler removes a job record.
func (s *Server) DeleteJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := jobID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Jobs.Delete(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type bulkRequest struct {
	Action string  `json:"action" validate:"required,oneof=start retry cancel delete"`
	IDs    []int64 `json:"ids" validate:"required,min=1,max=100,dive,gt=0"`
}

// BulkJobsHandler applies one lifecycle action to many jobs, reporting per-id
// outcomes.
func (s *Server) BulkJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		var results []usecase.BulkResult
		switch req.Action {
		case "start":
			results = s.Jobs.BulkStart(r.Context(), req.IDs)
		case "retry":
			results = s.Jobs.BulkRetry(r.Context(), req.IDs)
		case "cancel":
			results = s.Jobs.BulkCancel(r.Context(), req.IDs)
		case "delete":
			results = s.Jobs.BulkDelete(r.Context(), req.IDs)
		}
		writeJSON(w, http.StatusOK, map[string]any{"action": req.Action, "results": results})
	}
}

// allowedImageMIME is the sniffing allowlist for reference images.
func allowedImageMIME(m *mimetype.MIME) bool {
	for _, t := range []string{"image/jpeg", "image/png", "image/webp"} {
		if m.Is(t) {
			return true
		}
	}
	return false
}

// UploadImageHandler stores a reference image under a unique name and returns
// the path to pass as image_path when creating a job.
func (s *Server) UploadImageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, domain.WrapInvalid("content-type must be multipart/form-data"), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code: "INVALID_ARGUMENT", Message: "payload too large",
					Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			writeError(w, r, domain.WrapInvalid("image file required"), map[string]string{"field": "image"})
			return
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		// Sniff the real content type; the filename extension is untrusted.
		mt := mimetype.Detect(data)
		if !allowedImageMIME(mt) {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code: "INVALID_ARGUMENT", Message: "unsupported image type",
				Details: map[string]any{"detected": mt.String(), "filename": header.Filename},
			}})
			return
		}
		if err := os.MkdirAll(s.Cfg.UploadsDir, 0o755); err != nil {
			writeError(w, r, err, nil)
			return
		}
		name := uuid.New().String() + mt.Extension()
		path := filepath.Join(s.Cfg.UploadsDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			writeError(w, r, err, nil)
			return
		}
		LoggerFrom(r).Info("image uploaded", "path", path, "bytes", len(data))
		writeJSON(w, http.StatusCreated, map[string]any{"image_path": path, "size": len(data)})
	}
}

// VideoFileHandler serves the downloaded artifact of a completed job.
func (s *Server) VideoFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := jobID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if job.Status != domain.JobDone || job.LocalPath == "" {
			writeError(w, r, fmt.Errorf("%w: video not available", domain.ErrNotFound), nil)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeFile(w, r, job.LocalPath)
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler is the readiness probe: storage must answer; Redis is checked
// only when configured.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		checks := map[string]string{}
		ready := true
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks["db"] = err.Error()
				ready = false
			} else {
				checks["db"] = "ok"
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks["redis"] = err.Error()
				ready = false
			} else {
				checks["redis"] = "ok"
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}
