package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-video-pipeline/internal/pipeline"
)

// StaleJobSweeper periodically resets jobs that some worker started but never
// finished, e.g. after a worker goroutine died mid-task. A stale job is a
// worker-owned job whose updated_at is older than the cutoff; it goes back to
// pending and loses its active-set membership so it can be started again.
type StaleJobSweeper struct {
	jobs     domain.JobRepository
	bus      *pipeline.TaskBus
	maxAge   time.Duration
	interval time.Duration
}

// NewStaleJobSweeper builds a sweeper; nil jobs yields a nil sweeper whose
// Run is a no-op.
func NewStaleJobSweeper(jobs domain.JobRepository, bus *pipeline.TaskBus, maxAge, interval time.Duration) *StaleJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StaleJobSweeper{jobs: jobs, bus: bus, maxAge: maxAge, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (s *StaleJobSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stale job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StaleJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StaleJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().UTC().Add(-s.maxAge)
	stale, err := s.jobs.ListStale(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stale job sweep failed to list jobs", slog.Any("error", err))
		return
	}

	reset := 0
	for _, j := range stale {
		// Pending jobs are merely queued, not stuck; leave them alone.
		if j.Status == domain.JobPending {
			continue
		}
		j.Status = domain.JobPending
		j.Percent = 0
		j.ErrorMessage = ""
		if err := s.jobs.Update(ctx, j); err != nil {
			slog.Error("stale job sweep failed to reset job",
				slog.Int64("job_id", j.ID), slog.Any("error", err))
			continue
		}
		if s.bus != nil {
			s.bus.Deactivate(j.ID)
		}
		slog.Warn("reset stale job", slog.Int64("job_id", j.ID), slog.Time("updated_at", j.UpdatedAt))
		reset++
	}
	span.SetAttributes(
		attribute.Int("jobs.stale_found", len(stale)),
		attribute.Int("jobs.reset", reset),
	)
}
