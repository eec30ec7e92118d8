package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-video-pipeline/internal/config"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// Supervisor owns the worker fleets' lifecycle: startup recovery, spawning,
// pause/resume, administrative reset, and graceful shutdown.
type Supervisor struct {
	cfg      config.Config
	jobs     domain.JobRepository
	accounts domain.AccountRepository
	bus      *TaskBus
	pool     *AccountPool
	workers  *Workers

	mu      sync.Mutex
	base    context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	running bool
}

// QueueStatus is the administrative status snapshot.
type QueueStatus struct {
	Paused            bool           `json:"paused"`
	GenerateQueueSize int            `json:"generate_queue_size"`
	PollQueueSize     int            `json:"poll_queue_size"`
	DownloadQueueSize int            `json:"download_queue_size"`
	ActiveCount       int            `json:"active_count"`
	ActiveIDs         []int64        `json:"active_ids"`
	DBStats           map[string]int `json:"db_stats"`
	AccountsTotal     int            `json:"accounts_total"`
	AccountsCredits   int            `json:"accounts_with_credits"`
}

// NewSupervisor wires the lifecycle manager over an already-built bus, pool,
// and worker set.
func NewSupervisor(
	cfg config.Config,
	jobs domain.JobRepository,
	accounts domain.AccountRepository,
	bus *TaskBus,
	pool *AccountPool,
	workers *Workers,
) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		jobs:     jobs,
		accounts: accounts,
		bus:      bus,
		pool:     pool,
		workers:  workers,
	}
}

// RecoverOnStartup repairs state left behind by a crash. Worker-owned jobs
// that never reached the download stage go back to draft, since their remote
// task id may be stale; jobs already in download have a usable video_url and
// are re-hydrated straight onto the download queue.
func (s *Supervisor) RecoverOnStartup(ctx domain.Context) error {
	owned, err := s.jobs.ListByStatuses(ctx, domain.JobPending, domain.JobProcessing, domain.JobGenerating)
	if err != nil {
		return err
	}
	if len(owned) > 0 {
		ids := make([]int64, 0, len(owned))
		for _, j := range owned {
			ids = append(ids, j.ID)
		}
		if err := s.jobs.BulkUpdateStatus(ctx, ids, domain.JobDraft); err != nil {
			return err
		}
		slog.Info("reset interrupted jobs to draft", slog.Int("count", len(ids)))
	}

	downloads, err := s.jobs.ListByStatuses(ctx, domain.JobDownload)
	if err != nil {
		return err
	}
	for _, j := range downloads {
		tc := domain.NewTaskContext(j.ID, domain.TaskDownload)
		tc.SetString("video_url", j.VideoURL)
		tc.SetString("video_id", j.VideoID)
		tc.SetString("generation_id", j.GenerationID)
		tc.SetInt64("account_id", j.AccountID)
		if err := s.bus.TryEnqueue(tc); err != nil {
			slog.Warn("could not re-hydrate download job",
				slog.Int64("job_id", j.ID), slog.Any("error", err))
			continue
		}
		slog.Info("re-hydrated download job", slog.Int64("job_id", j.ID))
	}
	return nil
}

// Start spawns the three worker fleets plus the credits refresh loop. base
// outlives individual restarts; Stop cancels only what Start spawned.
func (s *Supervisor) Start(base context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.base = base
	ctx, cancel := context.WithCancel(base)
	s.cancel = cancel
	s.wg = &sync.WaitGroup{}
	s.running = true

	s.spawnFleet(ctx, domain.TaskGenerate, s.cfg.GeneratorWorkers, s.workers.handleGenerate)
	s.spawnFleet(ctx, domain.TaskPoll, s.cfg.PollerWorkers, s.workers.handlePoll)
	s.spawnFleet(ctx, domain.TaskDownload, s.cfg.DownloaderWorkers, s.workers.handleDownload)

	if s.cfg.CreditsRefreshEvery > 0 {
		s.wg.Add(1)
		go s.creditsLoop(ctx)
	}
	slog.Info("workers started",
		slog.Int("generators", s.cfg.GeneratorWorkers),
		slog.Int("pollers", s.cfg.PollerWorkers),
		slog.Int("downloaders", s.cfg.DownloaderWorkers))
}

func (s *Supervisor) spawnFleet(ctx context.Context, t domain.TaskType, n int, handler func(domain.Context, domain.TaskContext)) {
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				tc, ok := s.bus.Dequeue(ctx, t)
				if !ok {
					continue
				}
				handler(ctx, tc)
			}
		}()
	}
}

func (s *Supervisor) creditsLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CreditsRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAllCredits(ctx)
		}
	}
}

func (s *Supervisor) refreshAllCredits(ctx context.Context) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		slog.Warn("credits refresh: failed to list accounts", slog.Any("error", err))
		return
	}
	for _, a := range accounts {
		if a.Status != domain.AccountLive {
			continue
		}
		if _, err := s.pool.RefreshCredits(ctx, a.ID); err != nil {
			slog.Warn("credits refresh failed",
				slog.Int64("account_id", a.ID), slog.Any("error", err))
		}
	}
}

// Stop signals every worker, waits up to the shutdown grace period, and
// clears account leases.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, wg := s.cancel, s.wg
	s.running = false
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.WorkerShutdownGrace):
		slog.Warn("workers did not stop within grace period",
			slog.Duration("grace", s.cfg.WorkerShutdownGrace))
	}
	s.pool.ForceReset()
	slog.Info("workers stopped")
}

// RestartWorkers stops the fleets and starts fresh ones on the original base
// context.
func (s *Supervisor) RestartWorkers() {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		return
	}
	s.Stop()
	s.Start(base)
}

// Pause stops workers from dequeuing; in-flight tasks finish.
func (s *Supervisor) Pause() { s.bus.Pause() }

// Resume lifts a pause.
func (s *Supervisor) Resume() { s.bus.Resume() }

// Reset is the administrative panic button: clear every account lease, empty
// the active set, and put every worker-owned job back to pending with a clean
// slate.
func (s *Supervisor) Reset(ctx domain.Context) error {
	s.pool.ForceReset()
	s.bus.ClearActive()
	jobs, err := s.jobs.ListByStatuses(ctx, domain.JobProcessing, domain.JobGenerating, domain.JobDownload)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		j.Status = domain.JobPending
		j.Percent = 0
		j.ErrorMessage = ""
		if err := s.jobs.Update(ctx, j); err != nil {
			slog.Error("reset: failed to update job", slog.Int64("job_id", j.ID), slog.Any("error", err))
		}
	}
	slog.Info("pipeline reset", slog.Int("jobs_reset", len(jobs)))
	return nil
}

// Status assembles the administrative snapshot from the bus, the job store,
// and the account store.
func (s *Supervisor) Status(ctx domain.Context) (QueueStatus, error) {
	bus := s.bus.Status()
	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	total, withCredits, err := s.accounts.CountWithCredits(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{
		Paused:            bus.Paused,
		GenerateQueueSize: bus.GenerateQueueSize,
		PollQueueSize:     bus.PollQueueSize,
		DownloadQueueSize: bus.DownloadQueueSize,
		ActiveCount:       bus.ActiveCount,
		ActiveIDs:         bus.ActiveIDs,
		DBStats: map[string]int{
			"completed":  counts[domain.JobDone],
			"pending":    counts[domain.JobPending],
			"failed":     counts[domain.JobFailed],
			"processing": counts[domain.JobProcessing] + counts[domain.JobGenerating] + counts[domain.JobDownload],
		},
		AccountsTotal:   total,
		AccountsCredits: withCredits,
	}, nil
}
