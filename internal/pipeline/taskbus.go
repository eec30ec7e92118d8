// Package pipeline implements the multi-stage job pipeline: the TaskBus with
// its three bounded queues and active job set, the account-leasing pool, the
// generate/poll/download worker fleets, and the supervisor that ties their
// lifecycles together.
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// dequeueWait bounds how long a worker blocks on an empty queue before
// re-checking its context.
const dequeueWait = 5 * time.Second

// pauseCheckInterval is how often a blocked Dequeue re-checks the pause flag.
const pauseCheckInterval = 200 * time.Millisecond

// TaskBus connects the worker fleets with three bounded FIFO queues and owns
// the process-wide active job set that deduplicates in-flight work.
type TaskBus struct {
	generate chan domain.TaskContext
	poll     chan domain.TaskContext
	download chan domain.TaskContext

	paused atomic.Bool

	mu     sync.Mutex
	active map[int64]struct{}
}

// BusStatus is the snapshot returned by Status.
type BusStatus struct {
	Paused            bool    `json:"paused"`
	GenerateQueueSize int     `json:"generate_queue_size"`
	PollQueueSize     int     `json:"poll_queue_size"`
	DownloadQueueSize int     `json:"download_queue_size"`
	ActiveCount       int     `json:"active_count"`
	ActiveIDs         []int64 `json:"active_ids"`
}

// NewTaskBus builds a bus with the given queue capacities.
func NewTaskBus(generateCap, pollCap, downloadCap int) *TaskBus {
	if generateCap <= 0 {
		generateCap = 64
	}
	if pollCap <= 0 {
		pollCap = 256
	}
	if downloadCap <= 0 {
		downloadCap = 32
	}
	return &TaskBus{
		generate: make(chan domain.TaskContext, generateCap),
		poll:     make(chan domain.TaskContext, pollCap),
		download: make(chan domain.TaskContext, downloadCap),
		active:   map[int64]struct{}{},
	}
}

func (b *TaskBus) queue(t domain.TaskType) chan domain.TaskContext {
	switch t {
	case domain.TaskPoll:
		return b.poll
	case domain.TaskDownload:
		return b.download
	default:
		return b.generate
	}
}

// TryEnqueue appends without blocking; a full queue surfaces ErrQueueFull so
// front-ends can answer with back-pressure instead of dropping silently.
// Enqueuing marks the job id active; membership is held until a worker
// records a terminal outcome or drops the task.
func (b *TaskBus) TryEnqueue(tc domain.TaskContext) error {
	select {
	case b.queue(tc.Type) <- tc:
		b.Activate(tc.JobID)
		b.recordDepth(tc.Type)
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Enqueue appends, blocking until space is available or ctx is done. Workers
// use this on retry re-enqueues so a briefly full queue does not lose work.
func (b *TaskBus) Enqueue(ctx domain.Context, tc domain.TaskContext) error {
	select {
	case b.queue(tc.Type) <- tc:
		b.Activate(tc.JobID)
		b.recordDepth(tc.Type)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest task from the named queue, waiting up to
// dequeueWait. While the bus is paused nothing is handed out; in-flight tasks
// are unaffected. ok is false on timeout, pause, or context cancellation.
func (b *TaskBus) Dequeue(ctx domain.Context, t domain.TaskType) (domain.TaskContext, bool) {
	deadline := time.NewTimer(dequeueWait)
	defer deadline.Stop()
	tick := time.NewTicker(pauseCheckInterval)
	defer tick.Stop()

	for {
		if b.paused.Load() {
			select {
			case <-ctx.Done():
				return domain.TaskContext{}, false
			case <-deadline.C:
				return domain.TaskContext{}, false
			case <-tick.C:
				continue
			}
		}
		select {
		case tc := <-b.queue(t):
			b.recordDepth(t)
			return tc, true
		case <-ctx.Done():
			return domain.TaskContext{}, false
		case <-deadline.C:
			return domain.TaskContext{}, false
		case <-tick.C:
			// re-check the pause flag
		}
	}
}

// StartJob is the single entry point to begin work for a job: it adds the id
// to the active set and enqueues a generate task. Idempotent under concurrent
// calls: if the id is already active it returns (false, nil) without
// enqueuing. On a full generate queue the id is released again and
// ErrQueueFull returned.
func (b *TaskBus) StartJob(jobID int64) (bool, error) {
	if !b.Activate(jobID) {
		return false, nil
	}
	tc := domain.NewTaskContext(jobID, domain.TaskGenerate)
	if err := b.TryEnqueue(tc); err != nil {
		b.Deactivate(jobID)
		return false, err
	}
	return true, nil
}

// Activate adds the job id to the active set; false when already present.
func (b *TaskBus) Activate(jobID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.active[jobID]; ok {
		return false
	}
	b.active[jobID] = struct{}{}
	observability.ActiveJobs.Set(float64(len(b.active)))
	return true
}

// Deactivate removes the job id from the active set.
func (b *TaskBus) Deactivate(jobID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, jobID)
	observability.ActiveJobs.Set(float64(len(b.active)))
}

// IsActive reports whether a worker currently owns the job id.
func (b *TaskBus) IsActive(jobID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.active[jobID]
	return ok
}

// ClearActive empties the active set (administrative reset).
func (b *TaskBus) ClearActive() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = map[int64]struct{}{}
	observability.ActiveJobs.Set(0)
}

// Pause stops workers from dequeuing new tasks.
func (b *TaskBus) Pause() { b.paused.Store(true) }

// Resume lifts a pause.
func (b *TaskBus) Resume() { b.paused.Store(false) }

// Paused reports the pause flag.
func (b *TaskBus) Paused() bool { return b.paused.Load() }

// Status returns a point-in-time snapshot of queues and the active set.
func (b *TaskBus) Status() BusStatus {
	b.mu.Lock()
	ids := make([]int64, 0, len(b.active))
	for id := range b.active {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	return BusStatus{
		Paused:            b.paused.Load(),
		GenerateQueueSize: len(b.generate),
		PollQueueSize:     len(b.poll),
		DownloadQueueSize: len(b.download),
		ActiveCount:       len(ids),
		ActiveIDs:         ids,
	}
}

func (b *TaskBus) recordDepth(t domain.TaskType) {
	observability.QueueDepth.WithLabelValues(string(t)).Set(float64(len(b.queue(t))))
}
