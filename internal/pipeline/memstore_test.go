package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// memJobRepo is an in-memory JobRepository that records every status
// transition so tests can assert the state machine was respected.
type memJobRepo struct {
	mu      sync.Mutex
	next    int64
	jobs    map[int64]domain.Job
	history map[int64][]domain.JobStatus
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[int64]domain.Job{}, history: map[int64][]domain.JobStatus{}}
}

func (r *memJobRepo) Create(_ domain.Context, j domain.Job) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	j.ID = r.next
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	r.jobs[j.ID] = j
	r.history[j.ID] = []domain.JobStatus{j.Status}
	return j.ID, nil
}

func (r *memJobRepo) Get(_ domain.Context, id int64) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	j.TaskState = j.TaskState.Clone()
	return j, nil
}

func (r *memJobRepo) List(_ domain.Context, offset, limit int, status domain.JobStatus) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sortedLocked()
	if status != "" {
		filtered := out[:0]
		for _, j := range out {
			if j.Status == status {
				filtered = append(filtered, j)
			}
		}
		out = filtered
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memJobRepo) ListByStatuses(_ domain.Context, statuses ...domain.JobStatus) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.sortedLocked() {
		for _, s := range statuses {
			if j.Status == s {
				out = append(out, j)
				break
			}
		}
	}
	return out, nil
}

func (r *memJobRepo) ListStale(_ domain.Context, cutoff time.Time) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.sortedLocked() {
		if j.Status.Active() && j.UpdatedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *memJobRepo) CountByStatus(_ domain.Context) (map[domain.JobStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[domain.JobStatus]int{}
	for _, j := range r.jobs {
		out[j.Status]++
	}
	return out, nil
}

func (r *memJobRepo) FindByVideoID(_ domain.Context, videoID string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.VideoID == videoID {
			return j, nil
		}
	}
	return domain.Job{}, domain.ErrNotFound
}

func (r *memJobRepo) Update(_ domain.Context, j domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.jobs[j.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if prev.Status != j.Status {
		r.history[j.ID] = append(r.history[j.ID], j.Status)
	}
	j.CreatedAt = prev.CreatedAt
	j.UpdatedAt = time.Now().UTC()
	j.TaskState = j.TaskState.Clone()
	r.jobs[j.ID] = j
	return nil
}

func (r *memJobRepo) UpdateIfStatus(_ domain.Context, j domain.Job, expect domain.JobStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.jobs[j.ID]
	if !ok || prev.Status != expect {
		return false, nil
	}
	if prev.Status != j.Status {
		r.history[j.ID] = append(r.history[j.ID], j.Status)
	}
	j.CreatedAt = prev.CreatedAt
	j.UpdatedAt = time.Now().UTC()
	j.TaskState = j.TaskState.Clone()
	r.jobs[j.ID] = j
	return true, nil
}

func (r *memJobRepo) UpdateStatus(_ domain.Context, id int64, status domain.JobStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != status {
		r.history[id] = append(r.history[id], status)
	}
	j.Status = status
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	j.UpdatedAt = time.Now().UTC()
	r.jobs[id] = j
	return nil
}

func (r *memJobRepo) UpdateProgress(_ domain.Context, id int64, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	j.Percent = percent
	j.UpdatedAt = time.Now().UTC()
	r.jobs[id] = j
	return nil
}

func (r *memJobRepo) Delete(_ domain.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

func (r *memJobRepo) BulkDelete(_ domain.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.jobs, id)
	}
	return nil
}

func (r *memJobRepo) BulkUpdateStatus(_ domain.Context, ids []int64, status domain.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		j, ok := r.jobs[id]
		if !ok {
			continue
		}
		if j.Status != status {
			r.history[id] = append(r.history[id], status)
		}
		j.Status = status
		j.UpdatedAt = time.Now().UTC()
		r.jobs[id] = j
	}
	return nil
}

func (r *memJobRepo) statusHistory(id int64) []domain.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.JobStatus, len(r.history[id]))
	copy(out, r.history[id])
	return out
}

func (r *memJobRepo) sortedLocked() []domain.Job {
	out := make([]domain.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		j.TaskState = j.TaskState.Clone()
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

var _ domain.JobRepository = (*memJobRepo)(nil)

// memAccountRepo is an in-memory AccountRepository.
type memAccountRepo struct {
	mu       sync.Mutex
	next     int64
	accounts map[int64]domain.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: map[int64]domain.Account{}}
}

func (r *memAccountRepo) Create(_ domain.Context, a domain.Account) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	a.ID = r.next
	if a.Status == "" {
		a.Status = domain.AccountLive
	}
	r.accounts[a.ID] = a
	return a.ID, nil
}

func (r *memAccountRepo) Get(_ domain.Context, id int64) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *memAccountRepo) List(_ domain.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memAccountRepo) ListEligible(_ domain.Context, platform string) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, a := range r.accounts {
		if a.Platform == platform && a.Eligible() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUsed.Equal(out[j].LastUsed) {
			return out[i].LastUsed.Before(out[j].LastUsed)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memAccountRepo) Update(_ domain.Context, a domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; !ok {
		return domain.ErrNotFound
	}
	r.accounts[a.ID] = a
	return nil
}

func (r *memAccountRepo) UpdateStatus(_ domain.Context, id int64, status domain.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	r.accounts[id] = a
	return nil
}

func (r *memAccountRepo) UpdateCredits(_ domain.Context, id int64, credits int, checkedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.CreditsRemaining = credits
	a.CreditsLastChecked = checkedAt
	r.accounts[id] = a
	return nil
}

func (r *memAccountRepo) SetDeviceID(_ domain.Context, id int64, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.DeviceID = deviceID
	r.accounts[id] = a
	return nil
}

func (r *memAccountRepo) TouchLastUsed(_ domain.Context, id int64, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.LastUsed = t
	r.accounts[id] = a
	return nil
}

func (r *memAccountRepo) CountWithCredits(_ domain.Context) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total, with := 0, 0
	for _, a := range r.accounts {
		total++
		if a.CreditsRemaining > 0 {
			with++
		}
	}
	return total, with, nil
}

var _ domain.AccountRepository = (*memAccountRepo)(nil)
