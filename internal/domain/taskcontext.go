package domain

// TaskType names the three pipeline stages.
type TaskType string

// Stage names; also the queue names exposed by the TaskBus.
const (
	TaskGenerate TaskType = "generate"
	TaskPoll     TaskType = "poll"
	TaskDownload TaskType = "download"
)

// TaskContext is the in-queue envelope handed between stages. Input carries
// stage hints (task_id, video_url, ...) and the per-error-class retry
// counters, so counters survive re-enqueue and stay independent.
type TaskContext struct {
	JobID int64
	Type  TaskType
	Input map[string]any
}

// NewTaskContext builds an envelope with a non-nil Input map.
func NewTaskContext(jobID int64, t TaskType) TaskContext {
	return TaskContext{JobID: jobID, Type: t, Input: map[string]any{}}
}

// GetString returns a string hint from Input, or "".
func (tc TaskContext) GetString(key string) string {
	s, _ := tc.Input[key].(string)
	return s
}

// SetString stores a string hint in Input.
func (tc TaskContext) SetString(key, val string) { tc.Input[key] = val }

// GetInt64 returns an integer hint from Input, or 0.
func (tc TaskContext) GetInt64(key string) int64 {
	switch v := tc.Input[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// SetInt64 stores an integer hint in Input.
func (tc TaskContext) SetInt64(key string, val int64) { tc.Input[key] = val }

// RetryCount returns the counter stored under key (e.g.
// "heavy_load_retry_count").
func (tc TaskContext) RetryCount(key string) int {
	switch v := tc.Input[key].(type) {
	case int:
		return v
	case float64: // survives a JSON round-trip
		return int(v)
	}
	return 0
}

// IncRetry increments and returns the counter stored under key.
func (tc TaskContext) IncRetry(key string) int {
	n := tc.RetryCount(key) + 1
	tc.Input[key] = n
	return n
}

// ExcludedAccounts returns the account ids this job must not lease again.
func (tc TaskContext) ExcludedAccounts() []int64 {
	raw, ok := tc.Input["exclude_account_ids"].([]int64)
	if ok {
		return raw
	}
	// Tolerate []any from deserialized input.
	anys, ok := tc.Input["exclude_account_ids"].([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(anys))
	for _, v := range anys {
		switch n := v.(type) {
		case int64:
			out = append(out, n)
		case float64:
			out = append(out, int64(n))
		}
	}
	return out
}

// ExcludeAccount adds id to the exclusion list if not already present.
func (tc TaskContext) ExcludeAccount(id int64) {
	ids := tc.ExcludedAccounts()
	for _, existing := range ids {
		if existing == id {
			return
		}
	}
	tc.Input["exclude_account_ids"] = append(ids, id)
}
