package domain

// TaskState is the persisted, schema-free progress bag attached to a job:
//
//	{"tasks": {"generate"|"poll"|"download": {"status": ..., ...}},
//	 "current_task": <name>, ...}
//
// It round-trips through persistence as JSON. Updates merge: writers must
// never clobber sibling sub-keys they did not touch, and readers tolerate
// missing sub-keys.
type TaskState map[string]any

// Sub-task status values recorded inside TaskState.
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Task returns the named sub-task map, or nil when absent.
func (ts TaskState) Task(name string) map[string]any {
	tasks, ok := ts["tasks"].(map[string]any)
	if !ok {
		return nil
	}
	t, _ := tasks[name].(map[string]any)
	return t
}

// SetTask merges fields into the named sub-task, creating intermediate maps
// as needed. Existing fields not named in fields are preserved.
func (ts TaskState) SetTask(name string, fields map[string]any) {
	tasks, ok := ts["tasks"].(map[string]any)
	if !ok {
		tasks = map[string]any{}
		ts["tasks"] = tasks
	}
	t, ok := tasks[name].(map[string]any)
	if !ok {
		t = map[string]any{}
		tasks[name] = t
	}
	for k, v := range fields {
		t[k] = v
	}
}

// SetCurrent records which stage currently owns the job.
func (ts TaskState) SetCurrent(name string) { ts["current_task"] = name }

// Current returns the current stage name, or "".
func (ts TaskState) Current() string {
	s, _ := ts["current_task"].(string)
	return s
}

// Clone returns a deep copy so workers can mutate without aliasing the
// snapshot loaded from the repository.
func (ts TaskState) Clone() TaskState {
	if ts == nil {
		return TaskState{}
	}
	out := make(TaskState, len(ts))
	for k, v := range ts {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, vv := range m {
		out[k] = cloneValue(vv)
	}
	return out
}
