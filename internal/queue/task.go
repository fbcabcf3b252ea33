package queue

import "fmt"

// TaskType is kept as a type (rather than collapsed to a bare string) so
// the wire format stays self-describing even though this domain only has
// one variant today — a second task type (e.g. a scheduled re-run) can be
// added without touching message parsing.
type TaskType string

const TaskTypeRunRequest TaskType = "run_request"

// Task is a queued request to run the agent loop once against a goal.
// Collapsed from the teacher's three-variant issue_event/workspace_setup/
// repo_sync union to this domain's single task shape.
type Task struct {
	TaskType TaskType
	RunID    string
	Goal     string
	Context  map[string]string
	TraceID  *string
	Attempt  int
}

// StreamName returns the stream name a run's tasks are queued on.
func StreamName(namespace string) string {
	return fmt.Sprintf("agent-stream:%s", namespace)
}
