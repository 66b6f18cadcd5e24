package models

import "time"

// TaskStatus tracks one task through the execution state machine.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskBlocked   TaskStatus = "blocked"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions
// (other than operator retry for failed tasks).
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskSkipped
}

// Task is one node of a plan and its runtime state inside an execution.
type Task struct {
	TaskID        string     `json:"task_id"`
	Title         string     `json:"title"`
	AssignedAgent string     `json:"assigned_agent"`
	DependsOn     []string   `json:"depends_on,omitempty"`
	Skippable     bool       `json:"skippable,omitempty"`
	Status        TaskStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	Output        string     `json:"output,omitempty"`
}

// Edge is one dependency arc of a plan DAG.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Plan is a static, acyclic task graph produced by the planning engine.
type Plan struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Scene     Scene     `json:"scene"`
	LoanType  string    `json:"loan_type,omitempty"`
	Tasks     []Task    `json:"tasks"`
	Edges     []Edge    `json:"edges"`
	ChainID   string    `json:"chain_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionState tracks a running plan instance.
type ExecutionState string

const (
	ExecutionCreated   ExecutionState = "created"
	ExecutionRunning   ExecutionState = "running"
	ExecutionBlocked   ExecutionState = "blocked"
	ExecutionCompleted ExecutionState = "completed"
	ExecutionFailed    ExecutionState = "failed"
	ExecutionCancelled ExecutionState = "cancelled"
)

// Terminal reports whether the state is absorbing.
func (s ExecutionState) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// Execution is the running instance of a plan. It owns snapshots of the
// plan's tasks; relationships are held by id, never by pointer cycles.
type Execution struct {
	ExecutionID string         `json:"execution_id"`
	PlanID      string         `json:"plan_id"`
	State       ExecutionState `json:"state"`
	Tasks       []Task         `json:"tasks"`
	Question    string         `json:"question"`
	LoanType    string         `json:"loan_type,omitempty"`
	CursorIndex int            `json:"cursor_index"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Task returns the task with the given id, if present.
func (e *Execution) Task(taskID string) (*Task, bool) {
	for i := range e.Tasks {
		if e.Tasks[i].TaskID == taskID {
			return &e.Tasks[i], true
		}
	}
	return nil, false
}
