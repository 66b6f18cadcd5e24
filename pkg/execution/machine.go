// Package execution drives plans as executions: a per-instance state
// machine advanced step by step, with operator overrides and bounded
// retries.
package execution

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// TaskRunner executes one task through the agent runtime. outputs maps
// completed upstream task ids to their captured output. A runner that
// needs an external signal (e.g. strategy email approval) fails with
// EXECUTION_BLOCKED, parking the task until an operator acts.
type TaskRunner interface {
	RunTask(ctx context.Context, exec models.Execution, task models.Task, outputs map[string]string) (string, error)
}

// Config bounds the state machine.
type Config struct {
	MaxAttemptsPerTask int
	StepCap            int
}

// Machine owns all live executions. Each execution mutates under its own
// lock; ticks of different executions never serialise against each other.
type Machine struct {
	runner TaskRunner
	cfg    Config
	log    *slog.Logger

	// sleep is swapped in tests.
	sleep func(time.Duration)

	mu    sync.RWMutex
	execs map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	exec *models.Execution
}

// NewMachine wires the state machine.
func NewMachine(runner TaskRunner, cfg Config) *Machine {
	if cfg.MaxAttemptsPerTask <= 0 {
		cfg.MaxAttemptsPerTask = 3
	}
	if cfg.StepCap <= 0 {
		cfg.StepCap = 30
	}
	return &Machine{
		runner: runner,
		cfg:    cfg,
		log:    slog.Default().With("component", "execution"),
		sleep:  time.Sleep,
		execs:  make(map[string]*entry),
	}
}

// Start materialises a plan as an execution, marks the dependency-free
// tasks ready and transitions to running.
func (m *Machine) Start(_ context.Context, plan *models.Plan) (string, error) {
	if plan == nil || len(plan.Tasks) == 0 {
		return "", errs.New(errs.KindValidation, "plan has no tasks")
	}

	now := time.Now()
	exec := &models.Execution{
		ExecutionID: uuid.NewString(),
		PlanID:      plan.ID,
		State:       models.ExecutionCreated,
		Question:    plan.Question,
		LoanType:    plan.LoanType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	exec.Tasks = make([]models.Task, len(plan.Tasks))
	copy(exec.Tasks, plan.Tasks)
	for i := range exec.Tasks {
		exec.Tasks[i].Status = models.TaskPending
		exec.Tasks[i].Attempts = 0
	}
	promoteReady(exec)
	exec.State = models.ExecutionRunning

	m.mu.Lock()
	m.execs[exec.ExecutionID] = &entry{exec: exec}
	m.mu.Unlock()

	m.log.Info("Execution started", "execution_id", exec.ExecutionID, "plan_id", plan.ID, "tasks", len(exec.Tasks))
	return exec.ExecutionID, nil
}

// Get returns a snapshot of the execution.
func (m *Machine) Get(executionID string) (models.Execution, error) {
	e, err := m.entryFor(executionID)
	if err != nil {
		return models.Execution{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.exec), nil
}

// List returns snapshots of all executions.
func (m *Machine) List() []models.Execution {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.execs))
	for _, e := range m.execs {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]models.Execution, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, snapshot(e.exec))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Tick advances the execution by one step: the lexicographically
// smallest ready task runs through the TaskRunner. A retryable failure
// with budget left re-enters ready after a jittered backoff.
func (m *Machine) Tick(ctx context.Context, executionID string) (models.Execution, error) {
	e, err := m.entryFor(executionID)
	if err != nil {
		return models.Execution{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	exec := e.exec
	if exec.State.Terminal() {
		return snapshot(exec), errs.New(errs.KindConflict,
			"execution %s is already %s", executionID, exec.State)
	}

	task := smallestReady(exec)
	if task == nil {
		refreshState(exec)
		return snapshot(exec), nil
	}

	task.Status = models.TaskRunning
	task.Attempts++
	exec.CursorIndex++
	exec.UpdatedAt = time.Now()

	output, runErr := m.runner.RunTask(ctx, snapshot(exec), *task, completedOutputs(exec))
	switch {
	case runErr == nil:
		task.Status = models.TaskCompleted
		task.Output = output
		task.LastError = ""
	case errs.IsKind(runErr, errs.KindExecutionBlocked):
		task.Status = models.TaskBlocked
		task.LastError = runErr.Error()
	default:
		task.LastError = runErr.Error()
		if errs.IsRetryable(runErr) && task.Attempts < m.cfg.MaxAttemptsPerTask {
			m.sleep(retryBackoff(task.Attempts))
			task.Status = models.TaskReady
		} else {
			task.Status = models.TaskFailed
		}
	}

	promoteReady(exec)
	refreshState(exec)
	exec.UpdatedAt = time.Now()
	m.log.Debug("Execution ticked",
		"execution_id", executionID,
		"task_id", task.TaskID,
		"task_status", task.Status,
		"state", exec.State)
	return snapshot(exec), nil
}

// Run ticks until the execution is terminal, no progress is possible or
// maxSteps is reached. A zero maxSteps uses the configured cap.
func (m *Machine) Run(ctx context.Context, executionID string, maxSteps int) (models.Execution, error) {
	if maxSteps <= 0 || maxSteps > m.cfg.StepCap {
		maxSteps = m.cfg.StepCap
	}
	var exec models.Execution
	var err error
	for step := 0; step < maxSteps; step++ {
		exec, err = m.Tick(ctx, executionID)
		if err != nil {
			return exec, err
		}
		if exec.State != models.ExecutionRunning || !hasReady(&exec) {
			break
		}
		if ctx.Err() != nil {
			return exec, errs.Wrap(errs.KindCancelled, ctx.Err(), "run interrupted")
		}
	}
	return exec, nil
}

// TaskAction applies an operator override to one task.
func (m *Machine) TaskAction(ctx context.Context, executionID, taskID, action string) (models.Execution, error) {
	e, err := m.entryFor(executionID)
	if err != nil {
		return models.Execution{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	exec := e.exec
	if exec.State.Terminal() {
		return snapshot(exec), errs.New(errs.KindConflict,
			"execution %s is already %s", executionID, exec.State)
	}
	task, ok := exec.Task(taskID)
	if !ok {
		return snapshot(exec), errs.New(errs.KindNotFound, "task %s not found", taskID)
	}

	switch action {
	case "start":
		if task.Status != models.TaskReady {
			return snapshot(exec), errs.New(errs.KindConflict,
				"task %s is %s, only ready tasks start", taskID, task.Status)
		}
		task.Status = models.TaskRunning
		task.Attempts++
		output, runErr := m.runner.RunTask(ctx, snapshot(exec), *task, completedOutputs(exec))
		if runErr == nil {
			task.Status = models.TaskCompleted
			task.Output = output
		} else if errs.IsKind(runErr, errs.KindExecutionBlocked) {
			task.Status = models.TaskBlocked
			task.LastError = runErr.Error()
		} else {
			task.Status = models.TaskFailed
			task.LastError = runErr.Error()
		}

	case "complete":
		if task.Status == models.TaskCompleted {
			// Idempotent: completing a completed task changes nothing.
			return snapshot(exec), nil
		}
		if task.Status != models.TaskRunning && task.Status != models.TaskBlocked {
			return snapshot(exec), errs.New(errs.KindConflict,
				"task %s is %s, cannot complete", taskID, task.Status)
		}
		task.Status = models.TaskCompleted
		task.LastError = ""

	case "fail":
		if task.Status.Terminal() {
			return snapshot(exec), errs.New(errs.KindConflict,
				"task %s is %s, cannot fail", taskID, task.Status)
		}
		task.Status = models.TaskFailed

	case "retry":
		if task.Status != models.TaskFailed {
			return snapshot(exec), errs.New(errs.KindConflict,
				"task %s is %s, only failed tasks retry", taskID, task.Status)
		}
		if task.Attempts >= m.cfg.MaxAttemptsPerTask {
			return snapshot(exec), errs.New(errs.KindConflict,
				"task %s exhausted its %d attempts", taskID, m.cfg.MaxAttemptsPerTask)
		}
		task.Status = models.TaskReady
		task.LastError = ""

	case "skip":
		if task.Status.Terminal() {
			return snapshot(exec), errs.New(errs.KindConflict,
				"task %s is %s, cannot skip", taskID, task.Status)
		}
		task.Status = models.TaskSkipped
		task.Output = ""
		propagateSkip(exec, task)

	default:
		return snapshot(exec), errs.New(errs.KindValidation, "unknown task action %q", action)
	}

	promoteReady(exec)
	refreshState(exec)
	exec.UpdatedAt = time.Now()
	return snapshot(exec), nil
}

// Cancel moves a non-terminal execution to cancelled.
func (m *Machine) Cancel(_ context.Context, executionID string) (models.Execution, error) {
	e, err := m.entryFor(executionID)
	if err != nil {
		return models.Execution{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	exec := e.exec
	if exec.State.Terminal() {
		return snapshot(exec), errs.New(errs.KindConflict,
			"execution %s is already %s", executionID, exec.State)
	}
	for i := range exec.Tasks {
		switch exec.Tasks[i].Status {
		case models.TaskPending, models.TaskReady, models.TaskRunning, models.TaskBlocked:
			exec.Tasks[i].Status = models.TaskFailed
			exec.Tasks[i].LastError = "CANCELLED"
		}
	}
	exec.State = models.ExecutionCancelled
	exec.UpdatedAt = time.Now()
	m.log.Info("Execution cancelled", "execution_id", executionID)
	return snapshot(exec), nil
}

func (m *Machine) entryFor(executionID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.execs[executionID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindNotFound, "execution %s not found", executionID)
	}
	return e, nil
}

// promoteReady moves pending tasks whose dependencies are satisfied to
// ready. A skipped dependency satisfies only when it was declared
// skippable; otherwise the dependent fails with UPSTREAM_SKIPPED.
func promoteReady(exec *models.Execution) {
	for i := range exec.Tasks {
		task := &exec.Tasks[i]
		if task.Status != models.TaskPending {
			continue
		}
		satisfied := true
		for _, dep := range task.DependsOn {
			depTask, ok := exec.Task(dep)
			if !ok {
				continue
			}
			switch depTask.Status {
			case models.TaskCompleted:
			case models.TaskSkipped:
				if !depTask.Skippable {
					task.Status = models.TaskFailed
					task.LastError = "UPSTREAM_SKIPPED"
					satisfied = false
				}
			default:
				satisfied = false
			}
			if !satisfied {
				break
			}
		}
		if satisfied && task.Status == models.TaskPending {
			task.Status = models.TaskReady
		}
	}
}

// propagateSkip fails the pending dependents of a skipped non-skippable
// task. Skippable tasks read as completed-with-empty-output downstream.
func propagateSkip(exec *models.Execution, skipped *models.Task) {
	if skipped.Skippable {
		return
	}
	for i := range exec.Tasks {
		task := &exec.Tasks[i]
		if task.Status != models.TaskPending && task.Status != models.TaskReady {
			continue
		}
		for _, dep := range task.DependsOn {
			if dep == skipped.TaskID {
				task.Status = models.TaskFailed
				task.LastError = "UPSTREAM_SKIPPED"
				break
			}
		}
	}
}

// refreshState recomputes the execution state from its tasks.
func refreshState(exec *models.Execution) {
	var failed, blocked, ready, running, pending int
	allDone := true
	for i := range exec.Tasks {
		switch exec.Tasks[i].Status {
		case models.TaskCompleted, models.TaskSkipped:
		case models.TaskFailed:
			failed++
			allDone = false
		case models.TaskBlocked:
			blocked++
			allDone = false
		case models.TaskReady:
			ready++
			allDone = false
		case models.TaskRunning:
			running++
			allDone = false
		default:
			pending++
			allDone = false
		}
	}

	switch {
	case allDone:
		exec.State = models.ExecutionCompleted
	case failed > 0 && ready == 0 && running == 0:
		exec.State = models.ExecutionFailed
	case blocked > 0 && ready == 0 && running == 0:
		exec.State = models.ExecutionBlocked
	default:
		exec.State = models.ExecutionRunning
	}
}

func smallestReady(exec *models.Execution) *models.Task {
	var best *models.Task
	for i := range exec.Tasks {
		t := &exec.Tasks[i]
		if t.Status != models.TaskReady {
			continue
		}
		if best == nil || t.TaskID < best.TaskID {
			best = t
		}
	}
	return best
}

func completedOutputs(exec *models.Execution) map[string]string {
	out := make(map[string]string)
	for i := range exec.Tasks {
		if exec.Tasks[i].Status == models.TaskCompleted {
			out[exec.Tasks[i].TaskID] = exec.Tasks[i].Output
		}
	}
	return out
}

func hasReady(exec *models.Execution) bool {
	for i := range exec.Tasks {
		if exec.Tasks[i].Status == models.TaskReady {
			return true
		}
	}
	return false
}

func snapshot(exec *models.Execution) models.Execution {
	out := *exec
	out.Tasks = make([]models.Task, len(exec.Tasks))
	copy(out.Tasks, exec.Tasks)
	return out
}
