package services

import (
	"context"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/execution"
	"github.com/chatbi-ai/chatbi/pkg/models"
	"github.com/chatbi-ai/chatbi/pkg/planning"
)

// ExecutionSink persists execution snapshots. A nil sink drops them;
// the machine's in-memory state stays authoritative.
type ExecutionSink interface {
	SaveExecution(ctx context.Context, exec models.Execution)
}

// PlanService builds plans and drives their executions.
type PlanService struct {
	planner *planning.Engine
	machine *execution.Machine
	runner  *ChainRunner
	sink    ExecutionSink
}

// NewPlanService creates a new PlanService. runner and sink may be nil;
// without a runner, executions can only be driven by operator actions.
func NewPlanService(planner *planning.Engine, machine *execution.Machine, runner *ChainRunner, sink ExecutionSink) *PlanService {
	if planner == nil {
		panic("NewPlanService: planner must not be nil")
	}
	if machine == nil {
		panic("NewPlanService: machine must not be nil")
	}
	return &PlanService{planner: planner, machine: machine, runner: runner, sink: sink}
}

// BuildPlan materialises the best-matching chain without starting it.
func (s *PlanService) BuildPlan(_ context.Context, req planning.Request) (*models.Plan, error) {
	return s.planner.Build(req)
}

// StartInput carries everything needed to plan and start an execution.
type StartInput struct {
	Question     string       `json:"question"`
	Scene        models.Scene `json:"scene"`
	LoanType     string       `json:"loan_type,omitempty"`
	DatasourceID string       `json:"datasource_id"`
}

// StartExecution plans the question and creates a running execution
// bound to the given datasource.
func (s *PlanService) StartExecution(ctx context.Context, input StartInput) (models.Execution, error) {
	if input.DatasourceID == "" {
		return models.Execution{}, errs.New(errs.KindValidation, "datasource_id is required")
	}
	plan, err := s.planner.Build(planning.Request{
		Question: input.Question,
		Scene:    input.Scene,
		LoanType: input.LoanType,
	})
	if err != nil {
		return models.Execution{}, err
	}
	id, err := s.machine.Start(ctx, plan)
	if err != nil {
		return models.Execution{}, err
	}
	if s.runner != nil {
		s.runner.Bind(id, TaskBinding{DatasourceID: input.DatasourceID, Scene: input.Scene})
	}
	exec, err := s.machine.Get(id)
	if err != nil {
		return models.Execution{}, err
	}
	s.persist(ctx, exec)
	return exec, nil
}

// Tick advances the execution by one task.
func (s *PlanService) Tick(ctx context.Context, executionID string) (models.Execution, error) {
	exec, err := s.machine.Tick(ctx, executionID)
	if err != nil {
		return exec, err
	}
	s.persist(ctx, exec)
	return exec, nil
}

// Run ticks the execution until it completes, blocks or fails.
func (s *PlanService) Run(ctx context.Context, executionID string) (models.Execution, error) {
	exec, err := s.machine.Run(ctx, executionID, 0)
	s.persist(ctx, exec)
	if err != nil {
		return exec, err
	}
	if exec.State.Terminal() && s.runner != nil {
		s.runner.Unbind(executionID)
	}
	return exec, nil
}

// TaskAction applies an operator action (start, complete, fail, retry,
// skip) to one task.
func (s *PlanService) TaskAction(ctx context.Context, executionID, taskID, action string) (models.Execution, error) {
	exec, err := s.machine.TaskAction(ctx, executionID, taskID, action)
	if err != nil {
		return exec, err
	}
	s.persist(ctx, exec)
	return exec, nil
}

// Cancel aborts the execution; all unfinished tasks fail.
func (s *PlanService) Cancel(ctx context.Context, executionID string) (models.Execution, error) {
	exec, err := s.machine.Cancel(ctx, executionID)
	if err != nil {
		return exec, err
	}
	s.persist(ctx, exec)
	if s.runner != nil {
		s.runner.Unbind(executionID)
	}
	return exec, nil
}

// GetExecution returns one execution snapshot.
func (s *PlanService) GetExecution(_ context.Context, executionID string) (models.Execution, error) {
	return s.machine.Get(executionID)
}

// ListExecutions returns all known executions.
func (s *PlanService) ListExecutions(_ context.Context) []models.Execution {
	return s.machine.List()
}

func (s *PlanService) persist(ctx context.Context, exec models.Execution) {
	if s.sink != nil && exec.ExecutionID != "" {
		s.sink.SaveExecution(ctx, exec)
	}
}
