package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chatbi-ai/chatbi/pkg/agent"
	"github.com/chatbi-ai/chatbi/pkg/analysis"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// TaskBinding ties an execution to the datasource and scene its tasks
// query. Executions without a binding cannot run agent tasks.
type TaskBinding struct {
	DatasourceID string       `json:"datasource_id"`
	Scene        models.Scene `json:"scene"`
}

// ChainRunner executes plan tasks by dispatching them to the agents.
// It implements execution.TaskRunner.
type ChainRunner struct {
	pipeline    *analysis.Pipeline
	schema      *agent.SchemaAgent
	datasources analysis.DatasourceSource

	mu       sync.RWMutex
	bindings map[string]TaskBinding
}

// NewChainRunner creates a new ChainRunner.
func NewChainRunner(pipeline *analysis.Pipeline, schema *agent.SchemaAgent, datasources analysis.DatasourceSource) *ChainRunner {
	if pipeline == nil {
		panic("NewChainRunner: pipeline must not be nil")
	}
	if datasources == nil {
		panic("NewChainRunner: datasources must not be nil")
	}
	return &ChainRunner{
		pipeline:    pipeline,
		schema:      schema,
		datasources: datasources,
		bindings:    make(map[string]TaskBinding),
	}
}

// Bind attaches a binding to an execution. Must happen before the first
// tick runs a task.
func (r *ChainRunner) Bind(executionID string, binding TaskBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[executionID] = binding
}

// Unbind drops the binding of a finished execution.
func (r *ChainRunner) Unbind(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, executionID)
}

// RunTask executes one task. Clarification demands and missing bindings
// surface as EXECUTION_BLOCKED so the task waits for an operator.
func (r *ChainRunner) RunTask(ctx context.Context, exec models.Execution, task models.Task, outputs map[string]string) (string, error) {
	r.mu.RLock()
	binding, ok := r.bindings[exec.ExecutionID]
	r.mu.RUnlock()
	if !ok {
		return "", errs.New(errs.KindExecutionBlocked, "execution %s has no datasource binding", exec.ExecutionID)
	}

	switch task.AssignedAgent {
	case "schema":
		return r.runSchema(ctx, exec, binding)
	case "sql":
		return r.runSQL(ctx, exec, task, binding, false)
	case "visualize":
		return r.runSQL(ctx, exec, task, binding, true)
	default:
		return "", errs.New(errs.KindValidation, "task %s has unknown agent %q", task.TaskID, task.AssignedAgent)
	}
}

func (r *ChainRunner) runSchema(ctx context.Context, exec models.Execution, binding TaskBinding) (string, error) {
	ds, err := r.datasources.Datasource(ctx, binding.DatasourceID)
	if err != nil {
		return "", err
	}
	if r.schema == nil {
		return "", errs.New(errs.KindInternal, "schema agent not configured")
	}
	desc, err := r.schema.Describe(ctx, ds, exec.Question)
	if err != nil {
		return "", err
	}
	return desc.DDLSummary(), nil
}

func (r *ChainRunner) runSQL(ctx context.Context, exec models.Execution, task models.Task, binding TaskBinding, visualize bool) (string, error) {
	result, err := r.pipeline.Analyze(ctx, models.AnalysisRequest{
		Question:     taskQuestion(exec, task),
		DatasourceID: binding.DatasourceID,
		Scene:        binding.Scene,
		Visualize:    visualize,
	})
	if err != nil {
		return "", err
	}
	if result.Intent == models.IntentClarification {
		question := ""
		if result.Clarification != nil {
			question = result.Clarification.Question
		}
		return "", errs.New(errs.KindExecutionBlocked, "task needs clarification: %s", question)
	}
	return taskOutput(result), nil
}

// taskQuestion scopes the execution's question to one task.
func taskQuestion(exec models.Execution, task models.Task) string {
	q := exec.Question
	if task.Title != "" {
		q = fmt.Sprintf("%s: %s", task.Title, exec.Question)
	}
	if exec.LoanType != "" {
		q = fmt.Sprintf("%s (loan type: %s)", q, exec.LoanType)
	}
	return q
}

// taskOutput condenses an analysis result into the output string carried
// between tasks.
func taskOutput(result *models.AnalysisResult) string {
	summary := map[string]any{
		"sql":       result.SQL,
		"row_count": result.RowCount,
	}
	if result.Insight != "" {
		summary["insight"] = result.Insight
	}
	if result.Chart != nil {
		summary["chart_type"] = result.Chart.ChartType
	}
	out, err := json.Marshal(summary)
	if err != nil {
		return result.SQL
	}
	return string(out)
}
