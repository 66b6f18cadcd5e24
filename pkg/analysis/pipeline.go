// Package analysis orchestrates the NL question to answer pipeline:
// schema resolution, SQL generation, validation, execution with a
// bounded correction loop, and optional visualization.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatbi-ai/chatbi/pkg/agent"
	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/dbadapter"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/memory"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// memoryContextLimit bounds how many past analyses feed the prompt.
const memoryContextLimit = 5

// DatasourceSource resolves datasources by id.
type DatasourceSource interface {
	Datasource(ctx context.Context, id string) (models.Datasource, error)
}

// Recorder persists the pipeline's observable side effects. A nil
// Recorder is valid and drops everything.
type Recorder interface {
	RecordQuery(ctx context.Context, rec models.QueryRecord)
	RecordCorrections(ctx context.Context, queryID string, logs []models.CorrectionLog)
}

// Pipeline is the analysis orchestrator.
type Pipeline struct {
	cfg         *config.Config
	datasources DatasourceSource
	pool        *dbadapter.Manager
	schema      *agent.SchemaAgent
	sqlgen      *agent.SqlAgent
	viz         *agent.VisualizeAgent
	memory      *memory.Store
	recorder    Recorder
	log         *slog.Logger
}

// New wires the pipeline. memory and recorder may be nil.
func New(
	cfg *config.Config,
	datasources DatasourceSource,
	pool *dbadapter.Manager,
	schema *agent.SchemaAgent,
	sqlgen *agent.SqlAgent,
	viz *agent.VisualizeAgent,
	mem *memory.Store,
	recorder Recorder,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		datasources: datasources,
		pool:        pool,
		schema:      schema,
		sqlgen:      sqlgen,
		viz:         viz,
		memory:      mem,
		recorder:    recorder,
		log:         slog.Default().With("component", "analysis"),
	}
}

// Analyze runs one question end to end. On failure the returned result
// still carries the partial SQL, attempts and error trail gathered so
// far, alongside the error.
func (p *Pipeline) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	start := time.Now()
	result := &models.AnalysisResult{}

	if strings.TrimSpace(req.Question) == "" {
		return fail(result, start, errs.New(errs.KindValidation, "question is required"))
	}
	if req.DatasourceID == "" {
		return fail(result, start, errs.New(errs.KindValidation, "datasource_id is required"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Analyze.EndToEndTimeout())
	defer cancel()

	ds, err := p.datasources.Datasource(ctx, req.DatasourceID)
	if err != nil {
		return fail(result, start, err)
	}

	desc, err := p.schema.Describe(ctx, ds, req.Question)
	if err != nil {
		return fail(result, start, err)
	}

	draft, err := p.sqlgen.Draft(ctx, agent.DraftInput{
		Question:      req.Question,
		Schema:        desc,
		Dialect:       desc.Dialect,
		MemoryContext: p.memoryContext(ctx, req),
		Scene:         req.Scene,
		BindingID:     req.LLMBindingID,
		ProfileID:     req.AgentProfileID,
	})
	if err != nil {
		return fail(result, start, err)
	}

	result.Attempts = 1
	if draft.Intent == models.IntentClarification {
		result.Intent = models.IntentClarification
		result.Clarification = draft.Clarification
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}

	sceneCfg := p.cfg.Scene(req.Scene)
	exec, finalSQL, err := p.executeWithCorrection(ctx, req, ds, desc, draft, sceneCfg, result)
	result.SQL = finalSQL
	if err != nil {
		result.DurationMS = time.Since(start).Milliseconds()
		p.recordQuery(ctx, req, result, err)
		return fail(result, start, err)
	}

	result.Intent = models.IntentAnswer
	result.Columns = exec.Columns
	result.Rows = exec.Rows
	if result.Rows == nil {
		result.Rows = [][]any{}
	}
	result.RowCount = exec.RowCount
	result.Truncated = exec.Truncated

	if (req.Visualize || draft.ShouldVisualize) && chartable(exec) {
		spec, vizErr := p.viz.Render(ctx, agent.VisualizeInput{
			Question:  req.Question,
			Columns:   exec.Columns,
			Rows:      exec.Rows,
			Scene:     req.Scene,
			BindingID: req.LLMBindingID,
			ProfileID: req.AgentProfileID,
		})
		if vizErr != nil {
			// A lost chart never fails the analysis.
			p.log.Warn("Visualization failed", "error", vizErr)
			result.Errors = append(result.Errors, vizErr.Error())
		} else {
			result.Chart = spec
			result.Insight = spec.Insight
		}
	}

	result.DurationMS = time.Since(start).Milliseconds()
	p.recordQuery(ctx, req, result, nil)
	p.remember(req, result)
	return result, nil
}

// executeWithCorrection validates and executes the draft, re-asking the
// SQL agent after SQL_ERROR failures. The loop is sequential, bounded by
// max_correction_attempts, and exits early when the agent returns the
// same statement twice in a row (fixed point).
func (p *Pipeline) executeWithCorrection(
	ctx context.Context,
	req models.AnalysisRequest,
	ds models.Datasource,
	desc *models.SchemaDescriptor,
	draft *agent.SQLDraft,
	sceneCfg config.SceneConfig,
	result *models.AnalysisResult,
) (*dbadapter.QueryResult, string, error) {
	conn, err := p.pool.Acquire(ctx, ds)
	if err != nil {
		return nil, draft.SQL, err
	}
	defer conn.Release()

	opts := dbadapter.ExecOptions{
		Timeout: sceneCfg.QueryTimeout(),
		MaxRows: sceneCfg.MaxRows,
	}

	currentSQL := draft.SQL
	var lastErr error

	for attempt := 0; attempt <= p.cfg.Analyze.MaxCorrectionAttempts; attempt++ {
		validated, verr := ValidateSQL(currentSQL, sceneCfg.ReadOnly, sceneCfg.MaxRows)
		if verr == nil {
			res, xerr := conn.Execute(ctx, validated, opts)
			if xerr == nil {
				return res, validated, nil
			}
			if !errs.IsKind(xerr, errs.KindSQLError) {
				return nil, validated, xerr
			}
			lastErr = xerr
		} else {
			// Validation feedback re-enters the loop like an engine error.
			lastErr = verr
		}

		if attempt == p.cfg.Analyze.MaxCorrectionAttempts {
			break
		}

		corrected, cerr := p.sqlgen.Correct(ctx, agent.CorrectInput{
			DraftInput: agent.DraftInput{
				Question:  req.Question,
				Schema:    desc,
				Dialect:   desc.Dialect,
				Scene:     req.Scene,
				BindingID: req.LLMBindingID,
				ProfileID: req.AgentProfileID,
			},
			PreviousSQL: currentSQL,
			EngineError: errMessage(lastErr),
		})
		if cerr != nil {
			result.Errors = append(result.Errors, cerr.Error())
			break
		}
		if corrected.Intent != models.IntentAnswer {
			result.Errors = append(result.Errors, "correction returned no sql")
			break
		}

		result.Attempts++
		result.Corrections = append(result.Corrections, models.CorrectionLog{
			Attempt:      attempt + 1,
			PreviousSQL:  currentSQL,
			EngineError:  errMessage(lastErr),
			CorrectedSQL: corrected.SQL,
			TS:           time.Now(),
		})
		result.Errors = append(result.Errors, errMessage(lastErr))

		if corrected.SQL == currentSQL {
			// Fixed point: the agent cannot improve on its answer.
			break
		}
		currentSQL = corrected.SQL
	}
	return nil, currentSQL, lastErr
}

func (p *Pipeline) memoryContext(ctx context.Context, req models.AnalysisRequest) []string {
	if p.memory == nil {
		return nil
	}
	events := p.memory.Search(ctx, req.Question, req.Scene, memoryContextLimit)
	var out []string
	for _, e := range events {
		if e.SQL != "" {
			out = append(out, fmt.Sprintf("Q: %s -> %s", e.UserText, e.SQL))
		}
	}
	return out
}

func (p *Pipeline) recordQuery(ctx context.Context, req models.AnalysisRequest, result *models.AnalysisResult, err error) {
	if p.recorder == nil {
		return
	}
	rec := models.QueryRecord{
		ID:           uuid.NewString(),
		DatasourceID: req.DatasourceID,
		Scene:        string(req.Scene),
		Question:     req.Question,
		SQL:          result.SQL,
		Status:       "ok",
		RowCount:     result.RowCount,
		DurationMS:   result.DurationMS,
		CreatedAt:    time.Now(),
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorKind = string(errs.KindOf(err))
	}
	p.recorder.RecordQuery(ctx, rec)
	if len(result.Corrections) > 0 {
		p.recorder.RecordCorrections(ctx, rec.ID, result.Corrections)
	}
}

func (p *Pipeline) remember(req models.AnalysisRequest, result *models.AnalysisResult) {
	if p.memory == nil {
		return
	}
	p.memory.Append(models.MemoryEvent{
		EventType:     models.MemoryAnalysisResult,
		Scene:         req.Scene,
		UserText:      req.Question,
		SQL:           result.SQL,
		ResultSummary: fmt.Sprintf("%d rows in %dms", result.RowCount, result.DurationMS),
	})
}

// chartable requires at least one categorical and one numeric column.
func chartable(res *dbadapter.QueryResult) bool {
	if len(res.Columns) < 2 || len(res.Rows) == 0 {
		return false
	}
	var categorical, numeric bool
	for i, c := range res.Columns {
		if numericColumn(c.Type, sampleValue(res.Rows, i)) {
			numeric = true
		} else {
			categorical = true
		}
	}
	return categorical && numeric
}

var numericTypeHints = []string{"int", "float", "double", "decimal", "numeric", "real", "number"}

func numericColumn(typeName string, sample any) bool {
	tn := strings.ToLower(typeName)
	for _, hint := range numericTypeHints {
		if strings.Contains(tn, hint) {
			return true
		}
	}
	switch sample.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func sampleValue(rows [][]any, col int) any {
	for _, row := range rows {
		if col < len(row) && row[col] != nil {
			return row[col]
		}
	}
	return nil
}

func errMessage(err error) string {
	var de *errs.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func fail(result *models.AnalysisResult, start time.Time, err error) (*models.AnalysisResult, error) {
	result.Intent = models.IntentError
	result.DurationMS = time.Since(start).Milliseconds()
	result.Errors = append(result.Errors, err.Error())
	return result, err
}
