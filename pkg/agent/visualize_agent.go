package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// visualizeSampleRows bounds how much of the result the prompt carries.
const visualizeSampleRows = 20

const visualizeSystemPrompt = `You are a data visualization assistant.
Given a question and a tabular result, pick the best chart and write a
one-sentence insight. Respond with a JSON object only:
{"chart_type": "bar|line|pie|scatter|table", "spec": {...}, "insight": "..."}
The spec uses keys "x", "y" and optional "series" naming result columns.`

// VisualizeInput is one chart request. The agent is a pure function of
// this input apart from the LLM call.
type VisualizeInput struct {
	Question string
	Columns  []models.ColumnMeta
	Rows     [][]any

	Scene     models.Scene
	BindingID string
	ProfileID string
}

// VisualizeAgent renders a chart spec and insight for a tabular result.
type VisualizeAgent struct {
	rt *Runtime
}

// NewVisualizeAgent wires the agent onto a runtime.
func NewVisualizeAgent(rt *Runtime) *VisualizeAgent {
	return &VisualizeAgent{rt: rt}
}

// Render produces the chart spec for the result sample.
func (a *VisualizeAgent) Render(ctx context.Context, in VisualizeInput) (*models.ChartSpec, error) {
	rows := in.Rows
	if len(rows) > visualizeSampleRows {
		rows = rows[:visualizeSampleRows]
	}
	sample, err := json.Marshal(map[string]any{
		"columns": in.Columns,
		"rows":    rows,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "result sample not serializable")
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Question: %s\n\nResult sample:\n%s", in.Question, sample)

	msg, err := a.rt.Invoke(ctx, InvokeRequest{
		ProfileID: in.ProfileID,
		Step:      "visualize",
		System:    visualizeSystemPrompt,
		User:      user.String(),
		BindingID: in.BindingID,
		Scene:     in.Scene,
	})
	if err != nil {
		return nil, err
	}

	var spec models.ChartSpec
	if err := decodeData(msg, &spec); err != nil {
		return nil, err
	}
	if spec.ChartType == "" {
		return nil, errs.New(errs.KindLLMProtocol, "visualization reply without chart_type")
	}
	return &spec, nil
}
