package models

import "time"

// Scene is a named operating context binding defaults and an LLM provider.
type Scene string

const (
	SceneDashboard   Scene = "dashboard"
	SceneDataDiscuss Scene = "data_discuss"
	SceneLoanOps     Scene = "loan_ops"
)

// AnalysisRequest is the input to the analysis pipeline.
type AnalysisRequest struct {
	Question       string `json:"question"`
	DatasourceID   string `json:"datasource_id"`
	Scene          Scene  `json:"scene"`
	LLMBindingID   string `json:"llm_binding_id,omitempty"`
	AgentProfileID string `json:"agent_profile_id,omitempty"`
	Visualize      bool   `json:"visualize"`
}

// ColumnMeta names one result column.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CorrectionLog records one attempt of the SQL correction loop.
type CorrectionLog struct {
	Attempt      int       `json:"attempt"`
	PreviousSQL  string    `json:"previous_sql"`
	EngineError  string    `json:"engine_error"`
	CorrectedSQL string    `json:"corrected_sql"`
	TS           time.Time `json:"ts"`
}

// ChartSpec is the visualization produced for a tabular result.
type ChartSpec struct {
	ChartType string         `json:"chart_type"`
	Spec      map[string]any `json:"spec,omitempty"`
	Insight   string         `json:"insight,omitempty"`
}

// AnalysisResult is the output of the analysis pipeline.
//
// Invariants: Intent==answer implies SQL is set and Rows is non-nil;
// Intent==clarification implies Clarification is set and SQL is empty.
type AnalysisResult struct {
	Intent        Intent          `json:"intent"`
	SQL           string          `json:"sql,omitempty"`
	Columns       []ColumnMeta    `json:"columns,omitempty"`
	Rows          [][]any         `json:"rows,omitempty"`
	RowCount      int             `json:"row_count"`
	Truncated     bool            `json:"truncated,omitempty"`
	DurationMS    int64           `json:"duration_ms"`
	Insight       string          `json:"insight,omitempty"`
	Chart         *ChartSpec      `json:"chart,omitempty"`
	Clarification *Clarification  `json:"clarification,omitempty"`
	Attempts      int             `json:"attempts"`
	Corrections   []CorrectionLog `json:"corrections,omitempty"`
	Errors        []string        `json:"errors,omitempty"`
}
