package models

import "time"

// Role identifies the author of an AgentMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Intent classifies an agent's reply.
type Intent string

const (
	IntentAnswer        Intent = "answer"
	IntentClarification Intent = "clarification"
	IntentError         Intent = "error"
)

// AgentMessage is the structured reply produced by an agent invocation.
// Immutable once emitted.
type AgentMessage struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Data     any            `json:"data,omitempty"`
	Intent   Intent         `json:"intent"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clarification is a follow-up question the SQL agent asks when the
// user's question is under-specified.
type Clarification struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// AgentLogRecord is the structured execution log emitted for every
// agent runtime call.
type AgentLogRecord struct {
	ProfileID string         `json:"profile_id"`
	Step      string         `json:"step"`
	Status    string         `json:"status"` // started | completed | failed
	Detail    string         `json:"detail,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TS        time.Time      `json:"ts"`
}

// FeatureMask enables or disables optional agent tools per profile.
type FeatureMask struct {
	SQLTool        bool `json:"sql_tool" yaml:"sql_tool"`
	RAGTool        bool `json:"rag_tool" yaml:"rag_tool"`
	RuleValidation bool `json:"rule_validation" yaml:"rule_validation"`
}
