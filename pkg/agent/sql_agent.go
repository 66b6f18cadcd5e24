package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

const maxClarificationOptions = 4

const sqlSystemPrompt = `You are a senior data analyst generating SQL for the %s dialect.

Schema:
%s

Rules:
- Return a single SELECT statement. Never modify data.
- If the question is under-specified (no metric, no time window, ambiguous entity), ask for clarification instead of guessing.
- Respond with a JSON object only:
  {"intent": "answer", "sql": "...", "should_visualize": true|false}
  or
  {"intent": "clarification", "clarification": {"question": "...", "options": ["...", "..."]}}
- At most %d clarification options.`

// SQLDraft is the SQL agent's structured output.
type SQLDraft struct {
	SQL             string                `json:"sql"`
	ShouldVisualize bool                  `json:"should_visualize"`
	Intent          models.Intent         `json:"-"`
	Clarification   *models.Clarification `json:"clarification,omitempty"`
}

// DraftInput is one SQL generation request.
type DraftInput struct {
	Question      string
	Schema        *models.SchemaDescriptor
	Dialect       string
	History       []string
	MemoryContext []string

	Scene     models.Scene
	BindingID string
	ProfileID string
}

// CorrectInput asks for a corrected statement after an engine error.
type CorrectInput struct {
	DraftInput
	PreviousSQL string
	EngineError string
}

// SqlAgent turns a question plus schema into a SQL draft, or a
// clarification when the question is under-specified.
type SqlAgent struct {
	rt *Runtime
}

// NewSqlAgent wires the agent onto a runtime.
func NewSqlAgent(rt *Runtime) *SqlAgent {
	return &SqlAgent{rt: rt}
}

// Draft generates the first SQL attempt.
func (a *SqlAgent) Draft(ctx context.Context, in DraftInput) (*SQLDraft, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Question: %s\n", in.Question)
	if len(in.History) > 0 {
		fmt.Fprintf(&user, "\nConversation so far:\n%s\n", strings.Join(in.History, "\n"))
	}
	if len(in.MemoryContext) > 0 && a.rt.Features(in.ProfileID).RAGTool {
		fmt.Fprintf(&user, "\nRelated past analyses:\n%s\n", strings.Join(in.MemoryContext, "\n"))
	}
	return a.invoke(ctx, in, "sql_draft", user.String())
}

// Correct asks for a fixed statement given the engine's error message.
func (a *SqlAgent) Correct(ctx context.Context, in CorrectInput) (*SQLDraft, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Question: %s\n\n", in.Question)
	fmt.Fprintf(&user, "This SQL failed:\n%s\n\nEngine error:\n%s\n\n", in.PreviousSQL, in.EngineError)
	user.WriteString("Return a corrected statement for the same question.")
	return a.invoke(ctx, in.DraftInput, "sql_correct", user.String())
}

func (a *SqlAgent) invoke(ctx context.Context, in DraftInput, step, user string) (*SQLDraft, error) {
	msg, err := a.rt.Invoke(ctx, InvokeRequest{
		ProfileID: in.ProfileID,
		Step:      step,
		System:    fmt.Sprintf(sqlSystemPrompt, in.Dialect, in.Schema.DDLSummary(), maxClarificationOptions),
		User:      user,
		BindingID: in.BindingID,
		Scene:     in.Scene,
	})
	if err != nil {
		return nil, err
	}

	draft := &SQLDraft{Intent: msg.Intent}
	if err := decodeData(msg, draft); err != nil {
		return nil, err
	}

	switch draft.Intent {
	case models.IntentClarification:
		if draft.Clarification == nil || draft.Clarification.Question == "" {
			return nil, errs.New(errs.KindLLMProtocol, "clarification reply without a question")
		}
		if len(draft.Clarification.Options) > maxClarificationOptions {
			draft.Clarification.Options = draft.Clarification.Options[:maxClarificationOptions]
		}
		draft.SQL = ""
	default:
		draft.SQL = strings.TrimSpace(stripFences(draft.SQL))
		if draft.SQL == "" {
			return nil, errs.New(errs.KindLLMProtocol, "answer reply without sql")
		}
	}
	return draft, nil
}
