package agent

import (
	"encoding/json"
	"strings"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// ParseReply turns a provider's textual reply into an AgentMessage.
// Replies are expected to be JSON objects, possibly wrapped in markdown
// fences; anything that fails to parse becomes a plain answer with the
// raw text as content.
func ParseReply(text string) *models.AgentMessage {
	msg := &models.AgentMessage{
		Role:   models.RoleAssistant,
		Intent: models.IntentAnswer,
	}

	payload := stripFences(text)
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		msg.Content = strings.TrimSpace(text)
		return msg
	}

	if v, ok := obj["intent"].(string); ok {
		switch models.Intent(v) {
		case models.IntentAnswer, models.IntentClarification, models.IntentError:
			msg.Intent = models.Intent(v)
		}
		delete(obj, "intent")
	}
	if v, ok := obj["content"].(string); ok {
		msg.Content = v
		delete(obj, "content")
	}
	msg.Data = obj
	msg.Metadata = map[string]any{"format": "json"}
	return msg
}

// stripFences removes a surrounding ```json ... ``` block, if present.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// decodeData maps a message's Data payload onto a typed struct via a
// JSON round trip. Unknown fields are ignored.
func decodeData(msg *models.AgentMessage, target any) error {
	if msg.Data == nil {
		return errs.New(errs.KindLLMProtocol, "agent reply carries no structured payload")
	}
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return errs.Wrap(errs.KindLLMProtocol, err, "agent payload not serializable")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errs.Wrap(errs.KindLLMProtocol, err, "agent payload shape mismatch")
	}
	return nil
}
