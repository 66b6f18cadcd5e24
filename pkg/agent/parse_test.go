package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

func TestParseReply_JSONAnswer(t *testing.T) {
	msg := ParseReply(`{"intent":"answer","sql":"SELECT 1","should_visualize":true}`)

	assert.Equal(t, models.RoleAssistant, msg.Role)
	assert.Equal(t, models.IntentAnswer, msg.Intent)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", data["sql"])
	assert.Equal(t, true, data["should_visualize"])
}

func TestParseReply_FencedJSON(t *testing.T) {
	msg := ParseReply("```json\n{\"intent\":\"clarification\",\"clarification\":{\"question\":\"Which window?\"}}\n```")

	assert.Equal(t, models.IntentClarification, msg.Intent)
	require.NotNil(t, msg.Data)
}

func TestParseReply_PlainTextFallback(t *testing.T) {
	msg := ParseReply("I could not produce SQL for that question.")

	assert.Equal(t, models.IntentAnswer, msg.Intent)
	assert.Equal(t, "I could not produce SQL for that question.", msg.Content)
	assert.Nil(t, msg.Data)
}

func TestParseReply_UnknownIntentDefaultsToAnswer(t *testing.T) {
	msg := ParseReply(`{"intent":"shrug","sql":"SELECT 1"}`)
	assert.Equal(t, models.IntentAnswer, msg.Intent)
}

func TestDecodeData_ShapeMismatchIsProtocolError(t *testing.T) {
	msg := ParseReply(`{"sql":{"not":"a string"}}`)

	var draft SQLDraft
	err := decodeData(msg, &draft)
	require.Error(t, err)
	assert.Equal(t, errs.KindLLMProtocol, errs.KindOf(err))
}
