package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = MustSchema("test_payload", `{
	"type": "object",
	"required": ["score"],
	"properties": {
		"score": {"type": "integer", "minimum": 0, "maximum": 100}
	}
}`)

func TestSchemaValidate(t *testing.T) {
	assert.NoError(t, testSchema.Validate(`{"score": 42}`))

	err := testSchema.Validate(`{"score": "high"}`)
	require.Error(t, err)

	err = testSchema.Validate(`{"other": 1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score")
}

func TestCleanJSONContent(t *testing.T) {
	fenced := "```json\n{\"score\": 1}\n```"
	assert.Equal(t, `{"score": 1}`, CleanJSONContent(fenced))

	bare := "```\n{\"score\": 2}\n```"
	assert.Equal(t, `{"score": 2}`, CleanJSONContent(bare))

	plain := `{"score": 3}`
	assert.Equal(t, plain, CleanJSONContent(plain))
}

func TestNewSchemaRejectsInvalid(t *testing.T) {
	_, err := NewSchema("broken", `{"type": nope}`)
	assert.Error(t, err)
}
