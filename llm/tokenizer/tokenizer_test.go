package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-go/types"
)

func TestForModel(t *testing.T) {
	tk, ok := ForModel("gpt-4o-mini").(*TiktokenTokenizer)
	require.True(t, ok)
	assert.Equal(t, "o200k_base", tk.Encoding())

	tk, ok = ForModel("gpt-4-0613").(*TiktokenTokenizer)
	require.True(t, ok)
	assert.Equal(t, "cl100k_base", tk.Encoding())

	_, ok = ForModel("llama-3-70b").(*EstimatorTokenizer)
	assert.True(t, ok)
}

func TestEncodingFor_LongestPrefix(t *testing.T) {
	enc, ok := encodingFor("gpt-4-turbo-2024-04-09")
	require.True(t, ok)
	assert.Equal(t, "cl100k_base", enc)

	enc, ok = encodingFor("gpt-4o-2024-08-06")
	require.True(t, ok)
	assert.Equal(t, "o200k_base", enc)

	_, ok = encodingFor("mistral-large")
	assert.False(t, ok)
}

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("any")

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.CountTokens("abcd")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.CountTokens("你好世界")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("any")
	// user: 2 + role(1) + 4; assistant: 0 + role(2) + 4 + name(1)
	msgs := []types.Message{
		types.NewUserMessage("abcdabcd"),
		types.NewAssistantMessage("", types.ToolCallRequest{Name: "search"}),
	}
	n, err := e.CountMessages(msgs)
	require.NoError(t, err)
	assert.Equal(t, 7+7+3, n)
}
