package proxy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadOf(t *testing.T, raw string) map[string]any {
	t.Helper()
	m := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestObserveAnthropicShape(t *testing.T) {
	var u tokenUsage
	u.observe(payloadOf(t, `{"usage":{"input_tokens":120,"output_tokens":45}}`))
	assert.Equal(t, 120, u.Input)
	assert.Equal(t, 45, u.Output)
}

func TestObserveOpenAIFallback(t *testing.T) {
	var u tokenUsage
	u.observe(payloadOf(t, `{"usage":{"prompt_tokens":120,"completion_tokens":45}}`))
	assert.Equal(t, 120, u.Input)
	assert.Equal(t, 45, u.Output)
}

func TestObserveMessageStartNesting(t *testing.T) {
	var u tokenUsage
	u.observe(payloadOf(t, `{"type":"message_start","message":{"usage":{"input_tokens":77}}}`))
	assert.Equal(t, 77, u.Input)
	assert.Zero(t, u.Output)
}

func TestObserveLastValueWinsPerField(t *testing.T) {
	var u tokenUsage
	u.observe(payloadOf(t, `{"usage":{"input_tokens":100}}`))
	u.observe(payloadOf(t, `{"usage":{"output_tokens":5}}`))
	u.observe(payloadOf(t, `{"usage":{"output_tokens":42}}`))

	// input survives chunks that only carry output
	assert.Equal(t, 100, u.Input)
	assert.Equal(t, 42, u.Output)
}

func TestObserveIgnoresJunk(t *testing.T) {
	var u tokenUsage
	u.observe(nil)
	u.observe(payloadOf(t, `{"usage":"not an object"}`))
	u.observe(payloadOf(t, `{"usage":{"input_tokens":"12"}}`))
	assert.Zero(t, u.Input)
	assert.Zero(t, u.Output)
}

func TestComputeCostFormula(t *testing.T) {
	cost := computeCost(tokenUsage{Input: 1000, Output: 500}, 0.01, 0.01)
	assert.Equal(t, (1000.0/1000)*0.01+(500.0/1000)*0.01, cost)
	assert.InDelta(t, 0.015, cost, 1e-12)

	// partial thousands are charged proportionally
	cost = computeCost(tokenUsage{Input: 1, Output: 0}, 0.03, 0.06)
	assert.InDelta(t, 0.00003, cost, 1e-12)

	assert.Zero(t, computeCost(tokenUsage{}, 0.01, 0.01))
}
