package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntFromPayloadHandlesNumericTypes(t *testing.T) {
	v, ok := intFromPayload(map[string]any{"n": int32(3)}, "n")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = intFromPayload(map[string]any{"n": int64(4)}, "n")
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	v, ok = intFromPayload(map[string]any{"n": float64(5)}, "n")
	assert.True(t, ok)
	assert.Equal(t, 5, v)

	v, ok = intFromPayload(map[string]any{"n": 6}, "n")
	assert.True(t, ok)
	assert.Equal(t, 6, v)
}

func TestIntFromPayloadMissingKey(t *testing.T) {
	_, ok := intFromPayload(map[string]any{}, "n")
	assert.False(t, ok)
}

func TestIntFromPayloadWrongType(t *testing.T) {
	_, ok := intFromPayload(map[string]any{"n": "not-a-number"}, "n")
	assert.False(t, ok)
}
