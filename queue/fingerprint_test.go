package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministicAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"student_id": "s1", "module_id": "m1"}
	b := map[string]any{"module_id": "m1", "student_id": "s1"}

	fpA, err := fingerprint(a)
	assert.NoError(t, err)
	fpB, err := fingerprint(b)
	assert.NoError(t, err)

	assert.Equal(t, fpA, fpB, "encoding/json sorts map keys, so insertion order must not affect the dedupe key")
}

func TestFingerprintDiffersAcrossPayloads(t *testing.T) {
	fp1, err := fingerprint(map[string]any{"topic_id": "t1"})
	assert.NoError(t, err)
	fp2, err := fingerprint(map[string]any{"topic_id": "t2"})
	assert.NoError(t, err)

	assert.NotEqual(t, fp1, fp2)
}

func TestFingerprintIsHexSHA256(t *testing.T) {
	fp, err := fingerprint(map[string]any{"a": 1})
	assert.NoError(t, err)
	assert.Len(t, fp, 64)
}
