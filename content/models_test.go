package content

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintChangesWhenUpdatedAtChanges(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tc := TopicContent{ID: "tc-1", UpdatedAt: base}

	fp1 := Fingerprint(tc)
	tc.UpdatedAt = base.Add(time.Second)
	fp2 := Fingerprint(tc)

	assert.NotEqual(t, fp1, fp2, "touching updated_at must invalidate every derived adaptation's fingerprint")
}

func TestFingerprintStableForSameInput(t *testing.T) {
	tc := TopicContent{ID: "tc-1", UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	assert.Equal(t, Fingerprint(tc), Fingerprint(tc))
}

func TestFingerprintDiffersAcrossContentIDs(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	fp1 := Fingerprint(TopicContent{ID: "tc-1", UpdatedAt: at})
	fp2 := Fingerprint(TopicContent{ID: "tc-2", UpdatedAt: at})

	assert.NotEqual(t, fp1, fp2)
}

func TestModuleReadinessRequiresAtLeastOnePublishedTopic(t *testing.T) {
	assert.False(t, ModuleReadiness{PublishedTopicCount: 0, TotalTopicCount: 3}.Ready())
	assert.True(t, ModuleReadiness{PublishedTopicCount: 1, TotalTopicCount: 3}.Ready())
}
