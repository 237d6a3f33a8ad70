package virtual

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectTopicToUnlockPicksFirstTopicWhenAllLocked(t *testing.T) {
	topics := []Topic{
		{ID: "t1", Order: 1, Locked: true, Status: TopicLocked},
		{ID: "t2", Order: 2, Locked: true, Status: TopicLocked},
	}

	candidate := selectTopicToUnlock(topics)

	assert.NotNil(t, candidate)
	assert.Equal(t, "t1", candidate.ID)
}

func TestSelectTopicToUnlockPicksNextLockedAfterCompletedSibling(t *testing.T) {
	topics := []Topic{
		{ID: "t1", Order: 1, Locked: false, Status: TopicCompleted},
		{ID: "t2", Order: 2, Locked: true, Status: TopicLocked},
		{ID: "t3", Order: 3, Locked: true, Status: TopicLocked},
	}

	candidate := selectTopicToUnlock(topics)

	assert.NotNil(t, candidate)
	assert.Equal(t, "t2", candidate.ID)
}

func TestSelectTopicToUnlockReturnsNilWhenPreviousSiblingIncomplete(t *testing.T) {
	topics := []Topic{
		{ID: "t1", Order: 1, Locked: false, Status: TopicActive},
		{ID: "t2", Order: 2, Locked: true, Status: TopicLocked},
	}

	candidate := selectTopicToUnlock(topics)

	assert.Nil(t, candidate, "t1 hasn't completed yet, so t2 must stay locked")
}

func TestSelectTopicToUnlockReturnsNilWhenNothingLocked(t *testing.T) {
	topics := []Topic{
		{ID: "t1", Order: 1, Locked: false, Status: TopicCompleted},
		{ID: "t2", Order: 2, Locked: false, Status: TopicActive},
	}

	candidate := selectTopicToUnlock(topics)

	assert.Nil(t, candidate)
}
