package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncPayloadPublishIncludesTopicOnly(t *testing.T) {
	payload := syncPayload("publish", "topic-1", "")

	assert.Equal(t, map[string]any{"kind": "publish", "topic_id": "topic-1"}, payload)
}

func TestSyncPayloadRetractIncludesTopicOnly(t *testing.T) {
	payload := syncPayload("retract", "topic-1", "")

	assert.Equal(t, map[string]any{"kind": "retract", "topic_id": "topic-1"}, payload)
}

func TestSyncPayloadRefreshIncludesTopicAndContent(t *testing.T) {
	payload := syncPayload("refresh", "topic-1", "content-1")

	assert.Equal(t, map[string]any{"kind": "refresh", "topic_id": "topic-1", "content_id": "content-1"}, payload)
}

func TestSyncPayloadAddIncludesTopicAndContent(t *testing.T) {
	payload := syncPayload("add", "topic-1", "content-1")

	assert.Equal(t, map[string]any{"kind": "add", "topic_id": "topic-1", "content_id": "content-1"}, payload)
}

func TestSyncPayloadRemoveIncludesTopicAndContent(t *testing.T) {
	payload := syncPayload("remove", "topic-1", "content-1")

	assert.Equal(t, map[string]any{"kind": "remove", "topic_id": "topic-1", "content_id": "content-1"}, payload)
}

func TestSyncPayloadOmitsEmptyIdentifiers(t *testing.T) {
	payload := syncPayload("publish", "", "")

	assert.Equal(t, map[string]any{"kind": "publish"}, payload)
}
