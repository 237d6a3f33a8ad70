package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordResultRejectsMissingVirtualContentID(t *testing.T) {
	h := NewContentHandler(nil, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/content/results", strings.NewReader(`{"score":0.8}`))
	w := httptest.NewRecorder()
	h.RecordResult(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "virtual_content_id")
}

func TestUpdateVirtualizationSettingsRejectsMalformedBody(t *testing.T) {
	h := NewContentHandler(nil, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPut, "/modules/mod-1/virtualization-settings", strings.NewReader(`not-json`))
	w := httptest.NewRecorder()
	h.UpdateVirtualizationSettings(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetTopicPublishedRejectsMalformedBody(t *testing.T) {
	h := NewContentHandler(nil, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPut, "/content/topics/topic-1/publish", strings.NewReader(`not-json`))
	w := httptest.NewRecorder()
	h.SetTopicPublished(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpsertTopicContentRejectsMissingContentType(t *testing.T) {
	h := NewContentHandler(nil, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPut, "/content/topics/topic-1/contents", strings.NewReader(`{"order":1}`))
	w := httptest.NewRecorder()
	h.UpsertTopicContent(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "content_type")
}
