package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/AlfredDev/virtualize/virtual"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestProgressiveGenerationRejectsMissingPlanID(t *testing.T) {
	h := NewVirtualHandler(nil, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/virtual/progressive-generation", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ProgressiveGeneration(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "plan_id")
}

func TestProgressiveGenerationRejectsMalformedBody(t *testing.T) {
	h := NewVirtualHandler(nil, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/virtual/progressive-generation", strings.NewReader(`not-json`))
	w := httptest.NewRecorder()
	h.ProgressiveGeneration(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerNextTopicRejectsMissingVirtualModuleID(t *testing.T) {
	h := NewVirtualHandler(nil, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/virtual/trigger-next-topic", strings.NewReader(`{"virtual_module_id":""}`))
	w := httptest.NewRecorder()
	h.TriggerNextTopic(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "virtual_module_id")
}

func TestToVirtualModuleView(t *testing.T) {
	m := virtual.Module{
		ID:               "vm-1",
		ModuleID:         "mod-1",
		StudentID:        "student-1",
		GenerationStatus: virtual.GenReady,
		Progress:         0.5,
	}
	view := toVirtualModuleView(m)

	assert.Equal(t, "vm-1", view.ID)
	assert.Equal(t, "mod-1", view.ModuleID)
	assert.Equal(t, "student-1", view.StudentID)
	assert.Equal(t, "ready", view.GenerationStatus)
	assert.InDelta(t, 0.5, view.Progress, 0.0001)
}
