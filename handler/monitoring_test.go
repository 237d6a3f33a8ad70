package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestRegisterCallRejectsMissingCallID(t *testing.T) {
	h := NewMonitoringHandler(nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/ai-monitoring/calls", strings.NewReader(`{"provider":"openai"}`))
	w := httptest.NewRecorder()
	h.RegisterCall(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "call_id")
}

func TestUpdateCallRejectsMalformedBody(t *testing.T) {
	h := NewMonitoringHandler(nil, nil, testLogger())

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("call_id", "call-1")
	req := httptest.NewRequest(http.MethodPut, "/ai-monitoring/calls/call-1", strings.NewReader(`not-json`))
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	h.UpdateCall(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutConfigRejectsMalformedBody(t *testing.T) {
	h := NewMonitoringHandler(nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPut, "/ai-monitoring/config", strings.NewReader(`not-json`))
	w := httptest.NewRecorder()
	h.PutConfig(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// updateCallRequest never exposes a cost field: even a client that injects
// one is decoding into a struct that has nowhere to put it.
func TestUpdateCallRequestHasNoCostFields(t *testing.T) {
	var req updateCallRequest
	err := json.Unmarshal([]byte(`{"completion_tokens":10,"total_cost":999.0,"input_cost":1,"output_cost":1}`), &req)
	assert.NoError(t, err)
	assert.Equal(t, 10, req.CompletionTokens)
}
