package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/content"
	"github.com/AlfredDev/virtualize/httpx"
	"github.com/AlfredDev/virtualize/middleware"
	"github.com/AlfredDev/virtualize/sync"
	"github.com/AlfredDev/virtualize/virtual"
)

// ContentHandler serves content-result submission and the instructor-side
// authoring surface (ContentAuthoringAPI from §6.1): topic publish state
// and topic-content CRUD, each of which hands off to the Sync Reconciler
// so materialized students catch up per §4.8's mutation table.
type ContentHandler struct {
	content    *content.Store
	virtual    *virtual.Store
	reconciler *sync.Reconciler
	log        zerolog.Logger
}

func NewContentHandler(c *content.Store, v *virtual.Store, r *sync.Reconciler, log zerolog.Logger) *ContentHandler {
	return &ContentHandler{content: c, virtual: v, reconciler: r, log: log.With().Str("component", "content-handler").Logger()}
}

type recordResultRequest struct {
	VirtualContentID     string  `json:"virtual_content_id"`
	Score                float64 `json:"score"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// RecordResult handles POST /content/results.
func (h *ContentHandler) RecordResult(w http.ResponseWriter, r *http.Request) {
	var req recordResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VirtualContentID == "" {
		httpx.RespondError(w, apperrors.New(apperrors.KindValidation, "virtual_content_id is required"))
		return
	}
	studentID := middleware.GetUserID(r.Context())

	result, err := h.virtual.RecordResult(r.Context(), studentID, req.VirtualContentID, req.Score, req.CompletionPercentage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Respond(w, http.StatusCreated, map[string]any{
		"id":                    result.ID,
		"virtual_content_id":    result.VirtualContentID,
		"score":                 result.Score,
		"completion_percentage": result.CompletionPercentage,
	})
}

type virtualizationSettingsRequest struct {
	InitialBatchSize    int     `json:"initial_batch_size"`
	GenerationThreshold float64 `json:"generation_threshold"`
}

// UpdateVirtualizationSettings handles PUT /modules/{id}/virtualization-settings.
func (h *ContentHandler) UpdateVirtualizationSettings(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "id")
	var req virtualizationSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, apperrors.New(apperrors.KindValidation, "invalid request body"))
		return
	}
	settings := content.VirtualizationSettings{
		InitialBatchSize:    req.InitialBatchSize,
		GenerationThreshold: req.GenerationThreshold,
	}
	if err := h.content.UpdateVirtualizationSettings(r.Context(), moduleID, settings); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, map[string]any{"module_id": moduleID, "virtualization_settings": settings})
}

type setTopicPublishedRequest struct {
	Published bool `json:"published"`
}

// SetTopicPublished handles PUT /content/topics/{id}/publish: the §4.1
// false→true / true→false transition that fans out sync_content_change
// tasks to every student already materializing the parent module.
func (h *ContentHandler) SetTopicPublished(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "id")
	var req setTopicPublishedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, apperrors.New(apperrors.KindValidation, "invalid request body"))
		return
	}
	if err := h.content.SetTopicPublished(r.Context(), topicID, req.Published); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, map[string]any{"topic_id": topicID, "published": req.Published})
}

type upsertTopicContentRequest struct {
	ID              string `json:"id,omitempty"`
	ContentType     string `json:"content_type"`
	Order           int    `json:"order"`
	ParentContentID string `json:"parent_content_id,omitempty"`
	Content         any    `json:"content"`
}

// UpsertTopicContent handles PUT /content/topics/{id}/contents: creates or
// edits a TopicContent, then notifies the reconciler so every student with
// an already-materialized copy gets an add/refresh sync task (§4.8).
func (h *ContentHandler) UpsertTopicContent(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "id")
	var req upsertTopicContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContentType == "" {
		httpx.RespondError(w, apperrors.New(apperrors.KindValidation, "content_type is required"))
		return
	}
	isNew := req.ID == ""

	tc := &content.TopicContent{
		ID:              req.ID,
		TopicID:         topicID,
		ContentType:     content.ContentType(req.ContentType),
		Order:           req.Order,
		ParentContentID: req.ParentContentID,
		Content:         req.Content,
	}
	saved, err := h.content.CreateOrUpdateContent(r.Context(), tc)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	topic, err := h.content.GetTopic(r.Context(), topicID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if isNew {
		if err := h.reconciler.ReconcileContentAdded(r.Context(), topicID, topic.ModuleID, saved.ID); err != nil {
			httpx.RespondError(w, err)
			return
		}
	} else {
		fingerprint := content.Fingerprint(*saved)
		if err := h.reconciler.ReconcileContentEdited(r.Context(), topicID, topic.ModuleID, saved.ID, fingerprint); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	httpx.Respond(w, http.StatusOK, map[string]any{
		"id":           saved.ID,
		"topic_id":     saved.TopicID,
		"content_type": string(saved.ContentType),
		"order":        saved.Order,
	})
}

// DeleteTopic handles DELETE /content/topics/{id}: cascades to the topic's
// TopicContents and notifies the reconciler once per deleted content id.
func (h *ContentHandler) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "id")
	topic, err := h.content.GetTopic(r.Context(), topicID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	contentIDs, err := h.content.DeleteTopic(r.Context(), topicID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	for _, contentID := range contentIDs {
		if err := h.reconciler.ReconcileContentDeleted(r.Context(), topicID, topic.ModuleID, contentID); err != nil {
			h.log.Error().Err(err).Str("content_id", contentID).Msg("failed to reconcile deleted content")
		}
	}
	httpx.Respond(w, http.StatusOK, map[string]any{"topic_id": topicID, "deleted_content_ids": contentIDs})
}

// DeleteModule handles DELETE /content/modules/{id}: cascades to every
// Topic and TopicContent under it, reconciling each deleted content.
func (h *ContentHandler) DeleteModule(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "id")
	deleted, err := h.content.DeleteModule(r.Context(), moduleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	for _, dt := range deleted {
		for _, contentID := range dt.ContentIDs {
			if err := h.reconciler.ReconcileContentDeleted(r.Context(), dt.TopicID, moduleID, contentID); err != nil {
				h.log.Error().Err(err).Str("content_id", contentID).Msg("failed to reconcile deleted content")
			}
		}
	}
	httpx.Respond(w, http.StatusOK, map[string]any{"module_id": moduleID, "deleted_topic_count": len(deleted)})
}
