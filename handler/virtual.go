// Package handler implements the HTTP surface §6.1 names, translating
// JSON request/response DTOs to and from the component APIs and rendering
// every response through the httpx envelope.
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
	"github.com/AlfredDev/virtualize/scheduler"
	"github.com/AlfredDev/virtualize/virtual"
)

// VirtualHandler serves the progressive-virtualization endpoints: bootstrap,
// manual topic advance, and module readback.
type VirtualHandler struct {
	content   *content.Store
	virtual   *virtual.Store
	scheduler *scheduler.Scheduler
	log       zerolog.Logger
}

func NewVirtualHandler(c *content.Store, v *virtual.Store, sch *scheduler.Scheduler, log zerolog.Logger) *VirtualHandler {
	return &VirtualHandler{content: c, virtual: v, scheduler: sch, log: log.With().Str("component", "virtual-handler").Logger()}
}

type progressiveGenerationRequest struct {
	PlanID string `json:"plan_id"`
}

type virtualModuleView struct {
	ID               string  `json:"id"`
	ModuleID         string  `json:"module_id"`
	StudentID        string  `json:"student_id"`
	GenerationStatus string  `json:"generation_status"`
	Progress         float64 `json:"progress"`
}

func toVirtualModuleView(m virtual.Module) virtualModuleView {
	return virtualModuleView{
		ID:               m.ID,
		ModuleID:         m.ModuleID,
		StudentID:        m.StudentID,
		GenerationStatus: string(m.GenerationStatus),
		Progress:         m.Progress,
	}
}

// ProgressiveGeneration handles POST /virtual/progressive-generation: runs
// the scheduler's bootstrap/advance policy for the caller's plan and
// reports the student's current VirtualModules.
func (h *VirtualHandler) ProgressiveGeneration(w http.ResponseWriter, r *http.Request) {
	var req progressiveGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == "" {
		httpx.RespondError(w, apperrors.New(apperrors.KindValidation, "plan_id is required"))
		return
	}
	studentID := middleware.GetUserID(r.Context())

	if err := h.scheduler.Schedule(r.Context(), studentID, req.PlanID); err != nil {
		httpx.RespondError(w, err)
		return
	}

	modules, err := h.content.ModulesForPlan(r.Context(), req.PlanID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	moduleIDs := make([]string, len(modules))
	for i, m := range modules {
		moduleIDs[i] = m.ID
	}
	vms, err := h.virtual.ModulesForStudent(r.Context(), studentID, moduleIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	views := make([]virtualModuleView, len(vms))
	for i, vm := range vms {
		views[i] = toVirtualModuleView(vm)
	}
	httpx.Respond(w, http.StatusOK, map[string]any{"virtual_modules": views})
}

type triggerNextTopicRequest struct {
	VirtualModuleID string `json:"virtual_module_id"`
}

// TriggerNextTopic handles POST /virtual/trigger-next-topic: a student
// completing a topic both unlocks the next topic (§4.7 topic-level
// advance) and re-runs the module-level schedule(student, plan) check
// (§4.7 trigger #2), since crossing the module's generation_threshold can
// happen on the very completion that unlocks the next topic.
func (h *VirtualHandler) TriggerNextTopic(w http.ResponseWriter, r *http.Request) {
	var req triggerNextTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VirtualModuleID == "" {
		httpx.RespondError(w, apperrors.New(apperrors.KindValidation, "virtual_module_id is required"))
		return
	}
	if err := h.scheduler.AdvanceTopic(r.Context(), req.VirtualModuleID); err != nil {
		httpx.RespondError(w, err)
		return
	}

	vm, err := h.virtual.GetModule(r.Context(), req.VirtualModuleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	module, err := h.content.GetModule(r.Context(), vm.ModuleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.scheduler.Schedule(r.Context(), vm.StudentID, module.StudyPlanID); err != nil {
		httpx.RespondError(w, err)
		return
	}

	httpx.Respond(w, http.StatusOK, map[string]any{"virtual_module_id": req.VirtualModuleID})
}

type virtualTopicView struct {
	ID       string `json:"id"`
	TopicID  string `json:"topic_id"`
	Order    int    `json:"order"`
	Name     string `json:"name"`
	Locked   bool   `json:"locked"`
	Status   string `json:"status"`
	Progress float64 `json:"progress"`
	Contents []virtualContentView `json:"contents"`
}

type virtualContentView struct {
	ID              string `json:"id"`
	SourceContentID string `json:"source_content_id"`
	ContentType     string `json:"content_type"`
	Order           int    `json:"order"`
	Payload         any    `json:"payload"`
	Status          string `json:"status"`
}

// GetModule handles GET /virtual/modules/{id}: a VirtualModule with its
// VirtualTopics and per-topic content inventory.
func (h *VirtualHandler) GetModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	vm, err := h.virtual.GetModule(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	topics, err := h.virtual.TopicsForModule(r.Context(), vm.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	topicViews := make([]virtualTopicView, len(topics))
	for i, t := range topics {
		contents, err := h.virtual.ContentsForTopic(r.Context(), t.ID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		contentViews := make([]virtualContentView, len(contents))
		for j, c := range contents {
			contentViews[j] = virtualContentView{
				ID:              c.ID,
				SourceContentID: c.SourceContentID,
				ContentType:     c.ContentType,
				Order:           c.Order,
				Payload:         c.Payload,
				Status:          c.Status,
			}
		}
		topicViews[i] = virtualTopicView{
			ID:       t.ID,
			TopicID:  t.TopicID,
			Order:    t.Order,
			Name:     t.Name,
			Locked:   t.Locked,
			Status:   string(t.Status),
			Progress: t.Progress,
			Contents: contentViews,
		}
	}

	httpx.Respond(w, http.StatusOK, map[string]any{
		"virtual_module": toVirtualModuleView(*vm),
		"topics":         topicViews,
	})
}
