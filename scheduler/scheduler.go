// Package scheduler implements the Progressive Scheduler (C7): the
// sliding-window policy deciding what to materialize next for a student,
// triggered on bootstrap, topic completion, and a periodic sweep.
package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/content"
	"github.com/AlfredDev/virtualize/observability"
	"github.com/AlfredDev/virtualize/queue"
	"github.com/AlfredDev/virtualize/virtual"
)

// Scheduler decides, per (student, plan), whether to enqueue the next
// `generate` task.
type Scheduler struct {
	content *content.Store
	virtual *virtual.Store
	queue   *queue.Store
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(c *content.Store, v *virtual.Store, q *queue.Store, log zerolog.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{content: c, virtual: v, queue: q, log: log.With().Str("component", "scheduler").Logger(), metrics: metrics}
}

// Schedule is schedule(student, plan) from §4.7: bootstraps the first
// module, or advances the sliding window by one when the current module
// has crossed its generation threshold.
func (s *Scheduler) Schedule(ctx context.Context, studentID, planID string) error {
	modules, err := s.content.ModulesForPlan(ctx, planID)
	if err != nil || len(modules) == 0 {
		return err
	}

	moduleIDs := make([]string, len(modules))
	for i, m := range modules {
		moduleIDs[i] = m.ID
	}
	vms, err := s.virtual.ModulesForStudent(ctx, studentID, moduleIDs)
	if err != nil {
		return err
	}
	vmByModule := make(map[string]virtual.Module, len(vms))
	for _, vm := range vms {
		vmByModule[vm.ModuleID] = vm
	}

	active := 0
	for _, vm := range vms {
		if vm.GenerationStatus == virtual.GenReady || vm.GenerationStatus == virtual.GenGenerating {
			active++
		}
	}
	if s.metrics != nil {
		// Window width: the count invariant 3 bounds at ≤2 concurrently
		// materializing VirtualModules per student.
		s.metrics.TrackQueueDepth("scheduler_window", int64(active), 0)
	}

	if active == 0 {
		first := modules[0]
		return s.enqueueGenerate(ctx, studentID, first.ID, first.VirtualizationSettings.InitialBatchSize, nil)
	}

	// M_current: the VirtualModule with greatest module order whose
	// progress > 0, tie-broken implicitly by iterating order-descending.
	var currentModule *content.Module
	var currentVM *virtual.Module
	for i := len(modules) - 1; i >= 0; i-- {
		m := modules[i]
		if vm, ok := vmByModule[m.ID]; ok && vm.Progress > 0 {
			mCopy, vmCopy := m, vm
			currentModule, currentVM = &mCopy, &vmCopy
			break
		}
	}
	if currentModule == nil {
		return nil
	}
	if currentVM.Progress < currentModule.VirtualizationSettings.GenerationThreshold {
		return nil
	}

	var readyErr error
	next := nextModuleToMaterialize(modules, currentModule.Order, vmByModule, func(moduleID string) bool {
		readiness, err := s.content.ModuleReadiness(ctx, moduleID)
		if err != nil {
			readyErr = err
			return false
		}
		return readiness.Ready()
	})
	if readyErr != nil {
		return readyErr
	}
	if next == nil {
		return nil
	}
	return s.enqueueGenerate(ctx, studentID, next.ID, next.VirtualizationSettings.InitialBatchSize, nil)
}

// nextModuleToMaterialize applies the window-advance policy: walking
// modules in order past currentOrder, it stops at the first module that is
// already materializing (so the sliding window never holds more than one
// new candidate at a time, per invariant 3's ≤2-concurrent-module cap) or
// that isn't content-ready yet (so the window never skips ahead over a gap).
// Extracted from Schedule so the policy can be tested without Mongo.
func nextModuleToMaterialize(modules []content.Module, currentOrder int, vmByModule map[string]virtual.Module, ready func(moduleID string) bool) *content.Module {
	for i := range modules {
		m := modules[i]
		if m.Order <= currentOrder {
			continue
		}
		if _, exists := vmByModule[m.ID]; exists {
			return nil // already materializing; don't look further ahead
		}
		if ready(m.ID) {
			return &modules[i]
		}
		return nil // next module in order isn't ready yet; don't skip ahead to a later one
	}
	return nil
}

func (s *Scheduler) enqueueGenerate(ctx context.Context, studentID, moduleID string, initialBatchSize int, topicID *string) error {
	payload := map[string]any{
		"student_id": studentID,
		"module_id":  moduleID,
	}
	if topicID != nil {
		payload["topic_id"] = *topicID
	} else {
		payload["initial_topic_count"] = initialBatchSize
	}
	_, err := s.queue.Enqueue(ctx, queue.TaskGenerate, studentID, moduleID, payload, queue.DefaultPriority)
	return err
}

// AdvanceTopic is called when a VirtualTopic transitions to completed: it
// unlocks the next topic and, if that topic hasn't been generated yet
// (the batch grew lazily), enqueues a targeted generate task for it.
func (s *Scheduler) AdvanceTopic(ctx context.Context, virtualModuleID string) error {
	unlocked, err := s.virtual.UnlockNextTopic(ctx, virtualModuleID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil // nothing left to unlock
		}
		return err
	}

	contents, err := s.virtual.ContentsForTopic(ctx, unlocked.ID)
	if err != nil {
		return err
	}
	if len(contents) > 0 {
		return nil
	}

	vm, err := s.virtual.GetModule(ctx, virtualModuleID)
	if err != nil {
		return err
	}
	return s.enqueueGenerate(ctx, vm.StudentID, vm.ModuleID, 0, &unlocked.TopicID)
}
