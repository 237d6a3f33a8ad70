package worker

import (
	"context"
	"fmt"

	"github.com/AlfredDev/virtualize/apperrors"
	"github.com/AlfredDev/virtualize/content"
	"github.com/AlfredDev/virtualize/queue"
	"github.com/AlfredDev/virtualize/virtual"
)

// contentTypeOrder fixes the generation order within a topic: slides
// before the quiz, since the quiz may depend on slide content (§4.6).
var contentTypeOrder = []content.ContentType{
	content.ContentSlide,
	content.ContentReading,
	content.ContentExercise,
	content.ContentInteractive,
	content.ContentQuiz,
}

func (p *Pool) dispatch(ctx context.Context, task *queue.Task) error {
	switch task.TaskType {
	case queue.TaskGenerate:
		return p.handleGenerate(ctx, task)
	case queue.TaskUpdate:
		return p.handleUpdate(ctx, task)
	case queue.TaskEnhance:
		return p.handleEnhance(ctx, task)
	case queue.TaskSyncContentChange:
		return p.handleSyncContentChange(ctx, task)
	default:
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("unknown task type %q", task.TaskType))
	}
}

func intFromPayload(payload map[string]any, key string) (int, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// handleGenerate performs the initial materialization of a VirtualModule,
// per §4.6's `generate` task type.
func (p *Pool) handleGenerate(ctx context.Context, task *queue.Task) error {
	vm, err := p.virtual.UpsertVirtualModule(ctx, task.StudentID, task.ModuleID)
	if err != nil {
		return err
	}
	if err := p.virtual.SetGenerationStatus(ctx, vm.ID, virtual.GenGenerating, ""); err != nil {
		return err
	}

	module, err := p.content.GetModule(ctx, task.ModuleID)
	if err != nil {
		_ = p.virtual.SetGenerationStatus(ctx, vm.ID, virtual.GenFailed, err.Error())
		return err
	}
	inventory, err := p.content.PublishedTopicInventory(ctx, task.ModuleID)
	if err != nil {
		_ = p.virtual.SetGenerationStatus(ctx, vm.ID, virtual.GenFailed, err.Error())
		return err
	}

	// A targeted generate (scheduler's lazy unlock-driven generation)
	// restricts work to a single topic instead of the initial batch.
	if topicID, ok := task.Payload["topic_id"].(string); ok && topicID != "" {
		for _, inv := range inventory {
			if inv.Topic.ID == topicID {
				if err := p.materializeTopic(ctx, vm.ID, task.StudentID, inv, false); err != nil {
					_ = p.virtual.SetGenerationStatus(ctx, vm.ID, virtual.GenFailed, err.Error())
					return err
				}
				break
			}
		}
		return p.virtual.SetGenerationStatus(ctx, vm.ID, virtual.GenReady, "")
	}

	batchSize := module.VirtualizationSettings.InitialBatchSize
	if n, ok := intFromPayload(task.Payload, "initial_topic_count"); ok && n > 0 {
		batchSize = n
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchSize > len(inventory) {
		batchSize = len(inventory)
	}

	for i := 0; i < batchSize; i++ {
		active := i == 0
		if err := p.materializeTopic(ctx, vm.ID, task.StudentID, inventory[i], active); err != nil {
			_ = p.virtual.SetGenerationStatus(ctx, vm.ID, virtual.GenFailed, err.Error())
			return err
		}
	}
	return p.virtual.SetGenerationStatus(ctx, vm.ID, virtual.GenReady, "")
}

// materializeTopic creates a VirtualTopic and adapts all of its source
// TopicContents, slides before the quiz.
func (p *Pool) materializeTopic(ctx context.Context, virtualModuleID, studentID string, inv content.TopicInventory, active bool) error {
	vt := &virtual.Topic{
		VirtualModuleID: virtualModuleID,
		TopicID:         inv.Topic.ID,
		StudentID:       studentID,
		Order:           inv.Topic.Order,
		Name:            inv.Topic.Name,
		Locked:          !active,
		Status:          virtual.TopicLocked,
	}
	if active {
		vt.Status = virtual.TopicActive
	}
	if err := p.virtual.CreateTopic(ctx, vt); err != nil {
		return err
	}

	for _, ct := range contentTypeOrder {
		for _, tc := range inv.Contents[ct] {
			if err := p.materializeContent(ctx, vt, studentID, tc); err != nil {
				return err
			}
		}
	}
	return nil
}

// materializeContent adapts one source TopicContent under the student's
// profile and upserts the resulting VirtualTopicContent. Every call goes
// through the Budget Gate.
func (p *Pool) materializeContent(ctx context.Context, vt *virtual.Topic, studentID string, tc content.TopicContent) error {
	prompt := fmt.Sprintf("Adapt this %s content for student %s:\n%v", tc.ContentType, studentID, tc.Content)
	resp, err := p.generateBudgeted(ctx, studentID, "content-generation", prompt)
	if err != nil {
		return err
	}

	vc := &virtual.TopicContent{
		VirtualTopicID:             vt.ID,
		SourceContentID:            tc.ID,
		ContentType:                string(tc.ContentType),
		Order:                      tc.Order,
		Payload:                    resp.Text,
		PersonalizationFingerprint: content.Fingerprint(tc),
	}
	return p.virtual.UpsertContent(ctx, vc)
}

// handleUpdate re-adapts an existing VirtualModule after a scope change,
// skipping contents whose source hasn't changed since last materialization.
func (p *Pool) handleUpdate(ctx context.Context, task *queue.Task) error {
	return p.readapt(ctx, task, true)
}

// readapt materializes the published topics and contents a VirtualModule
// lacks; with refreshStale it also re-adapts existing contents whose
// source fingerprint has changed.
func (p *Pool) readapt(ctx context.Context, task *queue.Task, refreshStale bool) error {
	vm, err := p.virtual.GetModuleByStudentAndModule(ctx, task.StudentID, task.ModuleID)
	if err != nil {
		return err
	}
	inventory, err := p.content.PublishedTopicInventory(ctx, task.ModuleID)
	if err != nil {
		return err
	}
	existingTopics, err := p.virtual.TopicsForModule(ctx, vm.ID)
	if err != nil {
		return err
	}
	byTopicID := make(map[string]virtual.Topic, len(existingTopics))
	for _, t := range existingTopics {
		byTopicID[t.TopicID] = t
	}

	for _, inv := range inventory {
		vt, ok := byTopicID[inv.Topic.ID]
		if !ok {
			if err := p.materializeTopic(ctx, vm.ID, task.StudentID, inv, false); err != nil {
				return err
			}
			continue
		}
		existingContents, err := p.virtual.ContentsForTopic(ctx, vt.ID)
		if err != nil {
			return err
		}
		bySource := make(map[string]virtual.TopicContent, len(existingContents))
		for _, c := range existingContents {
			bySource[c.SourceContentID] = c
		}
		for _, ct := range contentTypeOrder {
			for _, tc := range inv.Contents[ct] {
				if existing, ok := bySource[tc.ID]; ok && (!refreshStale || existing.PersonalizationFingerprint == content.Fingerprint(tc)) {
					continue
				}
				if err := p.materializeContent(ctx, &vt, task.StudentID, tc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// handleEnhance adds new content types to existing topics without
// touching content that already exists.
func (p *Pool) handleEnhance(ctx context.Context, task *queue.Task) error {
	return p.readapt(ctx, task, false)
}

// handleSyncContentChange processes the mutation → task mapping in §4.8
// for a single affected student's VirtualModule.
func (p *Pool) handleSyncContentChange(ctx context.Context, task *queue.Task) error {
	kind, _ := task.Payload["kind"].(string)
	topicID, _ := task.Payload["topic_id"].(string)
	sourceContentID, _ := task.Payload["content_id"].(string)

	vm, err := p.virtual.GetModuleByStudentAndModule(ctx, task.StudentID, task.ModuleID)
	if err != nil {
		return err
	}

	switch kind {
	case "publish":
		inventory, err := p.content.PublishedTopicInventory(ctx, task.ModuleID)
		if err != nil {
			return err
		}
		for _, inv := range inventory {
			if inv.Topic.ID == topicID {
				return p.materializeTopic(ctx, vm.ID, task.StudentID, inv, false)
			}
		}
		return nil

	case "retract":
		vt, err := p.virtual.TopicBySource(ctx, vm.ID, topicID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				return nil
			}
			return err
		}
		return p.virtual.SoftDeleteTopic(ctx, vt.ID)

	case "refresh":
		vt, err := p.virtual.TopicBySource(ctx, vm.ID, topicID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				return nil
			}
			return err
		}
		inventory, err := p.content.PublishedTopicInventory(ctx, task.ModuleID)
		if err != nil {
			return err
		}
		for _, inv := range inventory {
			if inv.Topic.ID != topicID {
				continue
			}
			for _, tcs := range inv.Contents {
				for _, tc := range tcs {
					if tc.ID == sourceContentID {
						return p.materializeContent(ctx, vt, task.StudentID, tc)
					}
				}
			}
		}
		return nil

	case "add":
		vt, err := p.virtual.TopicBySource(ctx, vm.ID, topicID)
		if err != nil {
			return err
		}
		inventory, err := p.content.PublishedTopicInventory(ctx, task.ModuleID)
		if err != nil {
			return err
		}
		for _, inv := range inventory {
			if inv.Topic.ID != topicID {
				continue
			}
			for _, tcs := range inv.Contents {
				for _, tc := range tcs {
					if tc.ID == sourceContentID {
						return p.materializeContent(ctx, vt, task.StudentID, tc)
					}
				}
			}
		}
		return nil

	case "remove":
		vt, err := p.virtual.TopicBySource(ctx, vm.ID, topicID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				return nil
			}
			return err
		}
		contents, err := p.virtual.ContentsForTopic(ctx, vt.ID)
		if err != nil {
			return err
		}
		for _, c := range contents {
			if c.SourceContentID != sourceContentID {
				continue
			}
			if err := p.virtual.SoftDeleteContent(ctx, c.ID); err != nil {
				return err
			}
		}
		return nil

	default:
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("unknown sync kind %q", kind))
	}
}
