package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AlfredDev/virtualize/store"
)

// Sweeper runs the periodic sweep entry point from §4.7's three triggers:
// catches up any (student, plan) whose window transition was missed by
// the event-driven bootstrap/trigger-next calls.
type Sweeper struct {
	scheduler *Scheduler
	plans     *mongo.Collection
	cron      *cron.Cron
}

func NewSweeper(scheduler *Scheduler, s *store.Store) *Sweeper {
	return &Sweeper{
		scheduler: scheduler,
		plans:     s.Collection(store.CollStudyPlans),
		cron:      cron.New(),
	}
}

// Start schedules the sweep at the given cron spec (default hourly per
// §4.7's example) and begins running it in the background.
func (sw *Sweeper) Start(spec string) error {
	if spec == "" {
		spec = "@hourly"
	}
	_, err := sw.cron.AddFunc(spec, sw.sweep)
	if err != nil {
		return err
	}
	sw.cron.Start()
	return nil
}

func (sw *Sweeper) Stop() {
	<-sw.cron.Stop().Done()
}

// sweep re-evaluates schedule() for every (student, plan) pair with at
// least one VirtualModule, catching transitions a crashed or skipped
// trigger-next call missed.
func (sw *Sweeper) sweep() {
	ctx := context.Background()
	cur, err := sw.plans.Find(ctx, bson.M{})
	if err != nil {
		return
	}
	defer cur.Close(ctx)

	type planRow struct {
		ID string `bson:"_id"`
	}
	for cur.Next(ctx) {
		var p planRow
		if err := cur.Decode(&p); err != nil {
			continue
		}
		students, err := sw.studentsWithProgress(ctx, p.ID)
		if err != nil {
			continue
		}
		for _, studentID := range students {
			_ = sw.scheduler.Schedule(ctx, studentID, p.ID)
		}
	}
}

// studentsWithProgress finds every distinct student with at least one
// VirtualModule over this plan's modules.
func (sw *Sweeper) studentsWithProgress(ctx context.Context, planID string) ([]string, error) {
	modules, err := sw.scheduler.content.ModulesForPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	moduleIDs := make([]string, len(modules))
	for i, m := range modules {
		moduleIDs[i] = m.ID
	}
	return sw.scheduler.virtual.DistinctStudents(ctx, moduleIDs)
}
