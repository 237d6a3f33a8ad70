package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AlfredDev/virtualize/content"
	"github.com/AlfredDev/virtualize/virtual"
)

func modulesInOrder(n int) []content.Module {
	modules := make([]content.Module, n)
	for i := range modules {
		modules[i] = content.Module{ID: modulesID(i), Order: i + 1}
	}
	return modules
}

func modulesID(i int) string {
	return []string{"m1", "m2", "m3", "m4"}[i]
}

func TestNextModuleToMaterializeStopsAtAlreadyMaterializingModule(t *testing.T) {
	modules := modulesInOrder(3)
	vmByModule := map[string]virtual.Module{
		"m2": {ModuleID: "m2", GenerationStatus: virtual.GenGenerating, Progress: 0},
	}

	next := nextModuleToMaterialize(modules, 1, vmByModule, func(string) bool { return true })

	assert.Nil(t, next, "m2 is already materializing; the window must not reach past it to m3 (invariant 3)")
}

func TestNextModuleToMaterializeStopsAtNotReadyModule(t *testing.T) {
	modules := modulesInOrder(3)

	next := nextModuleToMaterialize(modules, 1, map[string]virtual.Module{}, func(moduleID string) bool {
		return moduleID != "m2"
	})

	assert.Nil(t, next, "m2 isn't ready; the window must not skip ahead to m3")
}

func TestNextModuleToMaterializeReturnsFirstReadyCandidate(t *testing.T) {
	modules := modulesInOrder(3)

	next := nextModuleToMaterialize(modules, 1, map[string]virtual.Module{}, func(string) bool { return true })

	assert.NotNil(t, next)
	assert.Equal(t, "m2", next.ID)
}

func TestNextModuleToMaterializeReturnsNilPastLastModule(t *testing.T) {
	modules := modulesInOrder(2)

	next := nextModuleToMaterialize(modules, 2, map[string]virtual.Module{}, func(string) bool { return true })

	assert.Nil(t, next)
}
