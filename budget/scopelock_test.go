package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockScopesDedupesRepeatedKeys(t *testing.T) {
	sl := newScopeLock()

	unlock := sl.lockScopes("user:1", "user:1", "global")
	assert.Len(t, sl.locks, 2)
	unlock()
}

func TestLockScopesDoesNotBlockAcrossDisjointKeys(t *testing.T) {
	sl := newScopeLock()

	unlockA := sl.lockScopes("global")
	done := make(chan struct{})
	go func() {
		unlockB := sl.lockScopes("provider:openai", "user:1")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}

func TestLockScopesOrdersAcquisitionToAvoidDeadlock(t *testing.T) {
	sl := newScopeLock()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			unlock := sl.lockScopes("global", "provider:openai", "user:1")
			unlock()
		}
		close(done)
	}()
	for i := 0; i < 50; i++ {
		unlock := sl.lockScopes("user:1", "provider:openai", "global")
		unlock()
	}
	<-done
}
