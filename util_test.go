package mordor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeGoRecoversPanicWithoutCrashingProcess(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	SafeGo(func() {
		defer wg.Done()
		ran = true
		panic("boom")
	})
	wg.Wait()
	assert.True(t, ran)
}

func TestSafeGoRunsNormally(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	got := 0
	SafeGo(func() {
		defer wg.Done()
		got = 42
	})
	wg.Wait()
	assert.Equal(t, 42, got)
}
