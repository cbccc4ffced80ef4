package logging

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu   sync.Mutex
	recs []Record
}

func (c *captureSink) Emit(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, r)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func TestHierarchyInheritsSinksAndLevels(t *testing.T) {
	root := Root()
	stdout := &captureSink{}
	file := &captureSink{}

	prevLevel := root.Level()
	prevSinks := root.snapshotSinkChain()
	defer func() {
		root.SetLevel(prevLevel)
		root.SetSinks(prevSinks...)
	}()

	root.SetLevel(LevelInfo)
	root.SetSinks(stdout)

	ab := Get("a:b")
	ab.SetLevel(LevelDebug)
	ab.SetSinks(file)
	ab.SetInheritSinks(true)

	abc := Get("a:b:c")
	abc.Debug("debug at a:b:c")

	require.Equal(t, 1, file.count())
	require.Equal(t, 1, stdout.count())

	a := Get("a")
	a.Info("info at a")
	require.Equal(t, 1, file.count(), "file sink lives under a:b, an INFO at a must not reach it")
	require.Equal(t, 2, stdout.count())
}

func TestLogDisablerSuppressesCurrentGoroutine(t *testing.T) {
	l := Get("disabler:test")
	sink := &captureSink{}
	l.SetLevel(LevelDebug)
	l.SetSinks(sink)

	d := NewLogDisabler()
	l.Debug("should be suppressed")
	require.Equal(t, 0, sink.count())
	d.Release()

	l.Debug("should be delivered")
	require.Equal(t, 1, sink.count())
}

func TestLogDisablerIsPerGoroutine(t *testing.T) {
	l := Get("disabler:pergoroutine")
	sink := &captureSink{}
	l.SetLevel(LevelDebug)
	l.SetSinks(sink)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d := NewLogDisabler()
		defer d.Release()
		l.Debug("suppressed on other goroutine")
	}()
	wg.Wait()

	l.Debug("delivered on this goroutine")
	require.Equal(t, 1, sink.count())
}

func TestEnabledMatchesLevelOrdering(t *testing.T) {
	l := Get("levels:test")
	l.SetLevel(LevelWarning)
	require.True(t, l.Enabled(LevelFatal))
	require.True(t, l.Enabled(LevelError))
	require.True(t, l.Enabled(LevelWarning))
	require.False(t, l.Enabled(LevelInfo))
	require.False(t, l.Enabled(LevelDebug))
}
