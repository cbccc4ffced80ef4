package mordor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvus-oss/mordor/logging"
)

func TestCallYieldAreInverses(t *testing.T) {
	var order []string
	f, err := New(func() error {
		order = append(order, "enter")
		Yield()
		order = append(order, "resumed")
		Yield()
		order = append(order, "resumed again")
		return nil
	}, 0)
	require.NoError(t, err)

	require.NoError(t, f.Call())
	order = append(order, "back in caller 1")
	require.NoError(t, f.Call())
	order = append(order, "back in caller 2")
	require.NoError(t, f.Call())
	order = append(order, "back in caller 3")

	assert.Equal(t, []string{
		"enter", "back in caller 1",
		"resumed", "back in caller 2",
		"resumed again", "back in caller 3",
	}, order)
	assert.Equal(t, Term, f.State())
}

func TestCallOnExecFiberFails(t *testing.T) {
	inner, err := New(func() error { return nil }, 0)
	require.NoError(t, err)

	outer, err := New(func() error {
		return inner.Call()
	}, 0)
	require.NoError(t, err)

	// Force inner's state to Exec from inside another fiber, standing in
	// for inner running elsewhere when outer tries to call it.
	concurrent, err := New(func() error {
		inner.mu.Lock()
		inner.state = Exec
		inner.mu.Unlock()
		return nil
	}, 0)
	require.NoError(t, err)
	require.NoError(t, concurrent.Call())

	err = outer.Call()
	assert.ErrorIs(t, err, ErrNotSchedulable)
}

func TestFiberEntryErrorPropagatesToCaller(t *testing.T) {
	boom := errors.New("boom")
	f, err := New(func() error { return boom }, 0)
	require.NoError(t, err)

	err = f.Call()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Except, f.State())
}

func TestResetReturnsTermFiberToInit(t *testing.T) {
	f, err := New(func() error { return nil }, 0)
	require.NoError(t, err)
	require.NoError(t, f.Call())
	assert.Equal(t, Term, f.State())

	require.NoError(t, f.Reset(func() error { return nil }))
	assert.Equal(t, Init, f.State())
	require.NoError(t, f.Call())
	assert.Equal(t, Term, f.State())
}

func TestThisFiberMaterializesRootFiber(t *testing.T) {
	done := make(chan *Fiber, 1)
	go func() {
		done <- ThisFiber()
	}()
	root := <-done
	require.NotNil(t, root)
	assert.Equal(t, Exec, root.State())
}

func TestYieldOnRootFiberIsNoop(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		Yield()
	}()
	<-done
}

func TestLogDisablerIsScopedToFiberNotGoroutine(t *testing.T) {
	l := logging.Get("mordor:fiber:test")
	type capture struct{ n int }
	sink := &captureSink{}
	l.SetLevel(logging.LevelDebug)
	l.SetSinks(sink)

	f, err := New(func() error {
		d := logging.NewLogDisabler()
		l.Debug("suppressed inside fiber")
		d.Release()
		return nil
	}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Call())

	l.Debug("delivered after fiber exits, from the test goroutine")
	assert.Equal(t, 1, sink.count())
}

type captureSink struct{ recs []logging.Record }

func (c *captureSink) Emit(r logging.Record) { c.recs = append(c.recs, r) }
func (c *captureSink) count() int            { return len(c.recs) }
