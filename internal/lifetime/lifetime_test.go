package lifetime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifetime_StopRunsCleanupsInLIFOOrder(t *testing.T) {
	l := New()
	var order []int
	l.OnStop(func() { order = append(order, 1) })
	l.OnStop(func() { order = append(order, 2) })
	l.OnStop(func() { order = append(order, 3) })

	l.Stop()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestLifetime_StopIsIdempotent(t *testing.T) {
	l := New()
	calls := 0
	l.OnStop(func() { calls++ })

	l.Stop()
	l.Stop()

	assert.Equal(t, 1, calls)
	assert.True(t, l.Stopped())
}

func TestRegistry_StopAllStopsEveryTrackedLifetime(t *testing.T) {
	r := NewRegistry()
	a, b := New(), New()
	r.Track(a)
	r.Track(b)

	r.StopAll()

	assert.True(t, a.Stopped())
	assert.True(t, b.Stopped())
}

func TestRegistry_UntrackRemovesFromStopAll(t *testing.T) {
	r := NewRegistry()
	a := New()
	untrack := r.Track(a)
	untrack()

	r.StopAll()

	assert.False(t, a.Stopped())
}
