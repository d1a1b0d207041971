package window

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kelora/internal/event"
)

func snap(v int) event.Snapshot {
	e := event.New()
	e.Set("v", v)
	return event.Snapshot{Event: e, Meta: event.Meta{LineNum: uint64(v)}}
}

func TestWindowCapacityAndOrder(t *testing.T) {
	w := New(2)
	w.Push(snap(1))
	w.Push(snap(2))
	w.Push(snap(3))

	got := w.Slice()
	assert.Len(t, got, 2)
	v0, _ := got[0].Event.Get("v")
	v1, _ := got[1].Event.Get("v")
	assert.Equal(t, 3, v0)
	assert.Equal(t, 2, v1)
}

func TestWindowImmuneToLaterMutation(t *testing.T) {
	w := New(3)
	e := event.New()
	e.Set("v", 1)
	w.Push(event.Snapshot{Event: e.Clone(), Meta: event.Meta{}})
	e.Set("v", 999)

	got := w.Slice()
	v, _ := got[0].Event.Get("v")
	assert.Equal(t, 1, v)
}

func TestZeroCapacityDisabled(t *testing.T) {
	w := New(0)
	w.Push(snap(1))
	assert.Equal(t, 0, w.Len())
}
