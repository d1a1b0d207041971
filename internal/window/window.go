// Package window implements the fixed-capacity ring of recent event
// snapshots exposed to scripts as `window` (spec §4.7). Grounded on the
// teacher's deduplication LRU doubly-linked-list ring (pkg/deduplication),
// simplified to a plain slice ring since window capacity is small and reads
// always walk the whole ring to build the script-visible array.
package window

import "kelora/internal/event"

// Window is a ring buffer of up to N most recent event snapshots, most
// recent first.
type Window struct {
	capacity int
	buf      []event.Snapshot
}

// New returns a Window with the given capacity. Capacity 0 disables the
// window (Push becomes a no-op, Slice always empty).
func New(capacity int) *Window {
	return &Window{capacity: capacity}
}

// Push prepends a snapshot, evicting the oldest entry once at capacity.
// Callers must pass an already-immutable snapshot (e.g. a cloned Event) so
// later mutation of the live event is never visible through the window.
func (w *Window) Push(s event.Snapshot) {
	if w.capacity <= 0 {
		return
	}
	w.buf = append([]event.Snapshot{s}, w.buf...)
	if len(w.buf) > w.capacity {
		w.buf = w.buf[:w.capacity]
	}
}

// Slice returns the current ring contents, index 0 is most recent.
func (w *Window) Slice() []event.Snapshot {
	return w.buf
}

// ToScriptValue renders the window as the []any array scripts see, each
// element a map with the event fields plus nested "meta".
func (w *Window) ToScriptValue() []any {
	out := make([]any, 0, len(w.buf))
	for _, s := range w.buf {
		m := s.Event.ToMap()
		m["meta"] = s.Meta.ToMap()
		out = append(out, m)
	}
	return out
}

// Len returns the number of snapshots currently held.
func (w *Window) Len() int {
	return len(w.buf)
}
