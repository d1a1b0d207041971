package script

import (
	"go/token"

	"kelora/internal/event"
	"kelora/internal/span"
	"kelora/internal/tracker"
	"kelora/internal/window"
)

// BindEvent refreshes env's per-event slots before an exec/filter stage
// runs: "e" is the live mutable event map, "line"/"meta" are read-only, and
// every top-level field whose name is a valid Go identifier is additionally
// injected as a bare variable per spec §4.6 ("e[\"name\"] always works").
// Re-run before every event rather than rebuilt, matching spec §4.6's "scope
// template ... per-event dispatch updates slot values in place".
func BindEvent(env map[string]any, ev *event.Event, meta event.Meta, line string) {
	data := ev.Data()
	env["e"] = data
	env["line"] = line
	env["meta"] = meta.ToMap()
	for k, v := range data {
		if token.IsIdentifier(k) {
			env[k] = v
		}
	}
}

// BindWindow exposes the sliding window as a read-only script value.
func BindWindow(env map[string]any, win *window.Window) {
	if win == nil {
		return
	}
	env["window"] = win.ToScriptValue()
}

// BindMetrics exposes the (possibly merged) tracker registry snapshot to
// end/span-close stages.
func BindMetrics(env map[string]any, reg *tracker.Registry) {
	if reg == nil {
		env["metrics"] = map[string]any{}
		return
	}
	env["metrics"] = reg.Snapshot()
}

// BindSpan exposes the just-closed span to a span-close stage.
func BindSpan(env map[string]any, sp *span.Span) {
	if sp == nil {
		return
	}
	env["span"] = sp.ToScriptValue()
}
