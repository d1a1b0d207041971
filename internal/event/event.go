// Package event defines the value model shared by parsers, the scripting
// engine, trackers, and formatters. Every field in an Event is drawn from a
// closed set of native Go types — nil, bool, int64, float64, string,
// time.Time, time.Duration, []any, map[string]any, and *Event for nested
// objects (as the JSON parser produces them) — plus the Unit sentinel.
// Restricting the set this way gives the pipeline a single tagged value
// domain without a hand-rolled wrapper enum: expr-lang operates on these
// types natively (arithmetic, comparison, method calls all work through
// reflection), and every producer in the pipeline is expected to emit only
// values from this set.
package event

import "time"

// Unit represents the absence value produced by `unit()` in scripts and
// used to mark a field or event for removal. It is distinct from a JSON
// null, which is represented as a plain Go nil.
type Unit struct{}

// UnitValue is the Unit sentinel singleton.
var UnitValue = Unit{}

// IsUnit reports whether v is the Unit sentinel.
func IsUnit(v any) bool {
	_, ok := v.(Unit)
	return ok
}

// Event is an insertion-ordered string-keyed map. Field access through Get
// and mutation through Set/Delete keep order in sync; mutation performed
// directly on the map returned by Data (as expr-lang does when running
// exec scripts) must be reconciled afterward with Reconcile.
type Event struct {
	data  map[string]any
	order []string
}

// New returns an empty Event.
func New() *Event {
	return &Event{data: make(map[string]any)}
}

// FromMap builds an Event from an already-ordered key list and map. Used by
// parsers that know field order a priori (JSON, CSV headers, regex capture
// names in pattern order).
func FromMap(order []string, data map[string]any) *Event {
	e := &Event{data: make(map[string]any, len(data)), order: make([]string, 0, len(order))}
	for _, k := range order {
		v, ok := data[k]
		if !ok {
			continue
		}
		e.data[k] = v
		e.order = append(e.order, k)
	}
	return e
}

// Get returns the value for key and whether it is present.
func (e *Event) Get(key string) (any, bool) {
	v, ok := e.data[key]
	return v, ok
}

// Set assigns key to val, appending key to the order if new.
func (e *Event) Set(key string, val any) {
	if IsUnit(val) {
		e.Delete(key)
		return
	}
	if _, exists := e.data[key]; !exists {
		e.order = append(e.order, key)
	}
	e.data[key] = val
}

// Delete removes key, if present.
func (e *Event) Delete(key string) {
	if _, exists := e.data[key]; !exists {
		return
	}
	delete(e.data, key)
	for i, k := range e.order {
		if k == key {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in insertion order. The returned slice must
// not be mutated by the caller.
func (e *Event) Keys() []string {
	return e.order
}

// Len returns the number of fields.
func (e *Event) Len() int {
	return len(e.order)
}

// Data returns the live backing map, for binding into a script environment.
// Scripts may mutate it directly (native Go map semantics); call Reconcile
// afterward to keep field order consistent.
func (e *Event) Data() map[string]any {
	return e.data
}

// Reconcile recomputes field order after external mutation of Data(): keys
// removed from the map (or whose value is Unit) are dropped from order;
// keys newly present are appended in sorted order. Go map iteration order
// is randomized, so a deterministic tie-break (ascending key) is used for
// any fields added within a single script invocation — this keeps
// sequential and parallel runs byte-identical without requiring the
// original assignment order to be recovered from the map.
func (e *Event) Reconcile() {
	present := make(map[string]bool, len(e.data))
	newKeys := make([]string, 0)
	for k, v := range e.data {
		if IsUnit(v) {
			delete(e.data, k)
			continue
		}
		present[k] = true
	}
	kept := e.order[:0:0]
	seen := make(map[string]bool, len(e.order))
	for _, k := range e.order {
		if present[k] {
			kept = append(kept, k)
			seen[k] = true
		}
	}
	for k := range present {
		if !seen[k] {
			newKeys = append(newKeys, k)
		}
	}
	sortStrings(newKeys)
	e.order = append(kept, newKeys...)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Clone returns a deep copy: nested maps/arrays/Events are copied
// recursively so later mutation is invisible to holders of the clone (used
// by the window manager and exec-stage rollback).
func (e *Event) Clone() *Event {
	c := &Event{
		data:  make(map[string]any, len(e.data)),
		order: append([]string(nil), e.order...),
	}
	for k, v := range e.data {
		c.data[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Event:
		return t.Clone()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		a := make([]any, len(t))
		for i, vv := range t {
			a[i] = cloneValue(vv)
		}
		return a
	default:
		return v
	}
}

// ToMap returns a plain map[string]any snapshot preserving no order
// information (order is re-derived externally via Keys when needed), with
// nested Events flattened to map[string]any as well. Used when handing an
// event to code that only understands generic maps (e.g. JSON encoding via
// a keyed writer that takes Keys() separately).
func (e *Event) ToMap() map[string]any {
	out := make(map[string]any, len(e.data))
	for k, v := range e.data {
		out[k] = flatten(v)
	}
	return out
}

func flatten(v any) any {
	switch t := v.(type) {
	case *Event:
		return t.ToMap()
	case []any:
		a := make([]any, len(t))
		for i, vv := range t {
			a[i] = flatten(vv)
		}
		return a
	default:
		return v
	}
}

// Meta is the fixed-shape, read-only metadata attached to every event.
type Meta struct {
	Line         string
	LineNum      uint64
	Filename     string
	HasFilename  bool
	ParsedTS     time.Time
	HasParsedTS  bool
	SpanStatus   string
	SpanID       string
	HasSpan      bool
	SpanStart    time.Time
	HasSpanStart bool
	SpanEnd      time.Time
	HasSpanEnd   bool
}

// ToMap converts Meta into the map shape scripts observe as `meta`.
func (m Meta) ToMap() map[string]any {
	out := map[string]any{
		"line":     m.Line,
		"line_num": int64(m.LineNum),
	}
	if m.HasFilename {
		out["filename"] = m.Filename
	}
	if m.HasParsedTS {
		out["parsed_ts"] = m.ParsedTS
	}
	if m.HasSpan {
		out["span_status"] = m.SpanStatus
		out["span_id"] = m.SpanID
		if m.HasSpanStart {
			out["span_start"] = m.SpanStart
		}
		if m.HasSpanEnd {
			out["span_end"] = m.SpanEnd
		}
	}
	return out
}

// Snapshot is an immutable (event, meta) pair held by the window manager.
type Snapshot struct {
	Event *Event
	Meta  Meta
}
