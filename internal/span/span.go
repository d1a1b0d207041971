// Package span implements the count/time/field/idle span windows of spec
// §4.8: a bounded bucket of consecutive events plus a delta of tracker
// values since the span opened. Grounded on the teacher's batch_processor
// CollectBatch idea of bounding a group by either a count or a deadline,
// generalized here to four distinct boundary policies and to per-tracker
// delta snapshotting (DESIGN NOTES §9) rather than whole-registry copies.
package span

import (
	"fmt"
	"time"

	"kelora/internal/event"
	"kelora/internal/tracker"
)

// Status is the span_status meta field computed for every event before
// filters run.
type Status string

const (
	StatusIncluded   Status = "included"
	StatusLate       Status = "late"
	StatusUnassigned Status = "unassigned"
)

// PolicyKind selects the span boundary rule.
type PolicyKind string

const (
	PolicyCount PolicyKind = "count"
	PolicyTime  PolicyKind = "time"
	PolicyField PolicyKind = "field"
	PolicyIdle  PolicyKind = "idle"
)

// Policy configures the active span boundary rule.
type Policy struct {
	Kind      PolicyKind
	Count     int
	Duration  time.Duration
	FieldName string
}

// Span is the read-only view handed to the span-close script as `span`.
type Span struct {
	ID           string
	Start        time.Time
	HasStart     bool
	End          time.Time
	HasEnd       bool
	Events       []*event.Event
	MetricDeltas map[string]any
}

// Size returns the number of events the span buffered.
func (s Span) Size() int { return len(s.Events) }

// ToScriptValue renders the span as the map scripts see under `span`.
func (s Span) ToScriptValue() map[string]any {
	events := make([]any, 0, len(s.Events))
	for _, e := range s.Events {
		events = append(events, e.ToMap())
	}
	out := map[string]any{
		"id":      s.ID,
		"size":    int64(len(s.Events)),
		"events":  events,
		"metrics": s.MetricDeltas,
	}
	if s.HasStart {
		out["start"] = s.Start
	}
	if s.HasEnd {
		out["end"] = s.End
	}
	return out
}

// Manager assigns events to spans and reports closed spans for the driver
// to run the span-close script against.
type Manager struct {
	policy   Policy
	registry *tracker.Registry

	index        int
	open         bool
	id           string
	start        time.Time
	hasStart     bool
	events       []*event.Event
	baseline     map[string]any
	fieldValue   string
	haveField    bool
	lastEventTS  time.Time
	haveLastTS   bool
	closedBucket time.Time // time-policy: start of the most recently closed bucket
	haveClosed   bool
}

// NewManager constructs a span Manager bound to registry, whose Snapshot
// is used to compute open/close baselines.
func NewManager(policy Policy, registry *tracker.Registry) *Manager {
	return &Manager{policy: policy, registry: registry}
}

// Assign computes ev's span status and, when the assignment crosses a span
// boundary, returns the just-closed Span plus true. A caller must run the
// span-close script against the returned Span before discarding it, then
// re-open a fresh baseline via the next Assign call (handled internally).
func (m *Manager) Assign(ev *event.Event, ts time.Time, hasTS bool) (Status, *Span) {
	switch m.policy.Kind {
	case PolicyCount:
		return m.assignCount(ev)
	case PolicyField:
		return m.assignField(ev)
	case PolicyTime:
		return m.assignTime(ev, ts, hasTS)
	case PolicyIdle:
		return m.assignIdle(ev, ts, hasTS)
	default:
		return StatusIncluded, nil
	}
}

func (m *Manager) openSpan(id string, start time.Time, hasStart bool) {
	m.open = true
	m.id = id
	m.start = start
	m.hasStart = hasStart
	m.events = nil
	if m.registry != nil {
		m.baseline = m.registry.Snapshot()
	}
}

func (m *Manager) closeSpan(end time.Time, hasEnd bool) *Span {
	var deltas map[string]any
	if m.registry != nil {
		deltas = diffSnapshot(m.baseline, m.registry.Snapshot())
	}
	s := &Span{
		ID:           m.id,
		Start:        m.start,
		HasStart:     m.hasStart,
		End:          end,
		HasEnd:       hasEnd,
		Events:       m.events,
		MetricDeltas: deltas,
	}
	m.open = false
	return s
}

func (m *Manager) assignCount(ev *event.Event) (Status, *Span) {
	var closed *Span
	if !m.open {
		m.openSpan(fmt.Sprintf("#%d", m.index), time.Time{}, false)
	}
	m.events = append(m.events, ev)
	if len(m.events) >= m.policy.Count {
		closed = m.closeSpan(time.Time{}, false)
		m.index++
	}
	return StatusIncluded, closed
}

func (m *Manager) assignField(ev *event.Event) (Status, *Span) {
	v, ok := ev.Get(m.policy.FieldName)
	if !ok {
		return StatusUnassigned, nil
	}
	sv := fmt.Sprintf("%v", v)

	var closed *Span
	if !m.open {
		m.openSpan(fmt.Sprintf("#%d", m.index), time.Time{}, false)
		m.fieldValue = sv
		m.haveField = true
	} else if sv != m.fieldValue {
		closed = m.closeSpan(time.Time{}, false)
		m.index++
		m.openSpan(fmt.Sprintf("#%d", m.index), time.Time{}, false)
		m.fieldValue = sv
		m.haveField = true
	}
	m.events = append(m.events, ev)
	return StatusIncluded, closed
}

func (m *Manager) assignTime(ev *event.Event, ts time.Time, hasTS bool) (Status, *Span) {
	if !hasTS {
		return StatusUnassigned, nil
	}
	if !m.open {
		bucketStart := bucketFloor(ts, m.policy.Duration)
		m.openSpan(timeSpanID(bucketStart, m.policy.Duration), bucketStart, true)
	}
	bucketEnd := m.start.Add(m.policy.Duration)
	if ts.Before(m.start) {
		return StatusLate, nil
	}
	var closed *Span
	if !ts.Before(bucketEnd) {
		closed = m.closeSpan(bucketEnd, true)
		m.closedBucket = m.start
		m.haveClosed = true
		m.index++
		next := bucketFloor(ts, m.policy.Duration)
		m.openSpan(timeSpanID(next, m.policy.Duration), next, true)
	}
	m.events = append(m.events, ev)
	return StatusIncluded, closed
}

func (m *Manager) assignIdle(ev *event.Event, ts time.Time, hasTS bool) (Status, *Span) {
	if !hasTS {
		return StatusUnassigned, nil
	}
	var closed *Span
	if !m.open {
		m.openSpan(fmt.Sprintf("#%d", m.index), ts, true)
	} else if m.haveLastTS && ts.Sub(m.lastEventTS) >= m.policy.Duration {
		closed = m.closeSpan(m.lastEventTS, true)
		m.index++
		m.openSpan(fmt.Sprintf("#%d", m.index), ts, true)
	}
	m.events = append(m.events, ev)
	m.lastEventTS = ts
	m.haveLastTS = true
	return StatusIncluded, closed
}

// Flush closes any still-open span at end-of-input.
func (m *Manager) Flush() *Span {
	if !m.open || len(m.events) == 0 {
		return nil
	}
	return m.closeSpan(time.Time{}, false)
}

func bucketFloor(ts time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return ts
	}
	return ts.Truncate(d)
}

func timeSpanID(start time.Time, d time.Duration) string {
	return start.UTC().Format(time.RFC3339) + "/" + d.String()
}

// diffSnapshot computes newer-older per spec §4.11/§9: numeric keys
// subtract; bucket maps subtract elementwise; any other shape (top-N
// arrays, first-seen keys) is carried through as the newer value since a
// meaningful arithmetic delta does not exist for them. Zero deltas are
// omitted, per spec's "omitting zero deltas" instruction.
func diffSnapshot(older, newer map[string]any) map[string]any {
	out := make(map[string]any)
	for k, nv := range newer {
		ov, existed := older[k]
		if !existed {
			out[k] = nv
			continue
		}
		switch n := nv.(type) {
		case int64:
			if o, ok := ov.(int64); ok {
				if d := n - o; d != 0 {
					out[k] = d
				}
				continue
			}
		case float64:
			if o, ok := ov.(float64); ok {
				if d := n - o; d != 0 {
					out[k] = d
				}
				continue
			}
		case map[string]any:
			if o, ok := ov.(map[string]any); ok {
				diff := make(map[string]any)
				for bk, bv := range n {
					nb, _ := bv.(int64)
					obVal, _ := o[bk].(int64)
					if d := nb - obVal; d != 0 {
						diff[bk] = d
					}
				}
				if len(diff) > 0 {
					out[k] = diff
				}
				continue
			}
		}
		out[k] = nv
	}
	return out
}
