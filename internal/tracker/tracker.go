// Package tracker implements the mergeable metric containers described in
// spec §3/§4.11: counters, extremes, averages, unique sets, bucket
// histograms, bounded top/bottom-N heaps, and percentile digests. Every
// variant is associative and commutative under Merge so that per-worker
// registries (internal/pipeline's parallel mode) can be reduced at
// end-of-run in any order with the same result. Counters, sums, extremes,
// averages, unique sets and buckets then equal the sequential result;
// top/bottom-N lists keep only n entries after every add and every merge,
// so an item whose weight is split across workers can rank differently
// than in a sequential run.
//
// Percentile tracking is grounded on github.com/DataDog/sketches-go's
// DDSketch, a real transitive dependency of the example corpus pulled in
// through the DataDog APM/tracing stack (kubernetes-dns go.mod); its
// native MergeWith implements the centroid-merge spec §4.11 asks for, so
// no percentile algorithm is hand-rolled here.
package tracker

import (
	"sort"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Tracker is the common interface every variant satisfies.
type Tracker interface {
	// Merge combines other (same concrete type) into a new Tracker.
	Merge(other Tracker) Tracker
	// ResolveInto writes this tracker's final value(s) under key (and,
	// for multi-valued variants, derived keys like key+"_p95") into out.
	ResolveInto(key string, out map[string]any)
}

// sketchRelativeAccuracy matches DataDog's own default for client-side
// latency sketches; adequate for the p50/p95/p99 use the spec exercises.
const sketchRelativeAccuracy = 0.01

// ---- Count ----

type countTracker struct{ n uint64 }

func (t *countTracker) Merge(other Tracker) Tracker {
	o := other.(*countTracker)
	return &countTracker{n: t.n + o.n}
}
func (t *countTracker) ResolveInto(key string, out map[string]any) {
	out[key] = int64(t.n)
}

// ---- Sum ----

type sumTracker struct{ sum float64 }

func (t *sumTracker) Merge(other Tracker) Tracker {
	o := other.(*sumTracker)
	return &sumTracker{sum: t.sum + o.sum}
}
func (t *sumTracker) ResolveInto(key string, out map[string]any) {
	out[key] = t.sum
}

// ---- Min / Max ----

type extremeTracker struct {
	v     float64
	has   bool
	isMax bool
}

func (t *extremeTracker) Merge(other Tracker) Tracker {
	o := other.(*extremeTracker)
	r := &extremeTracker{isMax: t.isMax}
	switch {
	case !t.has:
		r.v, r.has = o.v, o.has
	case !o.has:
		r.v, r.has = t.v, t.has
	case t.isMax:
		r.v, r.has = maxF(t.v, o.v), true
	default:
		r.v, r.has = minF(t.v, o.v), true
	}
	return r
}
func (t *extremeTracker) ResolveInto(key string, out map[string]any) {
	if t.has {
		out[key] = t.v
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ---- Avg ----

type avgTracker struct {
	sum   float64
	count uint64
}

func (t *avgTracker) Merge(other Tracker) Tracker {
	o := other.(*avgTracker)
	return &avgTracker{sum: t.sum + o.sum, count: t.count + o.count}
}
func (t *avgTracker) ResolveInto(key string, out map[string]any) {
	if t.count == 0 {
		return
	}
	out[key] = t.sum / float64(t.count)
}

// ---- Unique ----

type uniqueTracker struct{ set map[string]struct{} }

func newUniqueTracker() *uniqueTracker { return &uniqueTracker{set: make(map[string]struct{})} }

func (t *uniqueTracker) Merge(other Tracker) Tracker {
	o := other.(*uniqueTracker)
	merged := newUniqueTracker()
	for k := range t.set {
		merged.set[k] = struct{}{}
	}
	for k := range o.set {
		merged.set[k] = struct{}{}
	}
	return merged
}
func (t *uniqueTracker) ResolveInto(key string, out map[string]any) {
	out[key] = int64(len(t.set))
}

// ---- Bucket ----

type bucketTracker struct{ counts map[string]uint64 }

func newBucketTracker() *bucketTracker { return &bucketTracker{counts: make(map[string]uint64)} }

func (t *bucketTracker) Merge(other Tracker) Tracker {
	o := other.(*bucketTracker)
	merged := newBucketTracker()
	for k, v := range t.counts {
		merged.counts[k] += v
	}
	for k, v := range o.counts {
		merged.counts[k] += v
	}
	return merged
}
func (t *bucketTracker) ResolveInto(key string, out map[string]any) {
	m := make(map[string]any, len(t.counts))
	for k, v := range t.counts {
		m[k] = int64(v)
	}
	out[key] = m
}

// ---- Top-N / Bottom-N ----

type heapEntry struct {
	item   string
	weight float64
}

type topBottomTracker struct {
	n     int
	items []heapEntry
	top   bool // true: highest weight wins ties broken key-asc; false: bottom
}

func newTopBottomTracker(n int, top bool) *topBottomTracker {
	return &topBottomTracker{n: n, top: top}
}

func (t *topBottomTracker) add(item string, weight float64) {
	for i := range t.items {
		if t.items[i].item == item {
			t.items[i].weight += weight
			t.resort()
			t.truncate()
			return
		}
	}
	t.items = append(t.items, heapEntry{item: item, weight: weight})
	t.resort()
	t.truncate()
}

func (t *topBottomTracker) resort() {
	sort.SliceStable(t.items, func(i, j int) bool {
		a, b := t.items[i], t.items[j]
		if a.weight != b.weight {
			if t.top {
				return a.weight > b.weight
			}
			return a.weight < b.weight
		}
		return a.item < b.item
	})
}

func (t *topBottomTracker) truncate() {
	if t.n > 0 && len(t.items) > t.n {
		t.items = t.items[:t.n]
	}
}

func (t *topBottomTracker) Merge(other Tracker) Tracker {
	o := other.(*topBottomTracker)
	merged := newTopBottomTracker(t.n, t.top)
	byItem := make(map[string]float64)
	order := make([]string, 0, len(t.items)+len(o.items))
	for _, e := range t.items {
		if _, ok := byItem[e.item]; !ok {
			order = append(order, e.item)
		}
		byItem[e.item] += e.weight
	}
	for _, e := range o.items {
		if _, ok := byItem[e.item]; !ok {
			order = append(order, e.item)
		}
		byItem[e.item] += e.weight
	}
	for _, item := range order {
		merged.items = append(merged.items, heapEntry{item: item, weight: byItem[item]})
	}
	merged.resort()
	merged.truncate()
	return merged
}

func (t *topBottomTracker) ResolveInto(key string, out map[string]any) {
	arr := make([]any, 0, len(t.items))
	for _, e := range t.items {
		arr = append(arr, map[string]any{"key": e.item, "weight": e.weight})
	}
	out[key] = arr
}

// ---- Percentile sketch ----

type sketchTracker struct {
	sketch *ddsketch.DDSketch
	pcts   []float64
}

func newSketchTracker(pcts []float64) *sketchTracker {
	s, _ := ddsketch.NewDefaultDDSketch(sketchRelativeAccuracy)
	return &sketchTracker{sketch: s, pcts: pcts}
}

func (t *sketchTracker) add(v float64) {
	_ = t.sketch.Add(v)
}

func (t *sketchTracker) Merge(other Tracker) Tracker {
	o := other.(*sketchTracker)
	merged := &sketchTracker{sketch: t.sketch.Copy(), pcts: t.pcts}
	_ = merged.sketch.MergeWith(o.sketch)
	return merged
}

func (t *sketchTracker) ResolveInto(key string, out map[string]any) {
	for _, p := range t.pcts {
		v, err := t.sketch.GetValueAtQuantile(p)
		if err != nil {
			continue
		}
		out[percentileKey(key, p)] = v
	}
}

func percentileKey(key string, p float64) string {
	n := int(p * 100)
	return key + "_p" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// ---- Stats (composite) ----

type statsTracker struct {
	sum    sumTracker
	min    extremeTracker
	max    extremeTracker
	avg    avgTracker
	sketch *sketchTracker
}

func newStatsTracker(pcts []float64) *statsTracker {
	return &statsTracker{
		min:    extremeTracker{isMax: false},
		max:    extremeTracker{isMax: true},
		sketch: newSketchTracker(pcts),
	}
}

func (t *statsTracker) add(v float64) {
	t.sum.sum += v
	t.avg.sum += v
	t.avg.count++
	if merged := t.min.Merge(&extremeTracker{v: v, has: true, isMax: false}); true {
		t.min = *merged.(*extremeTracker)
	}
	if merged := t.max.Merge(&extremeTracker{v: v, has: true, isMax: true}); true {
		t.max = *merged.(*extremeTracker)
	}
	t.sketch.add(v)
}

func (t *statsTracker) Merge(other Tracker) Tracker {
	o := other.(*statsTracker)
	merged := &statsTracker{}
	merged.sum = *t.sum.Merge(&o.sum).(*sumTracker)
	merged.min = *t.min.Merge(&o.min).(*extremeTracker)
	merged.max = *t.max.Merge(&o.max).(*extremeTracker)
	merged.avg = *t.avg.Merge(&o.avg).(*avgTracker)
	merged.sketch = t.sketch.Merge(o.sketch).(*sketchTracker)
	return merged
}

func (t *statsTracker) ResolveInto(key string, out map[string]any) {
	out[key+"_count"] = int64(t.avg.count)
	t.sum.ResolveInto(key+"_sum", out)
	t.min.ResolveInto(key+"_min", out)
	t.max.ResolveInto(key+"_max", out)
	t.avg.ResolveInto(key+"_avg", out)
	t.sketch.ResolveInto(key, out)
}
