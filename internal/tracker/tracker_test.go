package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRegistry(values []float64) *Registry {
	r := NewRegistry()
	for _, v := range values {
		r.Count("n")
		r.Sum("total", v)
		r.Min("lo", v)
		r.Max("hi", v)
		r.Avg("avg", v)
		r.Percentiles("pct", v, nil)
	}
	return r
}

func TestMergeAssociativeAndCommutative(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	whole := buildRegistry(values)

	left := buildRegistry(values[:4])
	right := buildRegistry(values[4:])

	mergedLR := left.Merge(right).Snapshot()
	mergedRL := right.Merge(left).Snapshot()
	wholeSnap := whole.Snapshot()

	assert.Equal(t, mergedLR["n"], wholeSnap["n"])
	assert.Equal(t, mergedLR["total"], wholeSnap["total"])
	assert.Equal(t, mergedLR["lo"], wholeSnap["lo"])
	assert.Equal(t, mergedLR["hi"], wholeSnap["hi"])
	assert.InDelta(t, mergedLR["avg"].(float64), wholeSnap["avg"].(float64), 1e-9)
	assert.Equal(t, mergedLR["n"], mergedRL["n"])
	assert.Equal(t, mergedLR["total"], mergedRL["total"])
	assert.InDelta(t, mergedLR["pct_p50"].(float64), wholeSnap["pct_p50"].(float64), 1e-6)
}

func TestThreeWayPartitionAssociativity(t *testing.T) {
	values := []float64{5, 1, 9, 3, 7, 2, 8, 4, 6}
	a := buildRegistry(values[0:3])
	b := buildRegistry(values[3:6])
	c := buildRegistry(values[6:9])
	whole := buildRegistry(values)

	abc := a.Merge(b).Merge(c).Snapshot()
	cba := c.Merge(b).Merge(a).Snapshot()
	wholeSnap := whole.Snapshot()

	assert.Equal(t, wholeSnap["total"], abc["total"])
	assert.Equal(t, wholeSnap["total"], cba["total"])
}

func TestTopNMergeTruncatesAndTieBreaks(t *testing.T) {
	r1 := NewRegistry()
	r1.Top("users", "alice", 2, 3)
	r1.Top("users", "bob", 2, 3)

	r2 := NewRegistry()
	r2.Top("users", "carol", 2, 5)

	merged := r1.Merge(r2).Snapshot()
	arr := merged["users"].([]any)
	require.Len(t, arr, 2)
	first := arr[0].(map[string]any)
	assert.Equal(t, "carol", first["key"])
	assert.Equal(t, 5.0, first["weight"])
	second := arr[1].(map[string]any)
	// alice and bob tie at weight 3; key-ascending tie-break picks alice.
	assert.Equal(t, "alice", second["key"])
}

func TestUniqueAndBucketMerge(t *testing.T) {
	r1 := NewRegistry()
	r1.Unique("hosts", "a")
	r1.Unique("hosts", "b")
	r1.Bucket("status", "2xx")

	r2 := NewRegistry()
	r2.Unique("hosts", "b")
	r2.Unique("hosts", "c")
	r2.Bucket("status", "2xx")
	r2.Bucket("status", "5xx")

	merged := r1.Merge(r2).Snapshot()
	assert.Equal(t, int64(3), merged["hosts"])
	buckets := merged["status"].(map[string]any)
	assert.Equal(t, int64(2), buckets["2xx"])
	assert.Equal(t, int64(1), buckets["5xx"])
}

func TestStatsTrackerExpandsKeys(t *testing.T) {
	r := NewRegistry()
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Stats("lat", v, nil)
	}
	snap := r.Snapshot()
	assert.Equal(t, int64(5), snap["lat_count"])
	assert.Equal(t, 15.0, snap["lat_sum"])
	assert.Equal(t, 1.0, snap["lat_min"])
	assert.Equal(t, 5.0, snap["lat_max"])
	assert.Equal(t, 3.0, snap["lat_avg"])
	assert.Contains(t, snap, "lat_p50")
}
