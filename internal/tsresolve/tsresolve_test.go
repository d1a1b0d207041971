package tsresolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(m map[string]any) (func(string) (any, bool), []string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return func(k string) (any, bool) { v, ok := m[k]; return v, ok }, keys
}

func TestResolveCandidateFieldOrder(t *testing.T) {
	r := New("", "", nil)
	get, keys := lookup(map[string]any{"timestamp": "2024-01-15T10:00:00Z", "created_at": "2019-01-01T00:00:00Z", "other": "x"})
	ts, ok := r.Resolve(keys, get)
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
}

func TestResolveExplicitFieldOverride(t *testing.T) {
	r := New("when", "", nil)
	get, keys := lookup(map[string]any{"timestamp": "2024-01-15T10:00:00Z", "when": "2020-05-01T00:00:00Z"})
	ts, ok := r.Resolve(keys, get)
	require.True(t, ok)
	assert.Equal(t, 2020, ts.Year())
}

func TestEpochSecondsHeuristic(t *testing.T) {
	r := New("", "", nil)
	get, keys := lookup(map[string]any{"ts": int64(1700000000)})
	ts, ok := r.Resolve(keys, get)
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ts)
}

func TestEpochMillisHeuristic(t *testing.T) {
	r := New("", "", nil)
	get, keys := lookup(map[string]any{"ts": int64(1700000000123)})
	ts, ok := r.Resolve(keys, get)
	require.True(t, ok)
	assert.Equal(t, 123000000, ts.Nanosecond())
}

func TestNoCandidateFound(t *testing.T) {
	r := New("", "", nil)
	get, keys := lookup(map[string]any{"unrelated": "x"})
	_, ok := r.Resolve(keys, get)
	assert.False(t, ok)
}

func TestExplicitFormatOverride(t *testing.T) {
	r := New("when", "01/02/2006", nil)
	get, keys := lookup(map[string]any{"when": "03/15/2024"})
	ts, ok := r.Resolve(keys, get)
	require.True(t, ok)
	assert.Equal(t, time.March, ts.Month())
	assert.Equal(t, 15, ts.Day())
}
