package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventOrderPreserved(t *testing.T) {
	e := New()
	e.Set("b", 1)
	e.Set("a", 2)
	e.Set("c", 3)
	assert.Equal(t, []string{"b", "a", "c"}, e.Keys())

	e.Delete("a")
	assert.Equal(t, []string{"b", "c"}, e.Keys())

	e.Set("b", 10)
	assert.Equal(t, []string{"b", "c"}, e.Keys(), "re-setting an existing key must not move it")
}

func TestSetUnitRemoves(t *testing.T) {
	e := New()
	e.Set("x", 1)
	e.Set("x", UnitValue)
	_, ok := e.Get("x")
	assert.False(t, ok)
	assert.Equal(t, 0, e.Len())
}

func TestReconcileAppendsNewKeysSorted(t *testing.T) {
	e := New()
	e.Set("status", 200)
	data := e.Data()
	data["zeta"] = 1
	data["alpha"] = 2
	e.Reconcile()
	assert.Equal(t, []string{"status", "alpha", "zeta"}, e.Keys())
}

func TestReconcileDropsUnitValues(t *testing.T) {
	e := New()
	e.Set("a", 1)
	e.Set("b", 2)
	e.Data()["a"] = UnitValue
	e.Reconcile()
	assert.Equal(t, []string{"b"}, e.Keys())
	_, ok := e.Get("a")
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	e := New()
	e.Set("nested", map[string]any{"x": 1})
	c := e.Clone()
	c.Data()["nested"].(map[string]any)["x"] = 99

	orig, ok := e.Get("nested")
	require.True(t, ok)
	assert.Equal(t, 1, orig.(map[string]any)["x"])
}

func TestFromMapPreservesGivenOrder(t *testing.T) {
	e := FromMap([]string{"c", "a"}, map[string]any{"a": 1, "c": 2, "unused": 3})
	assert.Equal(t, []string{"c", "a"}, e.Keys())
}
