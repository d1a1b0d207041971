package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessRewritesFieldAssignment(t *testing.T) {
	out, err := preprocess(`e.tag = "bad"`)
	require.NoError(t, err)
	assert.Equal(t, `set(e, "tag", "bad")`, out)
}

func TestPreprocessRewritesMultipleStatements(t *testing.T) {
	out, err := preprocess(`e.y = e.x.to_int(); e.z = 1`)
	require.NoError(t, err)
	assert.Equal(t, `set(e, "y", e.x.to_int()); set(e, "z", 1)`, out)
}

func TestPreprocessRewritesDynamicIndex(t *testing.T) {
	out, err := preprocess(`e[key] = "v"`)
	require.NoError(t, err)
	assert.Equal(t, `set(e, (key), "v")`, out)
}

func TestPreprocessRewritesConfAssignment(t *testing.T) {
	out, err := preprocess(`conf.threshold = 10`)
	require.NoError(t, err)
	assert.Equal(t, `set(conf, "threshold", 10)`, out)
}

func TestPreprocessRewritesEventRemoval(t *testing.T) {
	out, err := preprocess(`e = ()`)
	require.NoError(t, err)
	assert.Equal(t, `skip()`, out)
}

func TestPreprocessRewritesBareUnitLiteral(t *testing.T) {
	out, err := preprocess(`track_sum("bytes", ())`)
	require.NoError(t, err)
	assert.Equal(t, `track_sum("bytes", unit())`, out)
}

func TestPreprocessLeavesZeroArgCallsAlone(t *testing.T) {
	out, err := preprocess(`now()`)
	require.NoError(t, err)
	assert.Equal(t, `now()`, out)
}

func TestPreprocessLeavesComparisonsAlone(t *testing.T) {
	for _, src := range []string{`status >= 500`, `status == 200`, `status != 200`, `status <= 100`} {
		out, err := preprocess(src)
		require.NoError(t, err)
		assert.Equal(t, src, out)
	}
}

func TestPreprocessRejectsAssignmentToReadOnlySlot(t *testing.T) {
	_, err := preprocess(`line = "x"`)
	assert.Error(t, err)
}

func TestPreprocessRejectsWholesaleConfReplacement(t *testing.T) {
	_, err := preprocess(`conf = {}`)
	assert.Error(t, err)
}

func TestPreprocessRejectsNestedFieldPath(t *testing.T) {
	_, err := preprocess(`e.a.b = 1`)
	assert.Error(t, err)
}

func TestSplitStatementsIgnoresSemicolonsInsideBracketsAndStrings(t *testing.T) {
	stmts := splitStatements(`emit_each([{"a": "x;y"}]); e.tag = "ok"`)
	require.Len(t, stmts, 2)
	assert.Equal(t, `emit_each([{"a": "x;y"}])`, stmts[0])
	assert.Equal(t, ` e.tag = "ok"`, stmts[1])
}
