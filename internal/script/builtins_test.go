package script

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelora/internal/event"
	"kelora/internal/tracker"
)

func newTestContext(mode Mode) *Context {
	return NewContext(mode, tracker.NewRegistry(), nil, "test-secret", nil)
}

func runExpr(t *testing.T, ctx *Context, src string) any {
	t.Helper()
	stage, err := Compile(StageExec, src)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	v, err := Run(stage, env)
	require.NoError(t, err)
	return v
}

func TestRegexBuiltins(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	v := runExpr(t, ctx, `regex_match("^err", "error: boom")`)
	assert.Equal(t, true, v)

	v = runExpr(t, ctx, `regex_extract("(?P<code>\\d+)", "status 404 here")`)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "404", m["code"])
}

func TestGlobAndLevenshtein(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	assert.Equal(t, true, runExpr(t, ctx, `glob_match("*.log", "app.log")`))
	assert.Equal(t, int64(3), runExpr(t, ctx, `levenshtein("kitten", "sitting")`))
}

func TestHashAndEncodingBuiltins(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	assert.Equal(t, "aGVsbG8=", runExpr(t, ctx, `base64_encode("hello")`))
	assert.Equal(t, "hello", runExpr(t, ctx, `base64_decode("aGVsbG8=")`))
	assert.Equal(t, "68656c6c6f", runExpr(t, ctx, `hex_encode("hello")`))
}

func TestPseudonymDeterministicPerSecret(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	a := runExpr(t, ctx, `pseudonym("alice@example.com")`)
	b := runExpr(t, ctx, `pseudonym("alice@example.com")`)
	assert.Equal(t, a, b)

	other := NewContext(ModeSequential, tracker.NewRegistry(), nil, "different-secret", nil)
	c := runExpr(t, other, `pseudonym("alice@example.com")`)
	assert.NotEqual(t, a, c)
}

func TestStateForbiddenInParallelMode(t *testing.T) {
	ctx := newTestContext(ModeParallel)
	stage, err := Compile(StageExec, `state_set("k", 1)`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	_, err = Run(stage, env)
	require.Error(t, err)
}

func TestTrackBuiltinsPopulateRegistry(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	ctx.Registry = tracker.NewRegistry()
	runExpr(t, ctx, `track_count("hits")`)
	runExpr(t, ctx, `track_sum("bytes", 100)`)
	runExpr(t, ctx, `track_sum("bytes", 50)`)
	snap := ctx.Registry.Snapshot()
	assert.Equal(t, int64(1), snap["hits"])
	assert.Equal(t, 150.0, snap["bytes"])
}

func TestSkipAndExit(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	runExpr(t, ctx, `skip()`)
	assert.True(t, ctx.Skipped())

	ctx2 := newTestContext(ModeSequential)
	runExpr(t, ctx2, `exit(3)`)
	req, code := ctx2.ExitRequested()
	assert.True(t, req)
	assert.Equal(t, 3, code)
}

func TestPrintWritesToGivenWriter(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	var out bytes.Buffer
	stage, err := Compile(StageExec, `print("a", "b")`)
	require.NoError(t, err)
	env := ctx.Env(&out, os.Stderr)
	_, err = Run(stage, env)
	require.NoError(t, err)
	assert.Equal(t, "a b\n", out.String())
}

func TestEmitEachQueuesEvents(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	stage, err := Compile(StageExec, `emit_each([{"x": 1}, {"x": 2}], {"base": true})`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	_, err = Run(stage, env)
	require.NoError(t, err)
	require.Len(t, ctx.Emitted(), 2)
	assert.Equal(t, true, ctx.Emitted()[0]["base"])
	assert.Equal(t, 1, ctx.Emitted()[0]["x"])
}

func TestAbsorbKVMergesIntoTargetMap(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	stage, err := Compile(StageExec, `absorb_kv(e, "code=200 ok=true")`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	env["e"] = map[string]any{}
	v, err := Run(stage, env)
	require.NoError(t, err)
	status := v.(map[string]any)
	assert.Equal(t, "ok", status["status"])
	target := env["e"].(map[string]any)
	assert.Equal(t, "200", target["code"])
}

func TestStatusClass(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	assert.Equal(t, "5xx", runExpr(t, ctx, `status_class(503)`))
}

func TestUnitSkipsTracking(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	stage, err := Compile(StageExec, `track_sum("bytes", u)`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	env["u"] = event.UnitValue
	_, err = Run(stage, env)
	require.NoError(t, err)
	_, ok := ctx.Registry.Snapshot()["bytes"]
	assert.False(t, ok)
}

func TestSetMutatesEventFieldInPlace(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	stage, err := Compile(StageExec, `e.tag = "bad"`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	data := map[string]any{"status": int64(500)}
	env["e"] = data
	_, err = Run(stage, env)
	require.NoError(t, err)
	assert.Equal(t, "bad", data["tag"])
}

func TestSetWithDynamicFieldName(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	stage, err := Compile(StageExec, `e[key] = "v"`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	data := map[string]any{}
	env["e"] = data
	env["key"] = "dynamic"
	_, err = Run(stage, env)
	require.NoError(t, err)
	assert.Equal(t, "v", data["dynamic"])
}

func TestSetToUnitRemovesFieldOnReconcile(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	stage, err := Compile(StageExec, `e.tag = ()`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	ev := event.New()
	ev.Set("tag", "bad")
	data := ev.Data()
	env["e"] = data
	_, err = Run(stage, env)
	require.NoError(t, err)
	assert.True(t, event.IsUnit(data["tag"]))
	ev.Reconcile()
	_, present := ev.Get("tag")
	assert.False(t, present)
}

func TestBareUnitLiteralSkipsTracking(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	stage, err := Compile(StageExec, `track_sum("bytes", ())`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	_, err = Run(stage, env)
	require.NoError(t, err)
	_, ok := ctx.Registry.Snapshot()["bytes"]
	assert.False(t, ok)
}

func TestSetMutatesConfBeforeSeal(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	stage, err := Compile(StageBegin, `conf.threshold = 10`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	_, err = Run(stage, env)
	require.NoError(t, err)
	assert.Equal(t, 10, ctx.Conf["threshold"])
}

func TestSetOnSealedConfFails(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	ctx.SealConf()
	stage, err := Compile(StageExec, `conf.threshold = 10`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	_, err = Run(stage, env)
	require.Error(t, err)
}

func TestEventRemovalViaAssignment(t *testing.T) {
	ctx := newTestContext(ModeSequential)
	stage, err := Compile(StageExec, `e = ()`)
	require.NoError(t, err)
	env := ctx.Env(os.Stdout, os.Stderr)
	env["e"] = map[string]any{}
	_, err = Run(stage, env)
	require.NoError(t, err)
	assert.True(t, ctx.Skipped())
}
