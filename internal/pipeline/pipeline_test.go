package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelora/internal/chunker"
	"kelora/internal/format"
	"kelora/internal/parser"
	"kelora/internal/reader"
	"kelora/internal/script"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(bytes.NewBuffer(nil))
	return l
}

func baseConfig(t *testing.T, sources []reader.Source, out *bytes.Buffer) Config {
	f, err := format.New("jsonlines", format.Options{})
	require.NoError(t, err)
	return Config{
		Sources:       sources,
		NewParser:     func() parser.Parser { return &parser.JSONParser{} },
		Resilient:     true,
		Formatter:     f,
		Stdout:        out,
		Stderr:        bytes.NewBuffer(nil),
		Log:           testLogger(),
		ChunkerKind:   chunker.KindNone,
	}
}

func TestSequentialRunFiltersAndTransforms(t *testing.T) {
	path := writeTemp(t, "in.jsonl", "{\"status\":200}\n{\"status\":500}\n")
	var out bytes.Buffer
	cfg := baseConfig(t, []reader.Source{{Path: path}}, &out)

	filterStage, err := script.Compile(script.StageFilter, `status >= 500`)
	require.NoError(t, err)
	execStage, err := script.Compile(script.StageExec, `e.tag = "bad"`)
	require.NoError(t, err)
	cfg.Stages = Stages{Filter: []*script.Stage{filterStage}, Exec: []*script.Stage{execStage}}

	require.NoError(t, Run(cfg))
	assert.Contains(t, out.String(), `"status":500`)
	assert.Contains(t, out.String(), `"tag":"bad"`)
	assert.NotContains(t, out.String(), `"status":200`)
}

func TestSequentialRunTakeLimitsOutput(t *testing.T) {
	path := writeTemp(t, "in.jsonl", "{\"a\":1}\n{\"a\":2}\n{\"a\":3}\n")
	var out bytes.Buffer
	cfg := baseConfig(t, []reader.Source{{Path: path}}, &out)
	cfg.Take = 2

	require.NoError(t, Run(cfg))
	lines := bytes.Count(out.Bytes(), []byte("\n"))
	assert.Equal(t, 2, lines)
}

func TestSequentialRunTracksMetricsInEndStage(t *testing.T) {
	path := writeTemp(t, "in.jsonl", "{\"bytes\":100}\n{\"bytes\":50}\n")
	var out bytes.Buffer
	cfg := baseConfig(t, []reader.Source{{Path: path}}, &out)

	execStage, err := script.Compile(script.StageExec, `track_sum("total_bytes", bytes)`)
	require.NoError(t, err)
	var endOut bytes.Buffer
	endStage, err := script.Compile(script.StageEnd, `print(metrics.total_bytes)`)
	require.NoError(t, err)
	cfg.Stages = Stages{Exec: []*script.Stage{execStage}, End: endStage}
	cfg.Stdout = &endOut

	require.NoError(t, Run(cfg))
	assert.Contains(t, endOut.String(), "150")
}

func TestSequentialRunRejectsExecMutationOfSealedConfEvenWhenResilient(t *testing.T) {
	path := writeTemp(t, "in.jsonl", "{\"status\":200}\n")
	var out bytes.Buffer
	cfg := baseConfig(t, []reader.Source{{Path: path}}, &out)

	beginStage, err := script.Compile(script.StageBegin, `conf.threshold = 5`)
	require.NoError(t, err)
	execStage, err := script.Compile(script.StageExec, `conf.threshold = 99`)
	require.NoError(t, err)
	cfg.Stages = Stages{Begin: beginStage, Exec: []*script.Stage{execStage}}

	err = Run(cfg)
	require.Error(t, err)
}

func TestRunParallelMergesRegistriesAcrossSources(t *testing.T) {
	p1 := writeTemp(t, "a.jsonl", "{\"bytes\":10}\n")
	p2 := writeTemp(t, "b.jsonl", "{\"bytes\":20}\n")
	var out bytes.Buffer
	cfg := baseConfig(t, []reader.Source{{Path: p1}, {Path: p2}}, &out)

	execStage, err := script.Compile(script.StageExec, `track_sum("total", bytes)`)
	require.NoError(t, err)
	endStage, err := script.Compile(script.StageEnd, `print(metrics.total)`)
	require.NoError(t, err)
	cfg.Stages = Stages{Exec: []*script.Stage{execStage}, End: endStage}

	require.NoError(t, RunParallel(cfg, 2))
	assert.Contains(t, out.String(), "30")
}

func TestRunParallelBeginConfIsVisibleToWorkers(t *testing.T) {
	p1 := writeTemp(t, "a.jsonl", "{\"bytes\":10}\n")
	var out bytes.Buffer
	cfg := baseConfig(t, []reader.Source{{Path: p1}}, &out)

	beginStage, err := script.Compile(script.StageBegin, `conf.threshold = 5`)
	require.NoError(t, err)
	execStage, err := script.Compile(script.StageExec, `e.threshold = conf.threshold`)
	require.NoError(t, err)
	cfg.Stages = Stages{Begin: beginStage, Exec: []*script.Stage{execStage}}

	require.NoError(t, RunParallel(cfg, 1))
	assert.Contains(t, out.String(), `"threshold":5`)
}

func TestRunParallelRejectsExecMutationOfSealedConf(t *testing.T) {
	p1 := writeTemp(t, "a.jsonl", "{\"bytes\":10}\n")
	var out bytes.Buffer
	cfg := baseConfig(t, []reader.Source{{Path: p1}}, &out)
	cfg.Resilient = false

	beginStage, err := script.Compile(script.StageBegin, `conf.threshold = 5`)
	require.NoError(t, err)
	execStage, err := script.Compile(script.StageExec, `conf.threshold = 99`)
	require.NoError(t, err)
	cfg.Stages = Stages{Begin: beginStage, Exec: []*script.Stage{execStage}}

	err = RunParallel(cfg, 1)
	require.Error(t, err)
}
