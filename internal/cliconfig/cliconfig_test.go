package cliconfig

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelora/internal/reader"
	"kelora/internal/span"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(bytes.NewBuffer(nil))
	return l
}

func TestParseDefaultsToStdinAndJSONLines(t *testing.T) {
	opts, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "jsonlines", opts.OutputFmt)
	assert.Equal(t, "auto", opts.InputFmt)

	cfg, err := Build(opts, testLogger(), new(bytes.Buffer), new(bytes.Buffer))
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, reader.Source{Path: "-"}, cfg.Sources[0])
}

func TestParseRepeatableExecFlags(t *testing.T) {
	opts, err := Parse([]string{"-e", `track_count("n")`, "-e", `state_set("k", 1)`, "in.jsonl"})
	require.NoError(t, err)
	assert.Equal(t, []string{`track_count("n")`, `state_set("k", 1)`}, []string(opts.Exec))
	assert.Equal(t, []string{"in.jsonl"}, opts.Paths)

	cfg, err := Build(opts, testLogger(), new(bytes.Buffer), new(bytes.Buffer))
	require.NoError(t, err)
	assert.Len(t, cfg.Stages.Exec, 2)
}

func TestParseUnknownFlagIsUsageError(t *testing.T) {
	_, err := Parse([]string{"--nope"})
	require.Error(t, err)
}

func TestBuildRejectsUnknownOutputFormat(t *testing.T) {
	opts, err := Parse([]string{"-F", "carrier-pigeon"})
	require.NoError(t, err)
	_, err = Build(opts, testLogger(), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
}

func TestBuildRejectsInvalidScript(t *testing.T) {
	opts, err := Parse([]string{"--filter", "status >="})
	require.NoError(t, err)
	_, err = Build(opts, testLogger(), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
}

func TestSpanFlagParsesEachKind(t *testing.T) {
	cases := map[string]span.Policy{
		"count:10":      {Kind: span.PolicyCount, Count: 10},
		"time:5s":       {Kind: span.PolicyTime, Duration: 5e9},
		"field:request": {Kind: span.PolicyField, FieldName: "request"},
		"idle:2s":       {Kind: span.PolicyIdle, Duration: 2e9},
	}
	for spec, want := range cases {
		got, err := parseSpan(spec)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSpanFlagRejectsUnknownKind(t *testing.T) {
	_, err := parseSpan("bogus:1")
	require.Error(t, err)
}

func TestMultilineFlagParsesStrategyAndParams(t *testing.T) {
	opts, err := Parse([]string{"-M", "start:^\\d{4}-"})
	require.NoError(t, err)
	cfg, err := Build(opts, testLogger(), new(bytes.Buffer), new(bytes.Buffer))
	require.NoError(t, err)
	assert.NotNil(t, cfg.ChunkerParams.StartRegex)
}
