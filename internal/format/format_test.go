package format

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, f Formatter, rows []map[string]any) string {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	for _, r := range rows {
		require.NoError(t, f.Format(w, r))
	}
	require.NoError(t, f.Flush(w))
	require.NoError(t, w.Flush())
	return buf.String()
}

func TestJSONLinesFormatter(t *testing.T) {
	f, err := New("jsonlines", Options{})
	require.NoError(t, err)
	out := render(t, f, []map[string]any{{"a": int64(1), "b": "x"}})
	assert.Contains(t, out, `"a":1`)
	assert.Contains(t, out, `"b":"x"`)
}

func TestKVFormatterQuotesValuesWithSpaces(t *testing.T) {
	f, err := New("kv", Options{})
	require.NoError(t, err)
	out := render(t, f, []map[string]any{{"msg": "hello world"}})
	assert.Equal(t, `msg="hello world"`+"\n", out)
}

func TestCSVFormatterBuildsHeaderFromWindow(t *testing.T) {
	f, err := New("csv", Options{})
	require.NoError(t, err)
	rows := make([]map[string]any, 0, fieldOrderWindow+1)
	for i := 0; i < fieldOrderWindow+1; i++ {
		rows = append(rows, map[string]any{"a": int64(i)})
	}
	out := render(t, f, rows)
	lines := bytes.Split([]byte(out), []byte("\n"))
	assert.Equal(t, "a", string(lines[0]))
}

func TestCSVFormatterRespectsExplicitKeys(t *testing.T) {
	f, err := New("csv", Options{Keys: []string{"b", "a"}})
	require.NoError(t, err)
	out := render(t, f, []map[string]any{{"a": int64(1), "b": int64(2)}})
	lines := bytes.Split([]byte(out), []byte("\n"))
	assert.Equal(t, "b,a", string(lines[0]))
	assert.Equal(t, "2,1", string(lines[1]))
}

func TestInspectFormatterListsKeysSorted(t *testing.T) {
	f, err := New("inspect", Options{})
	require.NoError(t, err)
	out := render(t, f, []map[string]any{{"b": 2, "a": 1}})
	assert.True(t, bytes.Index([]byte(out), []byte("a")) < bytes.Index([]byte(out), []byte("b")))
}

func TestLevelMapFormatterGroupsByLevel(t *testing.T) {
	f, err := New("levelmap", Options{})
	require.NoError(t, err)
	out := render(t, f, []map[string]any{
		{"level": "error", "msg": "boom"},
		{"level": "error", "msg": "boom"},
		{"level": "info", "msg": "ok"},
	})
	assert.Contains(t, out, "error:")
	assert.Contains(t, out, "2  boom")
	assert.Contains(t, out, "info:")
}

func TestNoneFormatterProducesNoOutput(t *testing.T) {
	f, err := New("none", Options{})
	require.NoError(t, err)
	out := render(t, f, []map[string]any{{"a": 1}})
	assert.Empty(t, out)
}
