package chunker

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelora/internal/reader"
)

func rl(n uint64, s string) reader.RawLine {
	return reader.RawLine{Text: []byte(s), SourceID: 0, LineNum: n}
}

func TestNoneEmitsEveryLine(t *testing.T) {
	c := New(KindNone, Params{})
	chunk, ok := c.Feed(rl(1, "hello"))
	require.True(t, ok)
	assert.Equal(t, "hello", chunk.Text)
	assert.Equal(t, uint64(1), chunk.StartLineNum)
	assert.Equal(t, uint64(1), chunk.EndLineNum)
}

func TestTimestampStrategyGroupsContinuations(t *testing.T) {
	re := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T`)
	c := New(KindTimestamp, Params{StartRegex: re})

	_, ok := c.Feed(rl(1, "2024-01-15T10:00:00 ERROR boom"))
	assert.False(t, ok)
	_, ok = c.Feed(rl(2, "  at foo.bar()"))
	assert.False(t, ok)
	_, ok = c.Feed(rl(3, "  at baz.qux()"))
	assert.False(t, ok)
	chunk, ok := c.Feed(rl(4, "2024-01-15T10:00:01 INFO next"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-15T10:00:00 ERROR boom\n  at foo.bar()\n  at baz.qux()", chunk.Text)
	assert.Equal(t, uint64(1), chunk.StartLineNum)
	assert.Equal(t, uint64(3), chunk.EndLineNum)

	last, ok := c.Flush()
	require.True(t, ok)
	assert.Equal(t, "2024-01-15T10:00:01 INFO next", last.Text)
}

func TestIndentStrategy(t *testing.T) {
	c := New(KindIndent, Params{})
	c.Feed(rl(1, "start"))
	c.Feed(rl(2, "  cont1"))
	chunk, ok := c.Feed(rl(3, "next"))
	require.True(t, ok)
	assert.Equal(t, "start\n  cont1", chunk.Text)
}

func TestBackslashStrategy(t *testing.T) {
	c := New(KindBackslash, Params{})
	c.Feed(rl(1, `line one \`))
	chunk, ok := c.Feed(rl(2, "line two"))
	require.True(t, ok)
	assert.Equal(t, "line one \nline two", chunk.Text)
}

func TestBoundaryInsideOnlyDropsInterior(t *testing.T) {
	start := regexp.MustCompile(`^BEGIN`)
	end := regexp.MustCompile(`^END`)
	c := New(KindBoundary, Params{StartRegex: start, EndRegex: end, InsideOnly: true})
	c.Feed(rl(1, "BEGIN"))
	c.Feed(rl(2, "noise"))
	chunk, ok := c.Feed(rl(3, "END"))
	require.True(t, ok)
	assert.Equal(t, "BEGIN\nEND", chunk.Text)
	assert.Equal(t, uint64(3), chunk.EndLineNum)
}

func TestWholeBuffersUntilFlush(t *testing.T) {
	c := New(KindWhole, Params{})
	c.Feed(rl(1, "a"))
	c.Feed(rl(2, "b"))
	chunk, ok := c.Flush()
	require.True(t, ok)
	assert.Equal(t, "a\nb", chunk.Text)
}

func TestDeterministicAcrossRuns(t *testing.T) {
	lines := []string{"2024-01-01T00:00:00 a", "  cont", "2024-01-01T00:00:01 b"}
	re := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T`)

	run := func() []Chunk {
		c := New(KindTimestamp, Params{StartRegex: re})
		var out []Chunk
		for i, l := range lines {
			if chunk, ok := c.Feed(rl(uint64(i+1), l)); ok {
				out = append(out, chunk)
			}
		}
		if chunk, ok := c.Flush(); ok {
			out = append(out, chunk)
		}
		return out
	}

	a := run()
	b := run()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}
