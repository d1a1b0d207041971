package parser

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelora/internal/chunker"
	"kelora/internal/event"
)

func chunk(text string) chunker.Chunk {
	return chunker.Chunk{Text: text, StartLineNum: 1, EndLineNum: 1}
}

func TestJSONParserPreservesOrderAndNumberKinds(t *testing.T) {
	p := JSONParser{}
	ev, err := p.Parse(chunk(`{"status":200,"ratio":0.5,"user":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "ratio", "user"}, ev.Keys())

	status, _ := ev.Get("status")
	assert.Equal(t, int64(200), status)
	ratio, _ := ev.Get("ratio")
	assert.Equal(t, 0.5, ratio)
}

func TestJSONParserNestedObjectIsEvent(t *testing.T) {
	p := JSONParser{}
	ev, err := p.Parse(chunk(`{"req":{"method":"GET","path":"/x"}}`))
	require.NoError(t, err)
	req, ok := ev.Get("req")
	require.True(t, ok)
	nested, ok := req.(*event.Event)
	require.True(t, ok)
	method, _ := nested.Get("method")
	assert.Equal(t, "GET", method)
}

func TestLogfmtParser(t *testing.T) {
	p := LogfmtParser{}
	ev, err := p.Parse(chunk(`level=info msg="hello world" code=200 bare`))
	require.NoError(t, err)
	level, _ := ev.Get("level")
	assert.Equal(t, "info", level)
	msg, _ := ev.Get("msg")
	assert.Equal(t, "hello world", msg)
	_, hasBare := ev.Get("bare")
	assert.False(t, hasBare)
}

func TestRegexParserNamedCaptures(t *testing.T) {
	re := regexp.MustCompile(`^(?P<level>\w+): (?P<msg>.*)$`)
	p := &RegexParser{Re: re}
	ev, err := p.Parse(chunk("ERROR: boom"))
	require.NoError(t, err)
	level, _ := ev.Get("level")
	assert.Equal(t, "ERROR", level)
}

func TestRegexParserNoMatch(t *testing.T) {
	re := regexp.MustCompile(`^\d+$`)
	p := &RegexParser{Re: re}
	_, err := p.Parse(chunk("not digits"))
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, KindNoMatch, pe.Kind)
}

func TestColumnSpecParser(t *testing.T) {
	spec, err := ParseSpec("ts host - *msg")
	require.NoError(t, err)
	p := &ColumnSpecParser{Spec: spec}
	ev, err := p.Parse(chunk("2024-01-01 host1 ignored rest of the message"))
	require.NoError(t, err)
	ts, _ := ev.Get("ts")
	assert.Equal(t, "2024-01-01", ts)
	msg, _ := ev.Get("msg")
	assert.Equal(t, "rest of the message", msg)
}

func TestTabularParserWithHeader(t *testing.T) {
	p := &TabularParser{Delimiter: ',', HasHeader: true}
	_, err := p.Parse(chunk("name,age:int"))
	require.ErrorIs(t, err, ErrHeaderConsumed)

	ev, err := p.Parse(chunk("alice,30"))
	require.NoError(t, err)
	age, _ := ev.Get("age")
	assert.Equal(t, int64(30), age)
}

func TestCombinedParser(t *testing.T) {
	p := CombinedParser{}
	line := `127.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET /index.html HTTP/1.1" 200 1024 "-" "Mozilla/5.0"`
	ev, err := p.Parse(chunk(line))
	require.NoError(t, err)
	status, _ := ev.Get("status")
	assert.Equal(t, int64(200), status)
	method, _ := ev.Get("method")
	assert.Equal(t, "GET", method)
}

func TestRawRoundTripsVerbatim(t *testing.T) {
	p := RawParser{}
	ev, err := p.Parse(chunk("hello\nworld"))
	require.NoError(t, err)
	raw, _ := ev.Get("raw")
	assert.Equal(t, "hello\nworld", raw)
}

func TestAutoDetectPinsJSON(t *testing.T) {
	var detected string
	p := NewAutoParser(func(name string) { detected = name }, nil)
	ev, err := p.Parse(chunk(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "json", detected)
	a, _ := ev.Get("a")
	assert.Equal(t, int64(1), a)

	ev2, err := p.Parse(chunk(`{"b":2}`))
	require.NoError(t, err)
	b, _ := ev2.Get("b")
	assert.Equal(t, int64(2), b)
}
