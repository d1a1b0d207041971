package parser

import (
	"strings"

	"kelora/internal/chunker"
	"kelora/internal/event"
)

// LineParser emits one `line` field holding the chunk text with any
// trailing CR/LF stripped (the reader already stripped CR per source line,
// so this mainly guards multi-line chunks whose assembly left a trailing
// newline).
type LineParser struct{}

func (LineParser) Name() string { return "line" }

func (LineParser) Parse(c chunker.Chunk) (*event.Event, error) {
	ev := event.New()
	ev.Set("line", strings.TrimRight(c.Text, "\r\n"))
	return ev, nil
}

// RawParser emits the chunk text verbatim under `raw`, including any
// embedded newlines from multi-line chunking.
type RawParser struct{}

func (RawParser) Name() string { return "raw" }

func (RawParser) Parse(c chunker.Chunk) (*event.Event, error) {
	ev := event.New()
	ev.Set("raw", c.Text)
	return ev, nil
}
