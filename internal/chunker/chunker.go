// Package chunker coalesces consecutive RawLines into multi-line Chunks
// per spec §4.3. Grounded on the teacher's internal/processing/log_processor.go
// Pipeline/ProcessingStep state-machine idiom (a compiled step holding
// regexes and mutable buffering state across calls), generalized from
// single-purpose regex extraction to the chunker's several buffering
// strategies.
package chunker

import (
	"regexp"
	"strings"

	"kelora/internal/reader"
)

// Kind identifies a chunking strategy.
type Kind string

const (
	KindNone      Kind = "none"
	KindTimestamp Kind = "timestamp"
	KindIndent    Kind = "indent"
	KindStart     Kind = "start"
	KindEnd       Kind = "end"
	KindBoundary  Kind = "boundary"
	KindBackslash Kind = "backslash"
	KindWhole     Kind = "whole"
)

// Chunk is the unit handed to format parsers.
type Chunk struct {
	Text         string
	SourceID     uint32
	StartLineNum uint64
	EndLineNum   uint64
}

// Params configures the regex-driven strategies.
type Params struct {
	StartRegex       *regexp.Regexp // timestamp, start, boundary-start
	EndRegex         *regexp.Regexp // end, boundary-end
	InsideOnly       bool           // boundary: drop interior lines between start/end
	ContinuationChar byte           // backslash, default '\\'
}

// Chunker buffers lines according to one strategy and emits Chunks.
type Chunker struct {
	kind   Kind
	params Params

	lines       []string
	startLine   uint64
	endLine     uint64
	sourceID    uint32
	haveBuf     bool
	boundaryOn  bool // boundary strategy: currently inside a start..end run
	pendingCont bool // backslash strategy: previous line ended in continuation char
}

// New constructs a Chunker for the given strategy.
func New(kind Kind, params Params) *Chunker {
	if params.ContinuationChar == 0 {
		params.ContinuationChar = '\\'
	}
	return &Chunker{kind: kind, params: params}
}

// Feed processes one RawLine, returning a completed Chunk if the strategy
// flushed one as a result.
func (c *Chunker) Feed(line reader.RawLine) (Chunk, bool) {
	text := string(line.Text)
	switch c.kind {
	case KindNone:
		return Chunk{Text: text, SourceID: line.SourceID, StartLineNum: line.LineNum, EndLineNum: line.LineNum}, true
	case KindWhole:
		c.append(line, text)
		return Chunk{}, false
	case KindTimestamp:
		return c.feedStartRegex(line, text, true)
	case KindStart:
		return c.feedStartRegex(line, text, false)
	case KindIndent:
		return c.feedIndent(line, text)
	case KindEnd:
		return c.feedEnd(line, text)
	case KindBoundary:
		return c.feedBoundary(line, text)
	case KindBackslash:
		return c.feedBackslash(line, text)
	default:
		return Chunk{Text: text, SourceID: line.SourceID, StartLineNum: line.LineNum, EndLineNum: line.LineNum}, true
	}
}

// Flush returns any pending buffered chunk at end-of-source, used by
// strategies that only terminate on EOF (whole) or leave a trailing partial
// buffer (timestamp, indent, start, boundary, backslash).
func (c *Chunker) Flush() (Chunk, bool) {
	if !c.haveBuf {
		return Chunk{}, false
	}
	chunk := c.build()
	c.reset()
	return chunk, true
}

func (c *Chunker) append(line reader.RawLine, text string) {
	if !c.haveBuf {
		c.haveBuf = true
		c.startLine = line.LineNum
		c.sourceID = line.SourceID
	}
	c.lines = append(c.lines, text)
	c.endLine = line.LineNum
}

func (c *Chunker) build() Chunk {
	return Chunk{
		Text:         strings.Join(c.lines, "\n"),
		SourceID:     c.sourceID,
		StartLineNum: c.startLine,
		EndLineNum:   c.endLine,
	}
}

func (c *Chunker) reset() {
	c.lines = nil
	c.haveBuf = false
	c.boundaryOn = false
	c.pendingCont = false
}

// feedStartRegex implements both "timestamp" and "start": a regex match
// opens a new chunk, flushing whatever was pending.
func (c *Chunker) feedStartRegex(line reader.RawLine, text string, _ bool) (Chunk, bool) {
	matches := c.params.StartRegex != nil && c.params.StartRegex.MatchString(text)
	if matches && c.haveBuf {
		chunk := c.build()
		c.reset()
		c.append(line, text)
		return chunk, true
	}
	c.append(line, text)
	return Chunk{}, false
}

func (c *Chunker) feedIndent(line reader.RawLine, text string) (Chunk, bool) {
	isContinuation := len(text) > 0 && (text[0] == ' ' || text[0] == '\t')
	if isContinuation && c.haveBuf {
		c.append(line, text)
		return Chunk{}, false
	}
	var out Chunk
	var ok bool
	if c.haveBuf {
		out = c.build()
		ok = true
		c.reset()
	}
	c.append(line, text)
	return out, ok
}

func (c *Chunker) feedEnd(line reader.RawLine, text string) (Chunk, bool) {
	c.append(line, text)
	if c.params.EndRegex != nil && c.params.EndRegex.MatchString(text) {
		chunk := c.build()
		c.reset()
		return chunk, true
	}
	return Chunk{}, false
}

func (c *Chunker) feedBoundary(line reader.RawLine, text string) (Chunk, bool) {
	startMatch := c.params.StartRegex != nil && c.params.StartRegex.MatchString(text)
	endMatch := c.params.EndRegex != nil && c.params.EndRegex.MatchString(text)

	if !c.boundaryOn {
		if startMatch {
			c.boundaryOn = true
			c.append(line, text)
		}
		return Chunk{}, false
	}

	if endMatch {
		c.append(line, text)
		chunk := c.build()
		c.reset()
		return chunk, true
	}
	if !c.params.InsideOnly {
		c.append(line, text)
	} else {
		// inside=only: interior lines are discarded from the assembled
		// text but still advance the end-line accounting.
		if c.haveBuf {
			c.endLine = line.LineNum
		}
	}
	return Chunk{}, false
}

func (c *Chunker) feedBackslash(line reader.RawLine, text string) (Chunk, bool) {
	var out Chunk
	var ok bool

	if c.haveBuf && !c.pendingCont {
		out = c.build()
		ok = true
		c.reset()
	}

	cont := len(text) > 0 && text[len(text)-1] == c.params.ContinuationChar
	stored := text
	if cont {
		stored = text[:len(text)-1]
	}
	if c.haveBuf && c.pendingCont {
		c.lines[len(c.lines)-1] += "\n" + stored
		c.endLine = line.LineNum
	} else {
		c.append(line, stored)
	}
	c.pendingCont = cont
	if !cont {
		chunk := c.build()
		c.reset()
		return chunk, true
	}
	return out, ok
}
