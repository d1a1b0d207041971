package parser

import (
	"regexp"

	"kelora/internal/chunker"
	"kelora/internal/event"
)

// RegexParser extracts named capture groups into event fields; unmatched
// chunks are a ParseError (KindNoMatch), per spec §4.4.
type RegexParser struct {
	Re *regexp.Regexp
}

func (p *RegexParser) Name() string { return "regex" }

func (p *RegexParser) Parse(c chunker.Chunk) (*event.Event, error) {
	m := p.Re.FindStringSubmatch(c.Text)
	if m == nil {
		return nil, newErr(KindNoMatch, "regex did not match chunk", nil)
	}
	ev := event.New()
	for i, name := range p.Re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		ev.Set(name, m[i])
	}
	return ev, nil
}
