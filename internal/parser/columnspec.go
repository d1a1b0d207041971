package parser

import (
	"strconv"
	"strings"

	"kelora/internal/chunker"
	"kelora/internal/event"
)

// ColumnSpecParser splits each chunk on whitespace (or a custom separator)
// and assigns tokens per a user-supplied spec, per spec §4.4:
//   - `field`      consumes one token
//   - `field(n)`   consumes n tokens, joined with the separator
//   - `-` / `-(n)` skips one or n tokens
//   - `*field`     captures the remainder (must be last, at most once)
type ColumnSpecParser struct {
	Spec      []SpecToken
	Separator string // empty means any run of whitespace
}

// SpecToken is one parsed element of a column spec.
type SpecToken struct {
	Name  string
	Skip  bool
	Count int // 1 unless "(n)" suffix given
	Tail  bool
}

// ParseSpec parses a column-spec string like "ts host -(2) *msg" into
// tokens, per the grammar spec §4.4 describes.
func ParseSpec(spec string) ([]SpecToken, error) {
	var tokens []SpecToken
	tailSeen := false
	for _, raw := range strings.Fields(spec) {
		tok := SpecToken{Count: 1}
		name := raw
		if idx := strings.IndexByte(raw, '('); idx >= 0 && strings.HasSuffix(raw, ")") {
			n, err := strconv.Atoi(raw[idx+1 : len(raw)-1])
			if err != nil {
				return nil, newErr(KindMalformed, "invalid column-spec count", err)
			}
			tok.Count = n
			name = raw[:idx]
		}
		switch {
		case name == "-":
			tok.Skip = true
		case strings.HasPrefix(name, "*"):
			if tailSeen {
				return nil, newErr(KindMalformed, "column-spec allows at most one tail field", nil)
			}
			tok.Tail = true
			tok.Name = name[1:]
			tailSeen = true
		default:
			tok.Name = name
		}
		tokens = append(tokens, tok)
	}
	for i, t := range tokens {
		if t.Tail && i != len(tokens)-1 {
			return nil, newErr(KindMalformed, "column-spec tail field must be last", nil)
		}
	}
	return tokens, nil
}

func (p *ColumnSpecParser) Name() string { return "columnspec" }

func (p *ColumnSpecParser) Parse(c chunker.Chunk) (*event.Event, error) {
	var fields []string
	if p.Separator == "" {
		fields = strings.Fields(c.Text)
	} else {
		fields = strings.Split(c.Text, p.Separator)
	}

	ev := event.New()
	pos := 0
	for _, tok := range p.Spec {
		if tok.Tail {
			ev.Set(tok.Name, strings.Join(fields[min(pos, len(fields)):], separatorOrSpace(p.Separator)))
			pos = len(fields)
			continue
		}
		end := pos + tok.Count
		if end > len(fields) {
			return nil, newErr(KindColumnMismatch, "column-spec underflow", nil)
		}
		if !tok.Skip {
			ev.Set(tok.Name, strings.Join(fields[pos:end], separatorOrSpace(p.Separator)))
		}
		pos = end
	}
	if pos < len(fields) && len(p.Spec) > 0 && !p.Spec[len(p.Spec)-1].Tail {
		return nil, newErr(KindColumnMismatch, "column-spec overflow: unconsumed trailing columns", nil)
	}
	return ev, nil
}

func separatorOrSpace(sep string) string {
	if sep == "" {
		return " "
	}
	return sep
}
