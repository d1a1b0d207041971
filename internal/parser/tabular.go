package parser

import (
	"encoding/csv"
	"errors"
	"strconv"
	"strings"

	"kelora/internal/chunker"
	"kelora/internal/event"
)

// ErrHeaderConsumed is returned by TabularParser when a chunk was consumed
// as the header row rather than a data row: callers must skip it silently,
// not treat it as a parse failure.
var ErrHeaderConsumed = errors.New("tabular: header row consumed")

// TabularParser handles CSV/TSV with or without a header row, per spec
// §4.4: named fields when a header is configured, c1..cN otherwise, with
// optional `field:int`/`field:float`/`field:bool` type annotations on
// header names.
type TabularParser struct {
	Delimiter rune // ',' for CSV, '\t' for TSV
	HasHeader bool
	Header    []string // explicit header when the input carries none

	header    []string
	types     []string
	haveTypes bool
	consumed  bool
}

func (p *TabularParser) Name() string { return "tabular" }

func (p *TabularParser) Parse(c chunker.Chunk) (*event.Event, error) {
	r := csv.NewReader(strings.NewReader(c.Text))
	r.Comma = p.Delimiter
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return nil, newErr(KindMalformed, "invalid delimited row", err)
	}

	if p.header == nil {
		switch {
		case p.HasHeader && !p.consumed:
			p.consumed = true
			p.header, p.types = splitHeaderTypes(record)
			p.haveTypes = true
			return nil, ErrHeaderConsumed
		case len(p.Header) > 0:
			p.header, p.types = splitHeaderTypes(p.Header)
			p.haveTypes = true
		default:
			p.header = make([]string, len(record))
			for i := range record {
				p.header[i] = "c" + strconv.Itoa(i+1)
			}
		}
	}

	ev := event.New()
	for i, raw := range record {
		name := "c" + strconv.Itoa(i+1)
		var typ string
		if i < len(p.header) {
			name = p.header[i]
		}
		if p.haveTypes && i < len(p.types) {
			typ = p.types[i]
		}
		ev.Set(name, coerceColumnType(raw, typ))
	}
	return ev, nil
}

func splitHeaderTypes(header []string) ([]string, []string) {
	names := make([]string, len(header))
	types := make([]string, len(header))
	for i, h := range header {
		if idx := strings.LastIndexByte(h, ':'); idx > 0 {
			names[i] = h[:idx]
			types[i] = h[idx+1:]
		} else {
			names[i] = h
		}
	}
	return names, types
}

func coerceColumnType(raw, typ string) any {
	switch typ {
	case "int":
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	case "float":
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	case "bool":
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return raw
}
