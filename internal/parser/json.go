package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"kelora/internal/chunker"
	"kelora/internal/event"
)

// JSONParser decodes one JSON object per chunk, preserving key order and
// the int-vs-float number distinction spec §4.4 requires. It hand-walks
// json.Decoder tokens rather than json.Unmarshal into map[string]any
// because the standard unmarshaler discards object key order — exactly
// the "reflection-like field access... ordered map" requirement DESIGN
// NOTES §9 calls out.
type JSONParser struct{}

func (JSONParser) Name() string { return "json" }

func (JSONParser) Parse(c chunker.Chunk) (*event.Event, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(c.Text)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, newErr(KindMalformed, "invalid JSON", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, newErr(KindMalformed, "expected a JSON object", nil)
	}
	ev, err := decodeObjectBody(dec)
	if err != nil {
		return nil, newErr(KindMalformed, "invalid JSON object", err)
	}
	return ev, nil
}

// decodeObjectBody assumes the opening '{' has already been consumed.
func decodeObjectBody(dec *json.Decoder) (*event.Event, error) {
	ev := event.New()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, err
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		ev.Set(key, val)
	}
	if _, err := dec.Token(); err != nil { // consume closing '}'
		return nil, err
	}
	return ev, nil
}

func decodeArrayBody(dec *json.Decoder) ([]any, error) {
	arr := make([]any, 0)
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	if _, err := dec.Token(); err != nil { // consume closing ']'
		return nil, err
	}
	return arr, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			ev, err := decodeObjectBody(dec)
			if err != nil {
				return nil, err
			}
			return ev, nil
		case '[':
			return decodeArrayBody(dec)
		}
		return nil, nil
	case json.Number:
		return numberToValue(t), nil
	default:
		return t, nil
	}
}

func numberToValue(n json.Number) any {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if iv, err := strconv.ParseInt(s, 10, 64); err == nil {
			return iv
		}
	}
	fv, _ := strconv.ParseFloat(s, 64)
	return fv
}
