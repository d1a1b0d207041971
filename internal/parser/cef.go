package parser

import (
	"strconv"
	"strings"

	"kelora/internal/chunker"
	"kelora/internal/event"
)

// CEFParser decodes ArcSight Common Event Format:
// CEF:<ver>|vendor|product|version|signature|name|severity|<extension>.
// Header fields plus the flattened extension key=value map become
// top-level event fields, per spec §4.4.
type CEFParser struct{}

func (CEFParser) Name() string { return "cef" }

func (CEFParser) Parse(c chunker.Chunk) (*event.Event, error) {
	if !strings.HasPrefix(c.Text, "CEF:") {
		return nil, newErr(KindNoMatch, "missing CEF: prefix", nil)
	}
	fields := splitUnescaped(c.Text, '|', 8)
	if len(fields) < 7 {
		return nil, newErr(KindMalformed, "CEF header has fewer than 7 fields", nil)
	}

	ev := event.New()
	ev.Set("cef_version", strings.TrimPrefix(fields[0], "CEF:"))
	ev.Set("device_vendor", fields[1])
	ev.Set("device_product", fields[2])
	ev.Set("device_version", fields[3])
	ev.Set("signature_id", fields[4])
	ev.Set("name", fields[5])
	if sev, err := strconv.Atoi(fields[6]); err == nil {
		ev.Set("severity", int64(sev))
	} else {
		ev.Set("severity", fields[6])
	}

	if len(fields) == 8 {
		for _, tok := range tokenizeLogfmt(fields[7]) {
			eq := strings.IndexByte(tok, '=')
			if eq < 0 {
				continue
			}
			ev.Set(tok[:eq], coerceLogfmtValue(tok[eq+1:]))
		}
	}
	return ev, nil
}

// splitUnescaped splits on sep, honoring backslash escapes, and returns at
// most maxParts parts (the remainder after the last split becomes the final
// element).
func splitUnescaped(s string, sep byte, maxParts int) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == sep && len(parts) < maxParts-1:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}
