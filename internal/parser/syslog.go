package parser

import (
	"regexp"
	"strconv"
	"time"

	"kelora/internal/chunker"
	"kelora/internal/event"
)

// SyslogParser auto-detects RFC3164 vs RFC5424 framing per chunk and emits
// the fixed field set spec §4.4 names.
type SyslogParser struct{ Now func() time.Time }

func (SyslogParser) Name() string { return "syslog" }

var (
	rfc5424Re = regexp.MustCompile(
		`^<(\d+)>(\d+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(.*)$`)
	rfc3164Re = regexp.MustCompile(
		`^<(\d+)>([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^:\[]+)(?:\[(\d+)\])?:\s*(.*)$`)
)

func (p SyslogParser) Parse(c chunker.Chunk) (*event.Event, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if m := rfc5424Re.FindStringSubmatch(c.Text); m != nil {
		pri, _ := strconv.Atoi(m[1])
		ev := event.New()
		ev.Set("facility", int64(pri/8))
		ev.Set("severity", int64(pri%8))
		ev.Set("version", m[2])
		ev.Set("timestamp", m[3])
		ev.Set("hostname", m[4])
		ev.Set("appname", m[5])
		ev.Set("procid", m[6])
		ev.Set("msgid", m[7])
		ev.Set("message", m[8])
		return ev, nil
	}
	if m := rfc3164Re.FindStringSubmatch(c.Text); m != nil {
		pri, _ := strconv.Atoi(m[1])
		ts := withInferredYear(m[2], now())
		ev := event.New()
		ev.Set("facility", int64(pri/8))
		ev.Set("severity", int64(pri%8))
		ev.Set("timestamp", ts)
		ev.Set("hostname", m[3])
		ev.Set("appname", m[4])
		if m[5] != "" {
			ev.Set("procid", m[5])
		}
		ev.Set("message", m[6])
		return ev, nil
	}
	return nil, newErr(KindNoMatch, "not a recognizable syslog line", nil)
}

func withInferredYear(ts string, now time.Time) string {
	t, err := time.Parse("Jan _2 15:04:05", ts)
	if err != nil {
		return ts
	}
	t = t.AddDate(now.Year(), 0, 0)
	return t.Format(time.RFC3339)
}
