package parser

import (
	"regexp"
	"strconv"
	"strings"

	"kelora/internal/chunker"
	"kelora/internal/event"
)

// CombinedParser matches Apache/Nginx access log variants, trying
// nginx-with-request-time, then Combined, then Common, per chunk, as spec
// §4.4 prescribes.
type CombinedParser struct{}

func (CombinedParser) Name() string { return "combined" }

var (
	nginxRequestTimeRe = regexp.MustCompile(
		`^(\S+) - (\S+) \[([^\]]+)\] "([^"]*)" (\d{3}) (\S+) "([^"]*)" "([^"]*)" (\S+)$`)
	combinedRe = regexp.MustCompile(
		`^(\S+) \S+ (\S+) \[([^\]]+)\] "([^"]*)" (\d{3}) (\S+) "([^"]*)" "([^"]*)"$`)
	commonRe = regexp.MustCompile(
		`^(\S+) \S+ (\S+) \[([^\]]+)\] "([^"]*)" (\d{3}) (\S+)$`)
	requestLineRe = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\S+)$`)
)

func (CombinedParser) Parse(c chunker.Chunk) (*event.Event, error) {
	if m := nginxRequestTimeRe.FindStringSubmatch(c.Text); m != nil {
		ev := buildAccessEvent(m[1], m[2], m[3], m[4], m[5], m[6])
		ev.Set("referer", emptyDash(m[7]))
		ev.Set("user_agent", emptyDash(m[8]))
		ev.Set("request_time", m[9])
		return ev, nil
	}
	if m := combinedRe.FindStringSubmatch(c.Text); m != nil {
		ev := buildAccessEvent(m[1], m[2], m[3], m[4], m[5], m[6])
		ev.Set("referer", emptyDash(m[7]))
		ev.Set("user_agent", emptyDash(m[8]))
		return ev, nil
	}
	if m := commonRe.FindStringSubmatch(c.Text); m != nil {
		return buildAccessEvent(m[1], m[2], m[3], m[4], m[5], m[6]), nil
	}
	return nil, newErr(KindNoMatch, "not an Apache/Nginx access log line", nil)
}

func buildAccessEvent(remoteAddr, user, ts, request, status, bytes string) *event.Event {
	ev := event.New()
	ev.Set("remote_addr", remoteAddr)
	ev.Set("user", emptyDash(user))
	ev.Set("timestamp", ts)
	ev.Set("request", request)
	if rm := requestLineRe.FindStringSubmatch(request); rm != nil {
		ev.Set("method", rm[1])
		ev.Set("path", rm[2])
		ev.Set("protocol", rm[3])
	}
	if s, err := strconv.Atoi(status); err == nil {
		ev.Set("status", int64(s))
	}
	if bytes == "-" {
		ev.Set("bytes", int64(0))
	} else if b, err := strconv.ParseInt(bytes, 10, 64); err == nil {
		ev.Set("bytes", b)
	}
	return ev
}

func emptyDash(s string) string {
	if s == "-" {
		return ""
	}
	return strings.TrimSpace(s)
}
