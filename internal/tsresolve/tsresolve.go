// Package tsresolve locates and parses the timestamp field of a parsed
// event per spec §4.5. Grounded on the teacher's
// internal/processing/log_processor.go TimestampParseProcessor, which keeps
// an ordered list of candidate layouts from getCommonTimestampFormats() and
// an autoDetectTimestamp regex-ordered probe; this package generalizes that
// candidate-field/candidate-format probing to kelora's fixed field name
// list and adds numeric epoch heuristics the teacher's processor lacked.
package tsresolve

import (
	"strconv"
	"strings"
	"time"
)

// candidateFields is the fixed, case-insensitive probe order used when no
// --ts-field override is configured.
var candidateFields = []string{
	"ts", "_ts", "timestamp", "at", "time", "@timestamp", "log_timestamp",
	"event_time", "datetime", "date_time", "created_at", "logged_at",
	"_t", "@t", "t",
}

// commonLayouts mirrors the teacher's getCommonTimestampFormats() ordering:
// ISO-8601/RFC3339 variants first, then syslog-ish, then Apache combined.
var commonLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"Jan _2 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
	"2006-01-02",
}

// Resolver configures timestamp field/format resolution.
type Resolver struct {
	Field    string // explicit --ts-field override, empty to use candidates
	Format   string // explicit --ts-format, empty to probe commonLayouts
	InputTZ  *time.Location
}

// New builds a Resolver. tz nil defaults to UTC for naive timestamps.
func New(field, format string, tz *time.Location) *Resolver {
	if tz == nil {
		tz = time.UTC
	}
	return &Resolver{Field: field, Format: format, InputTZ: tz}
}

// Resolve searches fields (an ordered key list paired with a lookup map)
// for a timestamp, returning the parsed UTC time and true on success.
func (r *Resolver) Resolve(keys []string, get func(string) (any, bool)) (time.Time, bool) {
	if r.Field != "" {
		if v, ok := get(r.Field); ok {
			return r.parseValue(v)
		}
		return time.Time{}, false
	}
	lower := make(map[string]string, len(keys))
	for _, k := range keys {
		lower[strings.ToLower(k)] = k
	}
	for _, cand := range candidateFields {
		if actual, ok := lower[cand]; ok {
			if v, ok := get(actual); ok {
				if t, ok := r.parseValue(v); ok {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

func (r *Resolver) parseValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case int64:
		return epochHeuristic(t), true
	case float64:
		return epochHeuristic(int64(t)), true
	case string:
		return r.parseString(t)
	default:
		return time.Time{}, false
	}
}

func (r *Resolver) parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if r.Format != "" {
		if t, err := time.ParseInLocation(r.Format, s, r.InputTZ); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && isAllDigits(s) {
		return epochHeuristic(n), true
	}
	for _, layout := range commonLayouts {
		if t, err := time.ParseInLocation(layout, s, r.InputTZ); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// epochHeuristic infers whether n is seconds, milliseconds, or nanoseconds
// since the epoch from its magnitude, the same heuristic spec §4.5 names
// ("numeric epoch seconds/millis/nanos heuristically").
func epochHeuristic(n int64) time.Time {
	switch {
	case n > 1_000_000_000_000_000: // nanoseconds
		return time.Unix(0, n).UTC()
	case n > 1_000_000_000_000: // milliseconds
		return time.Unix(0, n*int64(time.Millisecond)).UTC()
	default: // seconds
		return time.Unix(n, 0).UTC()
	}
}
