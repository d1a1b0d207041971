// Package format serializes events to the wire forms spec.md §4.10 names:
// JSON lines, key=value (logfmt), CSV/TSV, inspect (debug), level-map, and
// none. Grounded on the teacher's internal/sinks/local_file_sink.go, which
// picks a serialization strategy once at construction and then writes every
// record through it without re-deciding per call.
package format

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"kelora/internal/event"
)

// fieldOrderWindow bounds how many leading events seed the column order for
// tabular outputs before it is frozen; spec.md §4.10 leaves the exact count
// an open question, resolved here (see DESIGN.md) to 20.
const fieldOrderWindow = 20

// TimestampMode controls re-serialization of time.Time values at the
// formatter boundary, without mutating the underlying event.
type TimestampMode int

const (
	TimestampAsIs TimestampMode = iota
	TimestampRFC3339UTC
	TimestampRFC3339Local
)

// Formatter renders one event's map view (the spec's *output* view, already
// merged with meta by the pipeline driver) to w.
type Formatter interface {
	Format(w *bufio.Writer, m map[string]any) error
	// Flush is called once at end of run for formatters that buffer state
	// across calls (inspect does not, level-map does).
	Flush(w *bufio.Writer) error
}

// Options configures field selection/ordering shared by tabular formatters.
type Options struct {
	Keys        []string // if set, exactly these keys in this order
	ExcludeKeys []string
	Timestamps  TimestampMode
}

func (o Options) excluded(k string) bool {
	for _, ex := range o.ExcludeKeys {
		if ex == k {
			return true
		}
	}
	return false
}

func reserializeTimestamps(m map[string]any, mode TimestampMode) map[string]any {
	if mode == TimestampAsIs {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if t, ok := v.(time.Time); ok {
			if mode == TimestampRFC3339UTC {
				out[k] = t.UTC().Format(time.RFC3339Nano)
			} else {
				out[k] = t.Local().Format(time.RFC3339Nano)
			}
			continue
		}
		out[k] = v
	}
	return out
}

// New constructs the named formatter. name is one of
// jsonlines|kv|csv|tsv|inspect|levelmap|none.
func New(name string, opts Options) (Formatter, error) {
	switch name {
	case "jsonlines":
		return &JSONLinesFormatter{opts: opts}, nil
	case "kv":
		return &KVFormatter{opts: opts}, nil
	case "csv":
		return newTabularFormatter(',', opts), nil
	case "tsv":
		return newTabularFormatter('\t', opts), nil
	case "inspect":
		return &InspectFormatter{opts: opts}, nil
	case "levelmap":
		return newLevelMapFormatter(opts), nil
	case "none":
		return noneFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", name)
	}
}

// --- jsonlines ---

type JSONLinesFormatter struct {
	opts Options
}

func (f *JSONLinesFormatter) Format(w *bufio.Writer, m map[string]any) error {
	m = reserializeTimestamps(selectKeys(m, f.opts), f.opts.Timestamps)
	enc := json.NewEncoder(w)
	return enc.Encode(m)
}

func (f *JSONLinesFormatter) Flush(w *bufio.Writer) error { return nil }

// --- kv (logfmt) ---

type KVFormatter struct {
	opts Options
}

func (f *KVFormatter) Format(w *bufio.Writer, m map[string]any) error {
	m = reserializeTimestamps(selectKeys(m, f.opts), f.opts.Timestamps)
	keys := orderedKeys(m, f.opts.Keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+logfmtValue(m[k]))
	}
	_, err := w.WriteString(strings.Join(parts, " ") + "\n")
	return err
}

func (f *KVFormatter) Flush(w *bufio.Writer) error { return nil }

func logfmtValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if strings.ContainsAny(s, " \t\"=") {
		return strconvQuote(s)
	}
	return s
}

func strconvQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// --- csv/tsv ---

type tabularFormatter struct {
	delim  rune
	opts   Options
	header []string
	seen   map[string]bool
	buffer []map[string]any
	wrote  bool
}

func newTabularFormatter(delim rune, opts Options) *tabularFormatter {
	return &tabularFormatter{delim: delim, opts: opts, seen: make(map[string]bool)}
}

func (f *tabularFormatter) Format(w *bufio.Writer, m map[string]any) error {
	m = reserializeTimestamps(selectKeys(m, f.opts), f.opts.Timestamps)
	if len(f.opts.Keys) > 0 {
		f.header = f.opts.Keys
		if err := f.writeHeader(w); err != nil {
			return err
		}
	} else if !f.wrote && len(f.buffer) < fieldOrderWindow {
		for k := range m {
			if !f.seen[k] && !f.opts.excluded(k) {
				f.seen[k] = true
				f.header = append(f.header, k)
			}
		}
		f.buffer = append(f.buffer, m)
		if len(f.buffer) < fieldOrderWindow {
			return nil
		}
		sort.Strings(f.header)
		return f.flushBuffer(w)
	}
	return f.writeRow(w, m)
}

func (f *tabularFormatter) flushBuffer(w *bufio.Writer) error {
	if err := f.writeHeader(w); err != nil {
		return err
	}
	for _, row := range f.buffer {
		if err := f.writeRow(w, row); err != nil {
			return err
		}
	}
	f.buffer = nil
	return nil
}

func (f *tabularFormatter) writeHeader(w *bufio.Writer) error {
	if f.wrote {
		return nil
	}
	f.wrote = true
	cw := csv.NewWriter(w)
	cw.Comma = f.delim
	if err := cw.Write(f.header); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func (f *tabularFormatter) writeRow(w *bufio.Writer, m map[string]any) error {
	row := make([]string, len(f.header))
	for i, k := range f.header {
		if v, ok := m[k]; ok {
			row[i] = fmt.Sprintf("%v", v)
		}
	}
	cw := csv.NewWriter(w)
	cw.Comma = f.delim
	if err := cw.Write(row); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func (f *tabularFormatter) Flush(w *bufio.Writer) error {
	if len(f.buffer) > 0 {
		sort.Strings(f.header)
		return f.flushBuffer(w)
	}
	return nil
}

// --- inspect ---

type InspectFormatter struct {
	opts Options
}

func (f *InspectFormatter) Format(w *bufio.Writer, m map[string]any) error {
	m = reserializeTimestamps(selectKeys(m, f.opts), f.opts.Timestamps)
	keys := orderedKeys(m, f.opts.Keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%-20s %v\n", k, m[k]); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\n")
	return err
}

func (f *InspectFormatter) Flush(w *bufio.Writer) error { return nil }

// --- levelmap ---

type levelMapFormatter struct {
	opts   Options
	counts map[string]map[string]int64
	order  []string
}

func newLevelMapFormatter(opts Options) *levelMapFormatter {
	return &levelMapFormatter{opts: opts, counts: make(map[string]map[string]int64)}
}

func (f *levelMapFormatter) Format(w *bufio.Writer, m map[string]any) error {
	level := "unknown"
	if v, ok := m["level"]; ok {
		level = fmt.Sprintf("%v", v)
	}
	msg := "-"
	if v, ok := m["msg"]; ok {
		msg = fmt.Sprintf("%v", v)
	} else if v, ok := m["message"]; ok {
		msg = fmt.Sprintf("%v", v)
	}
	bucket, ok := f.counts[level]
	if !ok {
		bucket = make(map[string]int64)
		f.counts[level] = bucket
		f.order = append(f.order, level)
	}
	bucket[msg]++
	return nil
}

func (f *levelMapFormatter) Flush(w *bufio.Writer) error {
	for _, level := range f.order {
		if _, err := fmt.Fprintf(w, "%s:\n", level); err != nil {
			return err
		}
		msgs := make([]string, 0, len(f.counts[level]))
		for msg := range f.counts[level] {
			msgs = append(msgs, msg)
		}
		sort.Strings(msgs)
		for _, msg := range msgs {
			if _, err := fmt.Fprintf(w, "  %6d  %s\n", f.counts[level][msg], msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- none ---

type noneFormatter struct{}

func (noneFormatter) Format(w *bufio.Writer, m map[string]any) error { return nil }
func (noneFormatter) Flush(w *bufio.Writer) error                    { return nil }

// --- shared helpers ---

func selectKeys(m map[string]any, opts Options) map[string]any {
	if len(opts.Keys) == 0 && len(opts.ExcludeKeys) == 0 {
		return m
	}
	out := make(map[string]any, len(m))
	if len(opts.Keys) > 0 {
		for _, k := range opts.Keys {
			if v, ok := m[k]; ok {
				out[k] = v
			}
		}
		return out
	}
	for k, v := range m {
		if !opts.excluded(k) {
			out[k] = v
		}
	}
	return out
}

func orderedKeys(m map[string]any, explicit []string) []string {
	if len(explicit) > 0 {
		out := make([]string, 0, len(explicit))
		for _, k := range explicit {
			if _, ok := m[k]; ok {
				out = append(out, k)
			}
		}
		return out
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EventToMap flattens an event+meta snapshot into the single map formatters
// consume, matching what scripts see as e merged with a "meta" sub-map.
func EventToMap(ev *event.Event, meta event.Meta) map[string]any {
	m := ev.ToMap()
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["meta"] = meta.ToMap()
	return out
}
