// Package pipeline drives the full reader -> chunker -> parser -> filter ->
// exec -> span -> formatter chain, sequentially or across a worker pool.
// Grounded on the teacher's internal/processing/log_processor.go StepProcessor
// chain and internal/dispatcher/batch_processor.go batching loop.
package pipeline

import (
	"bufio"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"kelora/internal/chunker"
	"kelora/internal/event"
	"kelora/internal/format"
	"kelora/internal/limiter"
	"kelora/internal/linefilter"
	"kelora/internal/obsmetrics"
	"kelora/internal/parser"
	"kelora/internal/reader"
	"kelora/internal/script"
	"kelora/internal/span"
	"kelora/internal/tracker"
	"kelora/internal/tsresolve"
	"kelora/internal/window"
	kelerrors "kelora/pkg/errors"
)

// Stages bundles the compiled expressions for every stage kind a run may
// use. Filter/Exec may hold more than one compiled stage (spec §4.6: "each
// filter", "each exec"), run in declaration order.
type Stages struct {
	Begin     *script.Stage
	Filter    []*script.Stage
	Exec      []*script.Stage
	End       *script.Stage
	SpanClose *script.Stage
}

// Config bundles everything a run needs, built once from parsed CLI flags.
type Config struct {
	Sources        []reader.Source
	Order          reader.Order
	LineFilter     *linefilter.Filter
	ChunkerKind    chunker.Kind
	ChunkerParams  chunker.Params
	NewParser      func() parser.Parser
	TSResolver     *tsresolve.Resolver
	SpanPolicy     *span.Policy
	WindowCapacity int
	Take           int64
	Resilient      bool
	Secret         string
	Formatter      format.Formatter
	Stdout         io.Writer
	Stderr         io.Writer
	Log            *logrus.Logger
	Stages         Stages
}

// sink is where a fully-reconciled event's map view goes once it clears the
// pipeline. Sequential mode formats directly to stdout as each event is
// ready (spec §5: "output is emitted as soon as an event clears the
// formatter"). Parallel mode instead has each worker collect into its own
// slice, since a single Formatter instance carries cross-call state (the
// tabular formatters' header-window buffering) and is not safe to drive from
// multiple goroutines at once; the top-level collector then replays every
// worker's records through one Formatter, in order, after the fan-out join.
type sink interface {
	emit(m map[string]any) error
	label() string
}

type formatterSink struct {
	f   format.Formatter
	out *bufio.Writer
}

func (s formatterSink) emit(m map[string]any) error {
	if err := s.f.Format(s.out, m); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s formatterSink) label() string { return "sequential" }

type collectSink struct {
	records *[]map[string]any
}

func (s collectSink) emit(m map[string]any) error {
	*s.records = append(*s.records, m)
	return nil
}

func (s collectSink) label() string { return "parallel" }

// Run executes the configured pipeline sequentially: a single worker drives
// reader -> chunker -> parser -> filter -> exec -> span -> formatter in
// strict order, streaming output as each event clears the formatter (spec
// §5's sequential-mode contract).
func Run(cfg Config) error {
	registry := tracker.NewRegistry()
	win := window.New(cfg.WindowCapacity)
	log := cfg.Log.WithField("component", "pipeline")
	sctx := script.NewContext(script.ModeSequential, registry, win, cfg.Secret, log)
	env := sctx.Env(cfg.Stdout, cfg.Stderr)

	if cfg.Stages.Begin != nil {
		if _, err := script.Run(cfg.Stages.Begin, env); err != nil {
			return kelerrors.ScriptCompileError("begin", "begin stage failed", err)
		}
	}
	sctx.SealConf()

	out := bufio.NewWriter(cfg.Stdout)
	defer out.Flush()
	sk := formatterSink{f: cfg.Formatter, out: out}

	lim := limiter.New(cfg.Take)
	chunkers := make(map[uint32]*chunker.Chunker)
	parsers := make(map[uint32]parser.Parser)
	var spanMgr *span.Manager
	if cfg.SpanPolicy != nil {
		spanMgr = span.NewManager(*cfg.SpanPolicy, registry)
	}

	r, err := reader.New(cfg.Sources, cfg.Order)
	if err != nil {
		return kelerrors.IOError("reader", "failed to open sources", err)
	}

	stop := false
	emit := func(ev *event.Event, meta event.Meta, line string) error {
		return runEvent(sctx, env, cfg, win, spanMgr, lim, sk, ev, meta, line, &stop)
	}

	walkErr := r.Each(func(rl reader.RawLine) error {
		if stop {
			return nil
		}
		obsmetrics.LinesRead.WithLabelValues("sequential").Inc()
		if cfg.LineFilter != nil && !cfg.LineFilter.Allow(string(rl.Text)) {
			return nil
		}
		ck, ok := chunkers[rl.SourceID]
		if !ok {
			ck = chunker.New(cfg.ChunkerKind, cfg.ChunkerParams)
			chunkers[rl.SourceID] = ck
		}
		chunk, ready := ck.Feed(rl)
		if !ready {
			return nil
		}
		return parseAndEmit(cfg, parsers, rl.SourceID, chunk, emit)
	}, func(source string, err error) bool {
		if fatalResourceError(err) {
			return false
		}
		log.WithField("source", source).WithError(err).Warn("source read failed")
		return cfg.Resilient
	})
	if walkErr != nil {
		return kelerrors.IOError("reader", "fatal source error", walkErr)
	}

	for id, ck := range chunkers {
		if chunk, ok := ck.Flush(); ok {
			if err := parseAndEmit(cfg, parsers, id, chunk, emit); err != nil {
				return err
			}
		}
	}

	if spanMgr != nil {
		if sp := spanMgr.Flush(); sp != nil {
			if err := runSpanClose(sctx, env, cfg, win, lim, sk, sp); err != nil {
				return err
			}
		}
	}

	if cfg.Stages.End != nil {
		script.BindMetrics(env, registry)
		if _, err := script.Run(cfg.Stages.End, env); err != nil {
			return kelerrors.ScriptCompileError("end", "end stage failed", err)
		}
	}
	return cfg.Formatter.Flush(out)
}

func parseAndEmit(cfg Config, parsers map[uint32]parser.Parser, sourceID uint32, chunk chunker.Chunk, emit func(*event.Event, event.Meta, string) error) error {
	p, ok := parsers[sourceID]
	if !ok {
		p = cfg.NewParser()
		parsers[sourceID] = p
	}
	ev, err := p.Parse(chunk)
	if err != nil {
		if errors.Is(err, parser.ErrHeaderConsumed) {
			return nil
		}
		obsmetrics.ParseErrorsTotal.WithLabelValues(p.Name()).Inc()
		cfg.Log.WithError(err).Warn("parse error")
		if !cfg.Resilient {
			return kelerrors.IOError("parser", "fatal parse error", err)
		}
		return nil
	}
	meta := event.Meta{Line: chunk.Text, LineNum: chunk.StartLineNum}
	return emit(ev, meta, chunk.Text)
}

func runEvent(sctx *script.Context, env map[string]any, cfg Config, win *window.Window, spanMgr *span.Manager, lim *limiter.Limiter, sk sink, ev *event.Event, meta event.Meta, line string, stop *bool) error {
	var ts time.Time
	var hasTS bool
	if cfg.TSResolver != nil {
		ts, hasTS = cfg.TSResolver.Resolve(ev.Keys(), ev.Get)
		if hasTS {
			meta.ParsedTS, meta.HasParsedTS = ts, true
		}
	}

	if spanMgr != nil {
		status, closed := spanMgr.Assign(ev, ts, hasTS)
		meta.HasSpan = true
		meta.SpanStatus = string(status)
		if closed != nil {
			if err := runSpanClose(sctx, env, cfg, win, lim, sk, closed); err != nil {
				return err
			}
		}
	}

	script.BindEvent(env, ev, meta, line)
	script.BindWindow(env, win)
	for _, f := range cfg.Stages.Filter {
		ok, err := script.RunBool(f, env)
		if err != nil {
			if fatalResourceError(err) {
				return err
			}
			cfg.Log.WithError(err).Warn("filter stage error")
			if !cfg.Resilient {
				return kelerrors.ScriptCompileError("filter", "filter stage failed", err)
			}
			ok = false
		}
		if !ok {
			return nil
		}
	}

	snapshot := ev.Clone()
	for _, x := range cfg.Stages.Exec {
		sctx.ResetScratch()
		if _, err := script.Run(x, env); err != nil {
			if fatalResourceError(err) {
				return err
			}
			cfg.Log.WithError(err).Warn("exec stage error, rolling back event")
			if !cfg.Resilient {
				return kelerrors.ScriptCompileError("exec", "exec stage failed", err)
			}
			ev = snapshot
			script.BindEvent(env, ev, meta, line)
			continue
		}
		ev.Reconcile()
		if sctx.Skipped() {
			return nil
		}
		for _, extra := range sctx.Emitted() {
			fwd, done := lim.Allow()
			if !fwd {
				*stop = true
				return nil
			}
			extraEv := event.FromMap(sortedKeys(extra), extra)
			if err := formatOne(win, sk, extraEv, meta); err != nil {
				return err
			}
			if done {
				*stop = true
			}
		}
		if req, _ := sctx.ExitRequested(); req {
			*stop = true
			return nil
		}
	}

	fwd, done := lim.Allow()
	if !fwd {
		*stop = true
		return nil
	}
	if err := formatOne(win, sk, ev, meta); err != nil {
		return err
	}
	if done {
		*stop = true
	}
	return nil
}

func formatOne(win *window.Window, sk sink, ev *event.Event, meta event.Meta) error {
	win.Push(event.Snapshot{Event: ev.Clone(), Meta: meta})
	obsmetrics.EventsEmitted.WithLabelValues(sk.label()).Inc()
	return sk.emit(format.EventToMap(ev, meta))
}

func runSpanClose(sctx *script.Context, env map[string]any, cfg Config, win *window.Window, lim *limiter.Limiter, sk sink, sp *span.Span) error {
	if cfg.Stages.SpanClose == nil {
		return nil
	}
	sctx.ResetScratch()
	script.BindSpan(env, sp)
	if _, err := script.Run(cfg.Stages.SpanClose, env); err != nil {
		return kelerrors.ScriptCompileError("span-close", "span-close stage failed", err)
	}
	for _, extra := range sctx.Emitted() {
		if fwd, _ := lim.Allow(); !fwd {
			return nil
		}
		extraEv := event.FromMap(sortedKeys(extra), extra)
		meta := event.Meta{}
		if err := formatOne(win, sk, extraEv, meta); err != nil {
			return err
		}
	}
	return nil
}

// fatalResourceError reports whether err carries one of the resource-kind
// faults spec §7 kind 8 marks "always fatal at first offending call" (state
// touched in parallel mode, a write to a sealed conf) — these abort the run
// even in resilient mode, unlike an ordinary per-event script error.
// expr-lang wraps the builtin's returned error in its own *file.Error, which
// implements Unwrap, so errors.As still reaches the underlying *AppError.
func fatalResourceError(err error) bool {
	var appErr *kelerrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == kelerrors.CodeStateForbidden || appErr.Code == kelerrors.CodeSealedConf
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
