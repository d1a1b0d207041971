// Package cliconfig parses kelora's command-line surface with the standard
// library flag package, the teacher's own choice (cmd/main.go's single
// flag.StringVar/flag.Parse), and builds a pipeline.Config from it. CLI
// parsing/help generation is explicitly out of scope for elaboration (spec
// §1 Non-goals), so this registers a subset of the flags spec §6 lists
// directly rather than building a generic flag framework; a flag that is not
// registered here is rejected as a usage error.
package cliconfig

import (
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"kelora/internal/chunker"
	"kelora/internal/format"
	"kelora/internal/linefilter"
	"kelora/internal/parser"
	"kelora/internal/pipeline"
	"kelora/internal/reader"
	"kelora/internal/script"
	"kelora/internal/span"
	"kelora/internal/tsresolve"
	kelerrors "kelora/pkg/errors"
)

// repeatedFlag accumulates repeatable string flags (--filter, -e, --keep-lines, ...).
type repeatedFlag []string

func (r *repeatedFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

// Options is the parsed, not-yet-compiled form of the CLI surface.
type Options struct {
	Paths      []string
	FileOrder  string
	InputFmt   string
	ColsSep    string
	Multiline  string
	ExtractPfx string
	PrefixSep  string

	KeepLines   repeatedFlag
	IgnoreLines repeatedFlag

	TSField string
	TSFmt   string
	InputTZ string

	Begin     string
	Filter    repeatedFlag
	Exec      repeatedFlag
	ExecFile  string
	EndExpr   string
	SpanClose string
	Window    int
	Span      string

	OutputFmt   string
	Keys        string
	ExcludeKeys string
	Take        int64

	Parallel   bool
	Threads    int
	Unordered  bool
	Strict     bool
	ShowConfig bool

	MetricsAddr string
}

// Parse parses argv (excluding the program name) into Options.
func Parse(argv []string) (*Options, error) {
	fs := flag.NewFlagSet("kelora", flag.ContinueOnError)
	opts := &Options{}

	fs.StringVar(&opts.FileOrder, "file-order", "cli", "cli|name|mtime")
	fs.StringVar(&opts.InputFmt, "f", "auto", "input format")
	fs.StringVar(&opts.InputFmt, "input-format", "auto", "input format")
	fs.StringVar(&opts.ColsSep, "cols-sep", "", "column separator for columnspec format")
	fs.StringVar(&opts.Multiline, "M", "", "multiline strategy[:params]")
	fs.StringVar(&opts.ExtractPfx, "extract-prefix", "", "field to extract a fixed prefix into")
	fs.StringVar(&opts.PrefixSep, "prefix-sep", "", "prefix separator")

	fs.Var(&opts.KeepLines, "keep-lines", "keep only lines matching REGEX (repeatable)")
	fs.Var(&opts.IgnoreLines, "ignore-lines", "ignore lines matching REGEX (repeatable)")

	fs.StringVar(&opts.TSField, "ts-field", "", "explicit timestamp field")
	fs.StringVar(&opts.TSFmt, "ts-format", "", "explicit timestamp layout")
	fs.StringVar(&opts.InputTZ, "input-tz", "", "timezone for naive timestamps")

	fs.StringVar(&opts.Begin, "begin", "", "begin expression")
	fs.Var(&opts.Filter, "filter", "filter expression (repeatable)")
	fs.Var(&opts.Exec, "e", "exec expression (repeatable)")
	fs.Var(&opts.Exec, "exec", "exec expression (repeatable)")
	fs.StringVar(&opts.ExecFile, "E", "", "exec expression file")
	fs.StringVar(&opts.ExecFile, "exec-file", "", "exec expression file")
	fs.StringVar(&opts.EndExpr, "end", "", "end expression")
	fs.StringVar(&opts.SpanClose, "span-close", "", "span-close expression")
	fs.IntVar(&opts.Window, "window", 0, "sliding window size")
	fs.StringVar(&opts.Span, "span", "", "span policy: count:N|time:D|field:NAME|idle:D")

	fs.StringVar(&opts.OutputFmt, "F", "jsonlines", "output format")
	fs.StringVar(&opts.OutputFmt, "output-format", "jsonlines", "output format")
	fs.StringVar(&opts.Keys, "k", "", "explicit output keys (comma-separated)")
	fs.StringVar(&opts.Keys, "keys", "", "explicit output keys (comma-separated)")
	fs.StringVar(&opts.ExcludeKeys, "K", "", "excluded output keys (comma-separated)")
	fs.StringVar(&opts.ExcludeKeys, "exclude-keys", "", "excluded output keys (comma-separated)")
	fs.Int64Var(&opts.Take, "take", 0, "stop after N emitted events (0 = unlimited)")

	fs.BoolVar(&opts.Parallel, "parallel", false, "enable parallel mode")
	fs.IntVar(&opts.Threads, "threads", 0, "worker count in parallel mode (0 = number of CPUs; never more than the number of sources)")
	fs.BoolVar(&opts.Unordered, "unordered", false, "skip reordering in parallel mode")
	fs.BoolVar(&opts.Strict, "strict", false, "abort the run on the first recoverable error")
	fs.BoolVar(&opts.ShowConfig, "show-config", false, "print the resolved configuration and exit")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve ambient process metrics at this address (opt-in, off by default)")

	if err := fs.Parse(argv); err != nil {
		return nil, kelerrors.UsageError("parse", err.Error())
	}
	opts.Paths = fs.Args()
	return opts, nil
}

// Build turns parsed Options into a pipeline.Config, compiling every script
// expression up front (spec §4.6: compiled once at startup).
func Build(opts *Options, log *logrus.Logger, stdout, stderr io.Writer) (pipeline.Config, error) {
	cfg := pipeline.Config{
		Resilient: !opts.Strict,
		Secret:    os.Getenv("KELORA_SECRET"),
		Stdout:    stdout,
		Stderr:    stderr,
		Log:       log,
		Take:      opts.Take,
		WindowCapacity: opts.Window,
	}

	for _, p := range opts.Paths {
		cfg.Sources = append(cfg.Sources, reader.Source{Path: p})
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = []reader.Source{{Path: "-"}}
	}

	order, err := parseOrder(opts.FileOrder)
	if err != nil {
		return cfg, err
	}
	cfg.Order = order

	kind, params, err := parseMultiline(opts.Multiline)
	if err != nil {
		return cfg, err
	}
	cfg.ChunkerKind = kind
	cfg.ChunkerParams = params

	lf, err := buildLineFilter(opts.KeepLines, opts.IgnoreLines)
	if err != nil {
		return cfg, err
	}
	cfg.LineFilter = lf

	newParser, err := buildParserFactory(opts.InputFmt, opts.ColsSep)
	if err != nil {
		return cfg, err
	}
	cfg.NewParser = newParser

	if opts.TSField != "" || opts.TSFmt != "" || opts.InputTZ != "" {
		loc := time.UTC
		if opts.InputTZ != "" {
			l, err := time.LoadLocation(opts.InputTZ)
			if err != nil {
				return cfg, kelerrors.UsageError("input-tz", fmt.Sprintf("invalid timezone %q", opts.InputTZ))
			}
			loc = l
		}
		cfg.TSResolver = tsresolve.New(opts.TSField, opts.TSFmt, loc)
	} else {
		cfg.TSResolver = tsresolve.New("", "", time.UTC)
	}

	if opts.Span != "" {
		policy, err := parseSpan(opts.Span)
		if err != nil {
			return cfg, err
		}
		cfg.SpanPolicy = &policy
	}

	formatter, err := format.New(opts.OutputFmt, format.Options{
		Keys:        splitNonEmpty(opts.Keys),
		ExcludeKeys: splitNonEmpty(opts.ExcludeKeys),
	})
	if err != nil {
		return cfg, kelerrors.UsageError("output-format", err.Error())
	}
	cfg.Formatter = formatter

	stages, err := buildStages(opts)
	if err != nil {
		return cfg, err
	}
	cfg.Stages = stages

	return cfg, nil
}

func parseOrder(s string) (reader.Order, error) {
	switch s {
	case "", "cli":
		return reader.OrderCLI, nil
	case "name":
		return reader.OrderName, nil
	case "mtime":
		return reader.OrderMTime, nil
	default:
		return 0, kelerrors.UsageError("file-order", fmt.Sprintf("unknown file order %q", s))
	}
}

func buildLineFilter(keep, ignore repeatedFlag) (*linefilter.Filter, error) {
	keepP, err := compilePatterns(keep)
	if err != nil {
		return nil, err
	}
	ignoreP, err := compilePatterns(ignore)
	if err != nil {
		return nil, err
	}
	return linefilter.New(keepP, ignoreP), nil
}

func compilePatterns(exprs []string) ([]linefilter.Pattern, error) {
	out := make([]linefilter.Pattern, 0, len(exprs))
	for _, e := range exprs {
		p, err := linefilter.Regex(e)
		if err != nil {
			return nil, kelerrors.UsageError("keep-lines/ignore-lines", err.Error())
		}
		out = append(out, p)
	}
	return out, nil
}

func compileRe(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, kelerrors.UsageError("-M", fmt.Sprintf("invalid regex %q: %s", pattern, err))
	}
	return re, nil
}

func parseMultiline(spec string) (chunker.Kind, chunker.Params, error) {
	if spec == "" {
		return chunker.KindNone, chunker.Params{}, nil
	}
	strategy, params, _ := strings.Cut(spec, ":")
	switch strategy {
	case "timestamp":
		if params == "" {
			// No explicit regex: a leading ISO-8601 date-time or a
			// syslog-style "Mon DD HH:MM:SS" stamp starts a new chunk.
			params = `^(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}|[A-Z][a-z]{2} [ \d]\d \d{2}:\d{2}:\d{2})`
		}
		re, err := compileRe(params)
		return chunker.KindTimestamp, chunker.Params{StartRegex: re}, err
	case "indent":
		return chunker.KindIndent, chunker.Params{}, nil
	case "start":
		re, err := compileRe(params)
		return chunker.KindStart, chunker.Params{StartRegex: re}, err
	case "end":
		re, err := compileRe(params)
		return chunker.KindEnd, chunker.Params{EndRegex: re}, err
	case "boundary":
		startEnd := strings.SplitN(params, ",", 2)
		p := chunker.Params{}
		if len(startEnd) > 0 {
			re, err := compileRe(startEnd[0])
			if err != nil {
				return chunker.KindNone, chunker.Params{}, err
			}
			p.StartRegex = re
		}
		if len(startEnd) > 1 {
			re, err := compileRe(startEnd[1])
			if err != nil {
				return chunker.KindNone, chunker.Params{}, err
			}
			p.EndRegex = re
		}
		return chunker.KindBoundary, p, nil
	case "backslash":
		return chunker.KindBackslash, chunker.Params{}, nil
	case "whole":
		return chunker.KindWhole, chunker.Params{}, nil
	default:
		return chunker.KindNone, chunker.Params{}, kelerrors.UsageError("-M", fmt.Sprintf("unknown multiline strategy %q", strategy))
	}
}

func buildParserFactory(name, colsSep string) (func() parser.Parser, error) {
	switch name {
	case "", "auto":
		return func() parser.Parser { return parser.NewAutoParser(nil, nil) }, nil
	case "json":
		return func() parser.Parser { return &parser.JSONParser{} }, nil
	case "logfmt":
		return func() parser.Parser { return &parser.LogfmtParser{} }, nil
	case "syslog":
		return func() parser.Parser { return &parser.SyslogParser{} }, nil
	case "cef":
		return func() parser.Parser { return &parser.CEFParser{} }, nil
	case "combined":
		return func() parser.Parser { return &parser.CombinedParser{} }, nil
	case "csv":
		return func() parser.Parser { return &parser.TabularParser{Delimiter: ',', HasHeader: true} }, nil
	case "tsv":
		return func() parser.Parser { return &parser.TabularParser{Delimiter: '\t', HasHeader: true} }, nil
	case "line":
		return func() parser.Parser { return parser.LineParser{} }, nil
	case "raw":
		return func() parser.Parser { return parser.RawParser{} }, nil
	default:
		spec, err := parser.ParseSpec(name)
		if err != nil {
			return nil, kelerrors.UsageError("input-format", fmt.Sprintf("unknown input format %q", name))
		}
		sep := colsSep
		return func() parser.Parser { return &parser.ColumnSpecParser{Spec: spec, Separator: sep} }, nil
	}
}

func parseSpan(spec string) (span.Policy, error) {
	kind, params, _ := strings.Cut(spec, ":")
	switch kind {
	case "count":
		n, err := strconv.Atoi(params)
		if err != nil {
			return span.Policy{}, kelerrors.UsageError("span", fmt.Sprintf("invalid count %q", params))
		}
		return span.Policy{Kind: span.PolicyCount, Count: n}, nil
	case "time":
		d, err := time.ParseDuration(params)
		if err != nil {
			return span.Policy{}, kelerrors.UsageError("span", fmt.Sprintf("invalid duration %q", params))
		}
		return span.Policy{Kind: span.PolicyTime, Duration: d}, nil
	case "field":
		return span.Policy{Kind: span.PolicyField, FieldName: params}, nil
	case "idle":
		d, err := time.ParseDuration(params)
		if err != nil {
			return span.Policy{}, kelerrors.UsageError("span", fmt.Sprintf("invalid duration %q", params))
		}
		return span.Policy{Kind: span.PolicyIdle, Duration: d}, nil
	default:
		return span.Policy{}, kelerrors.UsageError("span", fmt.Sprintf("unknown span kind %q", kind))
	}
}

func buildStages(opts *Options) (pipeline.Stages, error) {
	var stages pipeline.Stages
	var err error
	if opts.Begin != "" {
		if stages.Begin, err = script.Compile(script.StageBegin, opts.Begin); err != nil {
			return stages, err
		}
	}
	for _, f := range opts.Filter {
		st, err := script.Compile(script.StageFilter, f)
		if err != nil {
			return stages, err
		}
		stages.Filter = append(stages.Filter, st)
	}
	execSources := append([]string(nil), opts.Exec...)
	if opts.ExecFile != "" {
		b, err := os.ReadFile(opts.ExecFile)
		if err != nil {
			return stages, kelerrors.IOError(opts.ExecFile, "cannot read exec file", err)
		}
		execSources = append(execSources, string(b))
	}
	for _, x := range execSources {
		st, err := script.Compile(script.StageExec, x)
		if err != nil {
			return stages, err
		}
		stages.Exec = append(stages.Exec, st)
	}
	if opts.EndExpr != "" {
		if stages.End, err = script.Compile(script.StageEnd, opts.EndExpr); err != nil {
			return stages, err
		}
	}
	if opts.SpanClose != "" {
		if stages.SpanClose, err = script.Compile(script.StageSpanClose, opts.SpanClose); err != nil {
			return stages, err
		}
	}
	return stages, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
