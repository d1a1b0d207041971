// Package script wires expr-lang/expr into kelora's pipeline: one compiled
// program per begin/filter/exec/end/span-close expression, a per-worker
// scope map holding e/line/meta/conf/window/span/metrics slots plus
// the domain builtin library, and the state-forbidden-in-parallel
// enforcement DESIGN NOTES §9 requires ("encapsulate [state] behind an
// explicit context object threaded through the pipeline; the prohibition
// in parallel mode is enforced at call sites, not by hope").
//
// Grounded on ClusterCockpit-cc-backend's internal/tagger/classifyJob.go
// ruleInfo pattern: expr.Compile once per rule/expression at startup,
// expr.Run against a freshly assembled env per evaluation. Builtins are
// bound as closures in the per-worker env map (rather than via
// expr.Function at Compile time) so one compiled *vm.Program can be shared
// read-only across every worker while each worker's closures still reach
// its own Registry/State/regex cache.
package script

import (
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"kelora/internal/state"
	"kelora/internal/tracker"
	"kelora/internal/window"
	kelerrors "kelora/pkg/errors"
)

// Mode selects sequential vs. parallel execution; State is nil and forbidden
// in Parallel mode.
type Mode int

const (
	ModeSequential Mode = iota
	ModeParallel
)

// regexCacheSize bounds the per-worker compiled-regex LRU cache. Grounded
// on the teacher's pkg/deduplication LRU (a bounded cache keyed by a
// string, evicting least-recently-used), here swapped for the real
// generic hashicorp/golang-lru/v2 the pack already depends on indirectly.
const regexCacheSize = 256

// Context is the per-worker evaluation context threaded through every
// script stage. One Context exists per sequential run or per parallel
// worker; none of its fields are shared across workers.
type Context struct {
	Mode     Mode
	Conf     map[string]any
	confSeal bool
	State    *state.State
	Registry *tracker.Registry
	Window   *window.Window
	Secret   string

	regexCache *lru.Cache[string, *regexp.Regexp]
	sampleN    map[string]int64
	log        *logrus.Entry

	// per-exec-call scratch: emitted and skipped are reset by the driver
	// before each stage run; an exit() request stays recorded.
	emitted  []map[string]any
	skipped  bool
	exitReq  bool
	exitCode int
}

// NewContext builds a fresh per-worker Context. secret seeds the pseudonym
// builtin (from KELORA_SECRET); registry and win may be nil when unused by
// the configured pipeline (e.g. no --window configured).
func NewContext(mode Mode, registry *tracker.Registry, win *window.Window, secret string, log *logrus.Entry) *Context {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	c := &Context{
		Mode:       mode,
		Conf:       make(map[string]any),
		Registry:   registry,
		Window:     win,
		Secret:     secret,
		regexCache: cache,
		sampleN:    make(map[string]int64),
		log:        log,
	}
	if mode == ModeSequential {
		c.State = state.New()
	}
	return c
}

// SealConf freezes Conf after the begin stage, per spec §3/§7 kind 8.
func (c *Context) SealConf() { c.confSeal = true }

// requireState returns the sequential-mode State or raises the typed fatal
// error spec §5/§7 kind 8 requires when a builtin touches state from a
// parallel worker. This is the single call-site every state-touching
// builtin routes through, per DESIGN NOTES §9's "enforced at call sites,
// not by hope".
func (c *Context) requireState(builtin string) (*state.State, error) {
	if c.Mode == ModeParallel {
		return nil, kelerrors.StateForbiddenError(builtin)
	}
	return c.State, nil
}

// resetScratch clears emit_each/skip bookkeeping before a stage runs; an
// exit() request is kept.
func (c *Context) resetScratch() {
	c.emitted = nil
	c.skipped = false
}

// ResetScratch is the exported form resetScratch, for driver packages that
// need to clear emit_each/skip bookkeeping between exec stages.
func (c *Context) ResetScratch() { c.resetScratch() }

// Emitted returns events queued by emit_each during the just-completed exec
// stage.
func (c *Context) Emitted() []map[string]any { return c.emitted }

// Skipped reports whether the just-completed stage called skip().
func (c *Context) Skipped() bool { return c.skipped }

// ExitRequested reports whether exit() was called, and with which code.
func (c *Context) ExitRequested() (bool, int) { return c.exitReq, c.exitCode }
