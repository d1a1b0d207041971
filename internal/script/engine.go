package script

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	kelerrors "kelora/pkg/errors"
)

// StageKind names which contract (spec §4.6) an expression must satisfy.
type StageKind string

const (
	StageBegin     StageKind = "begin"
	StageFilter    StageKind = "filter"
	StageExec      StageKind = "exec"
	StageEnd       StageKind = "end"
	StageSpanClose StageKind = "span-close"
)

// Stage is one compiled expression, immutable and safely shared read-only
// across every worker once compiled at startup.
type Stage struct {
	Kind   StageKind
	Source string
	prog   *vm.Program
}

// Compile compiles source once. Assignment syntax (e.field = value,
// conf.field = value, e = ()) is rewritten to builtin calls first, since
// expr-lang itself has no assignment operator outside its own `let`
// declarations (see preprocess). A compile failure is always fatal (spec §7
// kind 5), reported with the offending stage name as a usage error (exit 2).
func Compile(kind StageKind, source string) (*Stage, error) {
	rewritten, err := preprocess(source)
	if err != nil {
		return nil, kelerrors.UsageError(string(kind), fmt.Sprintf("failed to compile %s expression", kind)).Wrap(err)
	}
	prog, err := expr.Compile(rewritten, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, kelerrors.UsageError(string(kind), fmt.Sprintf("failed to compile %s expression", kind)).Wrap(err)
	}
	return &Stage{Kind: kind, Source: source, prog: prog}, nil
}

// Run evaluates the stage against env, which the caller has already
// populated with this worker's e/line/meta/conf/window/span/metrics slots
// and builtin closures.
func Run(stage *Stage, env map[string]any) (any, error) {
	return expr.Run(stage.prog, env)
}

// RunBool runs a filter-kind stage and coerces the result to bool: any
// falsy/zero/empty value is false, matching a dynamically-typed scripting
// language's truthiness rather than requiring an explicit boolean.
func RunBool(stage *Stage, env map[string]any) (bool, error) {
	v, err := Run(stage, env)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
