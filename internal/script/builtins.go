package script

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/cespare/xxhash/v2"

	"kelora/internal/event"
	kelerrors "kelora/pkg/errors"
)

// fn0 is the uniform builtin signature bound into every worker's env map;
// expr-lang calls these through reflection like any other Go func value.
type fn0 = func(args ...any) (any, error)

// Env builds the per-worker script environment: the conf slot plus the
// domain builtin library, all closing over ctx so every call reaches this
// worker's registry/state/regex cache without touching another worker's.
// The e/line/meta/window/span/metrics slots are filled by the Bind* helpers
// in scope.go.
func (c *Context) Env(stdout, stderr io.Writer) map[string]any {
	env := map[string]any{
		"conf": c.Conf,
	}

	reg := func(name string, f fn0) { env[name] = f }

	// unit is what preprocess() rewrites a bare `()` literal into: expr-lang's
	// own grouping parens always require a contained expression, so the
	// empty-tuple spelling of the unit sentinel has to compile down to a call.
	reg("unit", func(args ...any) (any, error) { return event.UnitValue, nil })

	// set is the mutation primitive the preprocess() rewrite of
	// `e.field = value` / `conf.field = value` compiles down to, since
	// expr-lang has no assignment operator of its own to call through.
	// Assigning event.UnitValue removes the key: Reconcile (run after every
	// exec stage) drops any field whose value is Unit.
	reg("set", func(args ...any) (any, error) {
		if len(args) != 3 {
			return nil, fmt.Errorf("set(target, key, value) takes 3 arguments")
		}
		m, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("set() target must be a map (e or conf)")
		}
		if c.confSeal && sameMap(m, c.Conf) {
			return nil, kelerrors.SealedConfError()
		}
		m[toString(args[1])] = args[2]
		return event.UnitValue, nil
	})

	reg("regex_match", func(args ...any) (any, error) {
		re, s, err := regexArgs(c, args)
		if err != nil {
			return nil, err
		}
		return re.MatchString(s), nil
	})
	reg("regex_find", func(args ...any) (any, error) {
		re, s, err := regexArgs(c, args)
		if err != nil {
			return nil, err
		}
		m := re.FindString(s)
		if m == "" && !re.MatchString(s) {
			return event.UnitValue, nil
		}
		return m, nil
	})
	reg("regex_extract", func(args ...any) (any, error) {
		re, s, err := regexArgs(c, args)
		if err != nil {
			return nil, err
		}
		m := re.FindStringSubmatch(s)
		if m == nil {
			return event.UnitValue, nil
		}
		out := make(map[string]any)
		for i, name := range re.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			out[name] = m[i]
		}
		return out, nil
	})

	reg("glob_match", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("glob_match(pattern, value) takes 2 arguments")
		}
		ok, err := filepath.Match(toString(args[0]), toString(args[1]))
		if err != nil {
			return nil, err
		}
		return ok, nil
	})

	reg("levenshtein", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("levenshtein(a, b) takes 2 arguments")
		}
		return int64(levenshtein.ComputeDistance(toString(args[0]), toString(args[1]))), nil
	})

	reg("sha256_hex", func(args ...any) (any, error) {
		sum := sha256.Sum256([]byte(toString(arg0(args))))
		return hex.EncodeToString(sum[:]), nil
	})
	reg("xxh3", func(args ...any) (any, error) {
		return int64(xxhash.Sum64String(toString(arg0(args)))), nil
	})
	reg("base64_encode", func(args ...any) (any, error) {
		return base64.StdEncoding.EncodeToString([]byte(toString(arg0(args)))), nil
	})
	reg("base64_decode", func(args ...any) (any, error) {
		b, err := base64.StdEncoding.DecodeString(toString(arg0(args)))
		if err != nil {
			return event.UnitValue, nil
		}
		return string(b), nil
	})
	reg("hex_encode", func(args ...any) (any, error) {
		return hex.EncodeToString([]byte(toString(arg0(args)))), nil
	})
	reg("hex_decode", func(args ...any) (any, error) {
		b, err := hex.DecodeString(toString(arg0(args)))
		if err != nil {
			return event.UnitValue, nil
		}
		return string(b), nil
	})
	reg("url_encode", func(args ...any) (any, error) {
		return url.QueryEscape(toString(arg0(args))), nil
	})
	reg("url_decode", func(args ...any) (any, error) {
		s, err := url.QueryUnescape(toString(arg0(args)))
		if err != nil {
			return event.UnitValue, nil
		}
		return s, nil
	})
	reg("ip_in_cidr", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("ip_in_cidr(ip, cidr) takes 2 arguments")
		}
		ip := net.ParseIP(toString(args[0]))
		_, cidr, err := net.ParseCIDR(toString(args[1]))
		if ip == nil || err != nil {
			return false, nil
		}
		return cidr.Contains(ip), nil
	})
	reg("pseudonym", func(args ...any) (any, error) {
		mac := hmac.New(sha256.New, []byte(c.Secret))
		mac.Write([]byte(toString(arg0(args))))
		return hex.EncodeToString(mac.Sum(nil))[:16], nil
	})
	reg("status_class", func(args ...any) (any, error) {
		n := toInt(arg0(args))
		return fmt.Sprintf("%dxx", n/100), nil
	})

	reg("now", func(args ...any) (any, error) { return time.Now().UTC(), nil })
	reg("parse_time", func(args ...any) (any, error) {
		if len(args) < 2 {
			return event.UnitValue, nil
		}
		t, err := time.Parse(toString(args[1]), toString(args[0]))
		if err != nil {
			return event.UnitValue, nil
		}
		return t.UTC(), nil
	})
	reg("format_time", func(args ...any) (any, error) {
		if len(args) < 2 {
			return event.UnitValue, nil
		}
		t, ok := args[0].(time.Time)
		if !ok {
			return event.UnitValue, nil
		}
		return t.Format(toString(args[1])), nil
	})
	reg("parse_duration", func(args ...any) (any, error) {
		d, err := time.ParseDuration(toString(arg0(args)))
		if err != nil {
			return event.UnitValue, nil
		}
		return d, nil
	})

	reg("sorted", func(args ...any) (any, error) {
		arr := toSlice(arg0(args))
		out := append([]any(nil), arr...)
		sort.Slice(out, func(i, j int) bool { return lessAny(out[i], out[j]) })
		return out, nil
	})
	reg("sorted_by", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("sorted_by(array, field) takes 2 arguments")
		}
		arr := toSlice(args[0])
		field := toString(args[1])
		out := append([]any(nil), arr...)
		sort.SliceStable(out, func(i, j int) bool {
			return lessAny(fieldOf(out[i], field), fieldOf(out[j], field))
		})
		return out, nil
	})
	reg("pluck", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("pluck(array, field) takes 2 arguments")
		}
		arr := toSlice(args[0])
		field := toString(args[1])
		out := make([]any, 0, len(arr))
		for _, v := range arr {
			out = append(out, fieldOf(v, field))
		}
		return out, nil
	})
	reg("pluck_as_nums", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("pluck_as_nums(array, field) takes 2 arguments")
		}
		arr := toSlice(args[0])
		field := toString(args[1])
		out := make([]any, 0, len(arr))
		for _, v := range arr {
			f := fieldOf(v, field)
			if n, ok := toFloatOK(f); ok {
				out = append(out, n)
			}
		}
		return out, nil
	})
	reg("flattened", func(args ...any) (any, error) {
		out := make(map[string]any)
		flattenInto(toMap(arg0(args)), "", out)
		return out, nil
	})
	reg("unflatten", func(args ...any) (any, error) {
		return unflattenMap(toMap(arg0(args))), nil
	})
	reg("get_path", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("get_path(map, path) takes 2 arguments")
		}
		v, ok := getPath(toMap(args[0]), toString(args[1]))
		if !ok {
			return event.UnitValue, nil
		}
		return v, nil
	})
	reg("has_path", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("has_path(map, path) takes 2 arguments")
		}
		_, ok := getPath(toMap(args[0]), toString(args[1]))
		return ok, nil
	})

	reg("emit_each", func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("emit_each(array [, base_map]) requires at least 1 argument")
		}
		arr := toSlice(args[0])
		var base map[string]any
		if len(args) > 1 {
			base = toMap(args[1])
		}
		for _, item := range arr {
			m := make(map[string]any)
			for k, v := range base {
				m[k] = v
			}
			if im, ok := item.(map[string]any); ok {
				for k, v := range im {
					m[k] = v
				}
			} else {
				m["value"] = item
			}
			c.emitted = append(c.emitted, m)
		}
		return event.UnitValue, nil
	})

	reg("absorb_kv", func(args ...any) (any, error) { return absorbInto(args, parseKVPairs) })
	reg("absorb_json", func(args ...any) (any, error) { return absorbInto(args, parseJSONPairs) })
	reg("absorb_regex", func(args ...any) (any, error) { return absorbRegex(args) })

	reg("track_count", func(args ...any) (any, error) {
		if c.Registry != nil {
			c.Registry.Count(toString(arg0(args)))
		}
		return event.UnitValue, nil
	})
	reg("track_sum", func(args ...any) (any, error) { return trackNumeric(c, args, c.Registry.Sum) })
	reg("track_min", func(args ...any) (any, error) { return trackNumeric(c, args, c.Registry.Min) })
	reg("track_max", func(args ...any) (any, error) { return trackNumeric(c, args, c.Registry.Max) })
	reg("track_avg", func(args ...any) (any, error) { return trackNumeric(c, args, c.Registry.Avg) })
	reg("track_unique", func(args ...any) (any, error) {
		if len(args) != 2 || event.IsUnit(args[1]) {
			return event.UnitValue, nil
		}
		c.Registry.Unique(toString(args[0]), toString(args[1]))
		return event.UnitValue, nil
	})
	reg("track_bucket", func(args ...any) (any, error) {
		if len(args) != 2 || event.IsUnit(args[1]) {
			return event.UnitValue, nil
		}
		c.Registry.Bucket(toString(args[0]), toString(args[1]))
		return event.UnitValue, nil
	})
	reg("track_top", func(args ...any) (any, error) { return trackTop(c, args, true) })
	reg("track_bottom", func(args ...any) (any, error) { return trackTop(c, args, false) })
	reg("track_percentiles", func(args ...any) (any, error) { return trackSketch(c, args, false) })
	reg("track_stats", func(args ...any) (any, error) { return trackSketch(c, args, true) })

	reg("state_get", func(args ...any) (any, error) {
		st, err := c.requireState("state_get")
		if err != nil {
			return nil, err
		}
		v, ok := st.Get(toString(arg0(args)))
		if !ok {
			return event.UnitValue, nil
		}
		return v, nil
	})
	reg("state_set", func(args ...any) (any, error) {
		st, err := c.requireState("state_set")
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("state_set(key, value) takes 2 arguments")
		}
		st.Set(toString(args[0]), args[1])
		return event.UnitValue, nil
	})
	reg("state_contains", func(args ...any) (any, error) {
		st, err := c.requireState("state_contains")
		if err != nil {
			return nil, err
		}
		return st.Contains(toString(arg0(args))), nil
	})
	reg("state_remove", func(args ...any) (any, error) {
		st, err := c.requireState("state_remove")
		if err != nil {
			return nil, err
		}
		st.Remove(toString(arg0(args)))
		return event.UnitValue, nil
	})
	reg("state_keys", func(args ...any) (any, error) {
		st, err := c.requireState("state_keys")
		if err != nil {
			return nil, err
		}
		keys := st.Keys()
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	})
	reg("state_clear", func(args ...any) (any, error) {
		st, err := c.requireState("state_clear")
		if err != nil {
			return nil, err
		}
		st.Clear()
		return event.UnitValue, nil
	})

	reg("skip", func(args ...any) (any, error) {
		c.skipped = true
		return event.UnitValue, nil
	})
	reg("exit", func(args ...any) (any, error) {
		c.exitReq = true
		if len(args) > 0 {
			c.exitCode = int(toInt(args[0]))
		}
		return event.UnitValue, nil
	})
	reg("print", func(args ...any) (any, error) {
		fmt.Fprintln(stdout, joinArgs(args))
		return event.UnitValue, nil
	})
	reg("eprint", func(args ...any) (any, error) {
		fmt.Fprintln(stderr, joinArgs(args))
		return event.UnitValue, nil
	})
	reg("sample_every", func(args ...any) (any, error) {
		n := toInt(arg0(args))
		if n <= 0 {
			return true, nil
		}
		c.sampleN["_default"]++
		return c.sampleN["_default"]%n == 0, nil
	})

	return env
}

// sameMap reports whether a and b are the same underlying map value, used
// to detect a set() call targeting conf so the seal check applies.
func sameMap(a, b map[string]any) bool {
	if a == nil || b == nil {
		return false
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func arg0(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = toString(a)
	}
	return strings.Join(parts, " ")
}

func regexArgs(c *Context, args []any) (*regexp.Regexp, string, error) {
	if len(args) != 2 {
		return nil, "", fmt.Errorf("regex builtin takes (pattern, value)")
	}
	pattern := toString(args[0])
	re, ok := c.regexCache.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, "", err
		}
		c.regexCache.Add(pattern, re)
	}
	return re, toString(args[1]), nil
}

func trackNumeric(c *Context, args []any, fn func(key string, v float64)) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("track builtin takes (key, value)")
	}
	if event.IsUnit(args[1]) {
		return event.UnitValue, nil
	}
	fn(toString(args[0]), toFloat(args[1]))
	return event.UnitValue, nil
}

func trackTop(c *Context, args []any, top bool) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("track_top/track_bottom take (key, item, n [, weight])")
	}
	if event.IsUnit(args[1]) {
		return event.UnitValue, nil
	}
	key := toString(args[0])
	item := toString(args[1])
	n := int(toInt(args[2]))
	weight := 1.0
	if len(args) > 3 {
		weight = toFloat(args[3])
	}
	if top {
		c.Registry.Top(key, item, n, weight)
	} else {
		c.Registry.Bottom(key, item, n, weight)
	}
	return event.UnitValue, nil
}

func trackSketch(c *Context, args []any, stats bool) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("track_percentiles/track_stats take (key, value [, pcts])")
	}
	if event.IsUnit(args[1]) {
		return event.UnitValue, nil
	}
	key := toString(args[0])
	v := toFloat(args[1])
	var pcts []float64
	if len(args) > 2 {
		for _, p := range toSlice(args[2]) {
			pcts = append(pcts, toFloat(p))
		}
	}
	if stats {
		c.Registry.Stats(key, v, pcts)
	} else {
		c.Registry.Percentiles(key, v, pcts)
	}
	return event.UnitValue, nil
}

// ---- conversions ----

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) float64 {
	f, _ := toFloatOK(v)
	return f
}

func toFloatOK(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func toSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		return []any{t}
	}
}

func toMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case *event.Event:
		return t.ToMap()
	default:
		return map[string]any{}
	}
}

func fieldOf(v any, field string) any {
	m := toMap(v)
	return m[field]
}

func lessAny(a, b any) bool {
	if af, ok := toFloatOK(a); ok {
		if bf, ok := toFloatOK(b); ok {
			return af < bf
		}
	}
	return toString(a) < toString(b)
}

func flattenInto(m map[string]any, prefix string, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch nested := v.(type) {
		case map[string]any:
			flattenInto(nested, key, out)
		case *event.Event:
			flattenInto(nested.ToMap(), key, out)
		default:
			out[key] = v
		}
	}
}

func unflattenMap(m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		parts := strings.Split(k, ".")
		cur := out
		for i, p := range parts {
			if i == len(parts)-1 {
				cur[p] = v
				continue
			}
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
	}
	return out
}

func getPath(m map[string]any, path string) (any, bool) {
	cur := any(m)
	for _, p := range strings.Split(path, ".") {
		cm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := cm[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// ---- absorb_* ----

func absorbInto(args []any, parse func(string) (map[string]any, error)) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("absorb builtin takes (target_map, source_string [, options])")
	}
	target := toMap(args[0])
	parsed, err := parse(toString(args[1]))
	if err != nil {
		return map[string]any{"status": "parse_error"}, nil
	}
	overwrite, keepSource := absorbOptions(args)
	for k, v := range parsed {
		if _, exists := target[k]; exists && !overwrite {
			continue
		}
		target[k] = v
	}
	status := map[string]any{"status": "ok", "keys": keysOf(parsed)}
	if keepSource {
		status["source_kept"] = true
	}
	return status, nil
}

func absorbOptions(args []any) (overwrite bool, keepSource bool) {
	overwrite = true
	if len(args) > 2 {
		if opts, ok := args[2].(map[string]any); ok {
			if v, ok := opts["overwrite"].(bool); ok {
				overwrite = v
			}
			if v, ok := opts["keep_source"].(bool); ok {
				keepSource = v
			}
		}
	}
	return
}

func keysOf(m map[string]any) []any {
	out := make([]any, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].(string) < out[j].(string) })
	return out
}

func parseKVPairs(s string) (map[string]any, error) {
	out := make(map[string]any)
	for _, tok := range strings.Fields(s) {
		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			continue
		}
		out[tok[:eq]] = tok[eq+1:]
	}
	return out, nil
}

func parseJSONPairs(s string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func absorbRegex(args []any) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("absorb_regex(target_map, source_string, pattern) takes at least 3 arguments")
	}
	target := toMap(args[0])
	source := toString(args[1])
	pattern := toString(args[2])
	re, err := regexp.Compile(pattern)
	if err != nil {
		return map[string]any{"status": "parse_error"}, nil
	}
	m := re.FindStringSubmatch(source)
	if m == nil {
		return map[string]any{"status": "parse_error"}, nil
	}
	parsed := make(map[string]any)
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		parsed[name] = m[i]
	}
	overwrite, keepSource := absorbOptions(args[1:])
	for k, v := range parsed {
		if _, exists := target[k]; exists && !overwrite {
			continue
		}
		target[k] = v
	}
	status := map[string]any{"status": "ok", "keys": keysOf(parsed)}
	if keepSource {
		status["source_kept"] = true
	}
	return status, nil
}
