// Package linefilter applies the pre-chunking keep/ignore line filters
// described in spec §4.2. Grounded on the teacher's regex-based processor
// step pattern in internal/processing/log_processor.go (CompiledStep wraps
// a pre-compiled *regexp.Regexp so matching never recompiles per line).
package linefilter

import "regexp"

// Pattern is either a literal substring or a compiled regular expression.
type Pattern struct {
	literal string
	re      *regexp.Regexp
}

// Literal returns a substring-match pattern.
func Literal(s string) Pattern { return Pattern{literal: s} }

// Regex compiles src and returns a regex pattern, or an error if invalid.
func Regex(src string) (Pattern, error) {
	re, err := regexp.Compile(src)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{re: re}, nil
}

func (p Pattern) match(s string) bool {
	if p.re != nil {
		return p.re.MatchString(s)
	}
	return indexOf(s, p.literal) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

// Filter holds the ordered keep/ignore pattern sets.
type Filter struct {
	keep   []Pattern
	ignore []Pattern
}

// New builds a Filter from keep and ignore pattern lists.
func New(keep, ignore []Pattern) *Filter {
	return &Filter{keep: keep, ignore: ignore}
}

// Allow reports whether line should proceed to the chunker: it is dropped
// if any ignore pattern matches, or if keep is non-empty and no keep
// pattern matches.
func (f *Filter) Allow(line string) bool {
	for _, p := range f.ignore {
		if p.match(line) {
			return false
		}
	}
	if len(f.keep) == 0 {
		return true
	}
	for _, p := range f.keep {
		if p.match(line) {
			return true
		}
	}
	return false
}
