// Package filter encodes a single output-filter specification and renders
// it two equivalent ways: as a shell pipeline suffix appended to a remote
// command, or as an in-memory transform over already-fetched text.
//
// Both renderings apply the same fixed stage order: pattern match, sort,
// adjacent deduplication, head/tail bound, count. The order matters:
// deduplicating after sorting collapses globally, deduplicating unsorted
// input collapses only adjacent runs, and both sides must agree on which
// one they mean.
package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// CountMode selects the final count transform. When set, the pipeline
// reports a count instead of the filtered text.
type CountMode string

const (
	CountNone  CountMode = ""
	CountLines CountMode = "lines"
	CountWords CountMode = "words"
	CountBytes CountMode = "bytes"
)

// Spec is a single filter specification, derived once per invocation.
// The zero value filters nothing.
type Spec struct {
	// Pattern keeps lines matching a regular expression. Patterns that do
	// not compile are matched as literal substrings instead (grep -F on
	// the remote side), so both paths stay deterministic.
	//
	// Compiling patterns are evaluated as RE2 locally and as POSIX ERE by
	// the remote grep; stick to the shared subset. Perl shorthands such
	// as \d, \b or \s compile locally but mean something else (or
	// nothing) to grep -E.
	Pattern         string
	CaseInsensitive bool

	// Sort orders lines ascending (byte order, stable).
	Sort bool

	// Unique collapses adjacent duplicate lines only, mirroring uniq(1).
	// Combine with Sort for global deduplication.
	Unique bool

	// Head and Tail bound the line count. When both are set, Head applies
	// first.
	Head int
	Tail int

	Count CountMode
}

// IsZero reports whether the spec performs no filtering at all.
func (s Spec) IsZero() bool {
	return s.Pattern == "" && !s.Sort && !s.Unique && s.Head == 0 && s.Tail == 0 && s.Count == CountNone
}

// Validate checks field ranges. It reports every problem, not just the
// first.
func (s Spec) Validate() error {
	var errs error
	if s.Head < 0 {
		errs = multierr.Append(errs, fmt.Errorf("head must be non-negative, got %d", s.Head))
	}
	if s.Tail < 0 {
		errs = multierr.Append(errs, fmt.Errorf("tail must be non-negative, got %d", s.Tail))
	}
	switch s.Count {
	case CountNone, CountLines, CountWords, CountBytes:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown count mode %q", s.Count))
	}
	return errs
}

// RemoteSuffix renders the spec as a pipeline of standard POSIX text
// utilities, to be appended verbatim to a remote command string. An empty
// spec renders as an empty string.
func (s Spec) RemoteSuffix() string {
	var b strings.Builder

	if s.Pattern != "" {
		flags := "-E"
		if !s.patternIsRegexp() {
			flags = "-F"
		}
		if s.CaseInsensitive {
			flags = "-i" + flags[1:]
		}
		fmt.Fprintf(&b, " | grep %s -- %s", flags, shellQuote(s.Pattern))
	}
	if s.Sort {
		// Pin the collation so remote sort agrees with the local
		// byte-order sort regardless of the host's default locale.
		b.WriteString(" | LC_ALL=C sort")
	}
	if s.Unique {
		b.WriteString(" | uniq")
	}
	if s.Head > 0 {
		fmt.Fprintf(&b, " | head -n %d", s.Head)
	}
	if s.Tail > 0 {
		fmt.Fprintf(&b, " | tail -n %d", s.Tail)
	}
	switch s.Count {
	case CountLines:
		b.WriteString(" | wc -l")
	case CountWords:
		b.WriteString(" | wc -w")
	case CountBytes:
		b.WriteString(" | wc -c")
	}

	return b.String()
}

// Apply runs the identical stage sequence over in-memory text. Output
// matches what the RemoteSuffix pipeline would produce on the same input,
// up to the trailing newline shell utilities terminate their output with.
// Counts follow wc(1) exactly: a final line without a newline adds its
// bytes but not a line. That surfaces when raw command output is
// unterminated and no stage restores the newline: grep, sort and uniq
// re-terminate their output, while head and tail copy bytes and keep the
// final line as they found it (unless head drops it).
func (s Spec) Apply(text string) string {
	if s.IsZero() {
		return text
	}

	terminated := text == "" || strings.HasSuffix(text, "\n")
	lines := splitLines(text)

	if s.Pattern != "" {
		lines = s.matchLines(lines)
		terminated = true
	}
	if s.Sort {
		sort.SliceStable(lines, func(i, j int) bool { return lines[i] < lines[j] })
		terminated = true
	}
	if s.Unique {
		lines = collapseAdjacent(lines)
		terminated = true
	}
	if s.Head > 0 && len(lines) > s.Head {
		lines = lines[:s.Head]
		terminated = true
	}
	if s.Tail > 0 && len(lines) > s.Tail {
		lines = lines[len(lines)-s.Tail:]
	}

	switch s.Count {
	case CountLines:
		// wc -l counts newlines, so an unterminated final line is not a
		// line.
		n := len(lines)
		if !terminated {
			n--
		}
		return strconv.Itoa(n)
	case CountWords:
		total := 0
		for _, line := range lines {
			total += len(strings.Fields(line))
		}
		return strconv.Itoa(total)
	case CountBytes:
		total := 0
		for _, line := range lines {
			total += len(line) + 1
		}
		if !terminated {
			total--
		}
		return strconv.Itoa(total)
	}

	return strings.Join(lines, "\n")
}

// patternIsRegexp reports whether the pattern compiles as a regular
// expression. Non-compiling patterns fall back to literal matching on
// both paths.
func (s Spec) patternIsRegexp() bool {
	_, err := regexp.Compile(s.Pattern)
	return err == nil
}

func (s Spec) matchLines(lines []string) []string {
	matched := lines[:0:0]

	if s.patternIsRegexp() {
		pattern := s.Pattern
		if s.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re := regexp.MustCompile(pattern)
		for _, line := range lines {
			if re.MatchString(line) {
				matched = append(matched, line)
			}
		}
		return matched
	}

	needle := s.Pattern
	if s.CaseInsensitive {
		needle = strings.ToLower(needle)
	}
	for _, line := range lines {
		haystack := line
		if s.CaseInsensitive {
			haystack = strings.ToLower(haystack)
		}
		if strings.Contains(haystack, needle) {
			matched = append(matched, line)
		}
	}
	return matched
}

// splitLines splits text into lines without a trailing empty element for
// newline-terminated input.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// collapseAdjacent keeps the first of each run of identical adjacent
// lines, exactly like uniq(1). It never deduplicates across the whole
// input.
func collapseAdjacent(lines []string) []string {
	if len(lines) == 0 {
		return lines
	}
	out := lines[:1]
	for _, line := range lines[1:] {
		if line != out[len(out)-1] {
			out = append(out, line)
		}
	}
	return out
}

// shellQuote wraps s in single quotes, escaping embedded single quotes so
// the remote shell receives the pattern byte for byte.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
