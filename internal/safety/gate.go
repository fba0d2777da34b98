// Package safety classifies proposed shell commands before execution.
//
// The gate is a pure function over the command text and an immutable rule
// set: an ordered deny list checked strictly before an ordered warn list.
// New rules are data (config), not code changes.
package safety

import (
	"regexp"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Decision is the outcome class of a classification.
type Decision int

const (
	Allow Decision = iota
	AllowWithWarning
	Block
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case AllowWithWarning:
		return "allow_with_warning"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Verdict is the result of classifying one command string.
type Verdict struct {
	Decision Decision
	Rule     string // name of the matched rule ("" when allowed)
	Reason   string // human-readable reason ("" when allowed)
}

// Blocked reports whether the command must not be executed.
func (v Verdict) Blocked() bool { return v.Decision == Block }

// Warned reports whether the command may execute but carries a warning.
func (v Verdict) Warned() bool { return v.Decision == AllowWithWarning }

// Rule pairs a name and reason with a compiled pattern. Patterns are matched
// against the normalized command text (lowercased, whitespace collapsed).
type Rule struct {
	Name    string
	Reason  string
	pattern *regexp.Regexp
}

// NewRule compiles a rule. The expression is matched case-insensitively.
func NewRule(name, expr, reason string) (Rule, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Name: name, Reason: reason, pattern: re}, nil
}

// mustRule is used for the built-in rule tables.
func mustRule(name, expr, reason string) Rule {
	r, err := NewRule(name, expr, reason)
	if err != nil {
		panic("safety: bad built-in rule " + name + ": " + err.Error())
	}
	return r
}

// Gate holds the ordered rule lists. It is immutable after construction and
// safe for concurrent use by any number of sessions.
type Gate struct {
	deny []Rule
	warn []Rule
}

// NewGate builds a gate from ordered deny and warn lists. Deny is always
// evaluated first, so a command matching both lists is blocked.
func NewGate(deny, warn []Rule) *Gate {
	return &Gate{
		deny: append([]Rule(nil), deny...),
		warn: append([]Rule(nil), warn...),
	}
}

// Default returns a gate loaded with the built-in rule tables.
func Default() *Gate {
	return NewGate(DefaultDenyRules(), DefaultWarnRules())
}

// Classify returns the verdict for a single proposed shell command.
//
// The command is normalized (case folded, whitespace collapsed) and compound
// commands are additionally split on shell separators so that a destructive
// segment hidden behind "&&" or ";" is still caught. First matching deny
// rule wins; warn rules are consulted only when no deny rule matched.
func (g *Gate) Classify(command string) Verdict {
	segments := normalizeSegments(command)

	for _, rule := range g.deny {
		for _, seg := range segments {
			if rule.pattern.MatchString(seg) {
				return Verdict{Decision: Block, Rule: rule.Name, Reason: rule.Reason}
			}
		}
	}
	for _, rule := range g.warn {
		for _, seg := range segments {
			if rule.pattern.MatchString(seg) {
				return Verdict{Decision: AllowWithWarning, Rule: rule.Name, Reason: rule.Reason}
			}
		}
	}
	return Verdict{Decision: Allow}
}

// shell separators that chain independent commands in one line.
var separatorRe = regexp.MustCompile(`&&|\|\||[;|&\n]`)

// normalizeSegments lowers the command, splits it on shell separators, and
// collapses whitespace inside each segment. The full normalized command is
// always the first segment, so whole-line patterns keep working.
func normalizeSegments(command string) []string {
	lowered := strings.ToLower(strings.TrimSpace(command))
	full := normalizeSpaces(lowered)
	if full == "" {
		return []string{""}
	}

	segments := []string{full}
	for _, part := range separatorRe.Split(lowered, -1) {
		seg := normalizeSpaces(part)
		if seg == "" || seg == full {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// normalizeSpaces collapses runs of whitespace to single spaces. Quoted
// arguments are tokenized with shellwords so "rm  -rf   /" and `rm -rf /`
// normalize identically; unparsable input falls back to strings.Fields.
func normalizeSpaces(s string) string {
	parser := shellwords.NewParser()
	fields, err := parser.Parse(s)
	if err != nil || len(fields) == 0 {
		fields = strings.Fields(s)
	}
	return strings.Join(fields, " ")
}
