package rules

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Flag selects how a field rule is checked against a received message
type Flag int

const (
	// MatchEquality requires the field to be present with the recorded value
	MatchEquality Flag = iota
	// MatchPresence requires the field to be present with any value
	MatchPresence
	// MatchAbsence requires the field to be absent
	MatchAbsence
)

// ParseFlag converts a replay file rule directive into a Flag
func ParseFlag(s string) (Flag, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "equal", "equals", "equality":
		return MatchEquality, true
	case "presence", "present":
		return MatchPresence, true
	case "absence", "absent":
		return MatchAbsence, true
	default:
		return 0, false
	}
}

// String returns the replay file spelling of the flag
func (f Flag) String() string {
	switch f {
	case MatchEquality:
		return "equal"
	case MatchPresence:
		return "presence"
	case MatchAbsence:
		return "absence"
	default:
		return fmt.Sprintf("flag(%d)", int(f))
	}
}

// Rule is a single field verification rule. Name is an interned, lower-cased
// field name.
type Rule struct {
	Name  string
	Value string
	Flag  Flag
}

// Field is a recorded header field in file order
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered list of recorded fields plus the verification rules
// attached to a message
type Fields struct {
	Fields []Field
	Rules  map[string]Rule
}

// NewFields creates an empty field set
func NewFields() *Fields {
	return &Fields{Rules: make(map[string]Rule)}
}

// Add appends a recorded field
func (f *Fields) Add(name, value string) {
	f.Fields = append(f.Fields, Field{Name: name, Value: value})
}

// AddRule adds or replaces the rule for r.Name
func (f *Fields) AddRule(r Rule) {
	if f.Rules == nil {
		f.Rules = make(map[string]Rule)
	}
	f.Rules[r.Name] = r
}

// Merge copies every rule of other into f, replacing rules with the same name
func (f *Fields) Merge(other *Fields) {
	if other == nil {
		return
	}
	for _, r := range other.Rules {
		f.AddRule(r)
	}
}

// Clone returns a deep copy
func (f *Fields) Clone() *Fields {
	c := &Fields{
		Fields: make([]Field, len(f.Fields)),
		Rules:  make(map[string]Rule, len(f.Rules)),
	}
	copy(c.Fields, f.Fields)
	for k, v := range f.Rules {
		c.Rules[k] = v
	}
	return c
}

// Get returns the value of the first field matching name, case-insensitive
func (f *Fields) Get(name string) (string, bool) {
	for _, field := range f.Fields {
		if strings.EqualFold(field.Name, name) {
			return field.Value, true
		}
	}
	return "", false
}

// Len returns the number of recorded fields
func (f *Fields) Len() int {
	return len(f.Fields)
}

// HasRules reports whether any verification rule is attached
func (f *Fields) HasRules() bool {
	return len(f.Rules) > 0
}

// Verify checks the received header against the rules and returns one
// description per violated rule, sorted by field name.
//
// lookup resolves a received field name to its interned form; names that were
// never interned cannot be the subject of a rule and are skipped.
func (f *Fields) Verify(h http.Header, lookup func(string) (string, bool)) []string {
	if len(f.Rules) == 0 {
		return nil
	}

	received := make(map[string][]string, len(h))
	for name, values := range h {
		canon, ok := lookup(name)
		if !ok {
			continue
		}
		received[canon] = append(received[canon], values...)
	}

	var problems []string
	for name, rule := range f.Rules {
		values, present := received[name]
		switch rule.Flag {
		case MatchAbsence:
			if present {
				problems = append(problems, fmt.Sprintf("absence violation: field %q is present with value %q", name, strings.Join(values, ", ")))
			}
		case MatchPresence:
			if !present {
				problems = append(problems, fmt.Sprintf("presence violation: field %q is absent", name))
			}
		case MatchEquality:
			if !present {
				problems = append(problems, fmt.Sprintf("equality violation: field %q is absent, expected %q", name, rule.Value))
			} else if got := strings.Join(values, ", "); got != rule.Value {
				problems = append(problems, fmt.Sprintf("equality violation: field %q has value %q, expected %q", name, got, rule.Value))
			}
		}
	}
	sort.Strings(problems)
	return problems
}
