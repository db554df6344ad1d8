// Package filter decides whether an event matches a subscription's interest.
//
// Filter is a closed set of variants. Every variant is pure: evaluation never
// mutates the event and has no side effects. Only Custom can fail at match
// time; the failure is reported as a *MatchError and the bus treats it as a
// non-match.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/tidwall/gjson"
	"github.com/webitel/agent-event-bus/internal/domain/event"
)

// Filter is implemented only by the variants in this package.
type Filter interface {
	Match(ev *event.Event) (bool, error)
	Validate() error
	String() string
	sealed()
}

var (
	_ Filter = Type{}
	_ Filter = Name{}
	_ Filter = (*NamePattern)(nil)
	_ Filter = Source{}
	_ Filter = Target{}
	_ Filter = Priority{}
	_ Filter = Composite{}
	_ Filter = Custom{}
	_ Filter = Payload{}
)

// ErrInvalidFilter is the sentinel behind every InvalidFilterError.
var ErrInvalidFilter = errors.New("invalid filter")

// InvalidFilterError rejects a malformed filter at subscribe time.
type InvalidFilterError struct {
	Filter string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter %s: %s", e.Filter, e.Reason)
}

func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }

func invalid(f Filter, format string, args ...any) error {
	return &InvalidFilterError{Filter: f.String(), Reason: fmt.Sprintf(format, args...)}
}

// MatchError carries a failure raised while evaluating a Custom predicate.
type MatchError struct {
	Filter string
	Err    error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Filter, e.Err)
}

func (e *MatchError) Unwrap() error { return e.Err }

// Type matches events whose type is in the set.
type Type []event.Type

func (f Type) Match(ev *event.Event) (bool, error) { return slices.Contains(f, ev.Type), nil }

func (f Type) Validate() error {
	if len(f) == 0 {
		return invalid(f, "empty type set")
	}
	for _, t := range f {
		if !t.Valid() {
			return invalid(f, "unknown event type %q", t)
		}
	}
	return nil
}

func (f Type) String() string { return fmt.Sprintf("type%v", []event.Type(f)) }
func (Type) sealed()          {}

// Name matches events whose name equals one of the set.
type Name []string

func (f Name) Match(ev *event.Event) (bool, error) { return slices.Contains(f, ev.Name), nil }
func (f Name) Validate() error                     { return nonEmpty(f, f) }
func (f Name) String() string                      { return fmt.Sprintf("name%v", []string(f)) }
func (Name) sealed()                               {}

// Source matches events from one of the listed components.
type Source []string

func (f Source) Match(ev *event.Event) (bool, error) { return slices.Contains(f, ev.Source), nil }
func (f Source) Validate() error                     { return nonEmpty(f, f) }
func (f Source) String() string                      { return fmt.Sprintf("source%v", []string(f)) }
func (Source) sealed()                               {}

// Target matches events addressed to one of the listed components.
// Broadcast events (empty target) never match.
type Target []string

func (f Target) Match(ev *event.Event) (bool, error) {
	return ev.Target != "" && slices.Contains(f, ev.Target), nil
}
func (f Target) Validate() error { return nonEmpty(f, f) }
func (f Target) String() string  { return fmt.Sprintf("target%v", []string(f)) }
func (Target) sealed()           {}

func nonEmpty(f Filter, set []string) error {
	if len(set) == 0 {
		return invalid(f, "empty set")
	}
	if slices.Contains(set, "") {
		return invalid(f, "empty identifier")
	}
	return nil
}

// NamePattern matches when any regular expression finds a match in the
// event name. Patterns are compiled once by NewNamePattern.
type NamePattern struct {
	patterns []string
	compiled []*regexp.Regexp
	err      error
}

// NewNamePattern compiles the patterns; a bad pattern is reported by Validate.
func NewNamePattern(patterns ...string) *NamePattern {
	f := &NamePattern{patterns: patterns}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			f.err = fmt.Errorf("pattern %q: %w", p, err)
			f.compiled = nil
			break
		}
		f.compiled = append(f.compiled, re)
	}
	return f
}

func (f *NamePattern) Match(ev *event.Event) (bool, error) {
	for _, re := range f.compiled {
		if re.MatchString(ev.Name) {
			return true, nil
		}
	}
	return false, nil
}

func (f *NamePattern) Validate() error {
	if f == nil || len(f.patterns) == 0 {
		return &InvalidFilterError{Filter: "name_pattern[]", Reason: "no patterns"}
	}
	if f.err != nil {
		return invalid(f, "%v", f.err)
	}
	return nil
}

func (f *NamePattern) String() string { return fmt.Sprintf("name_pattern%v", f.patterns) }
func (*NamePattern) sealed()          {}

// Priority matches events at or above Min under low < medium < high < critical.
type Priority struct {
	Min event.Priority
}

func (f Priority) Match(ev *event.Event) (bool, error) { return ev.Priority >= f.Min, nil }

func (f Priority) Validate() error {
	if !f.Min.Valid() {
		return invalid(f, "unknown priority %d", int32(f.Min))
	}
	return nil
}

func (f Priority) String() string { return fmt.Sprintf("priority>=%s", f.Min) }
func (Priority) sealed()          {}

// Composite combines filters with AND (RequireAll) or OR semantics and
// short-circuits. An empty composite matches everything.
type Composite struct {
	Filters    []Filter
	RequireAll bool
}

// All returns a filter matching every event.
func All() Composite { return Composite{RequireAll: true} }

// And matches when every filter matches.
func And(filters ...Filter) Composite { return Composite{Filters: filters, RequireAll: true} }

// Or matches when any filter matches.
func Or(filters ...Filter) Composite { return Composite{Filters: filters} }

func (f Composite) Match(ev *event.Event) (bool, error) {
	if len(f.Filters) == 0 {
		return true, nil
	}

	for _, child := range f.Filters {
		ok, err := child.Match(ev)
		if err != nil {
			return false, err
		}
		if f.RequireAll && !ok {
			return false, nil
		}
		if !f.RequireAll && ok {
			return true, nil
		}
	}
	return f.RequireAll, nil
}

func (f Composite) Validate() error {
	for i, child := range f.Filters {
		if child == nil {
			return invalid(f, "filter #%d is nil", i)
		}
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f Composite) String() string {
	op := "any"
	if f.RequireAll {
		op = "all"
	}
	return fmt.Sprintf("%s%v", op, f.Filters)
}

func (Composite) sealed() {}

// Predicate is caller-defined matching logic.
type Predicate func(ev event.Event) (bool, error)

// Custom evaluates a caller predicate on a copy of the event. Errors and
// panics become a *MatchError.
type Custom struct {
	Label string
	Fn    Predicate
}

func (f Custom) Match(ev *event.Event) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, err = false, &MatchError{Filter: f.String(), Err: fmt.Errorf("predicate panic: %v", r)}
		}
	}()

	ok, err := f.Fn(ev.Clone())
	if err != nil {
		return false, &MatchError{Filter: f.String(), Err: err}
	}
	return ok, nil
}

func (f Custom) Validate() error {
	if f.Fn == nil {
		return invalid(f, "nil predicate")
	}
	return nil
}

func (f Custom) String() string {
	if f.Label == "" {
		return "custom"
	}
	return "custom:" + f.Label
}

func (Custom) sealed() {}

// Payload matches when the gjson Path resolves in the JSON encoding of the
// payload and, if Equals is set, its string form equals Equals.
type Payload struct {
	Path   string
	Equals string
}

func (f Payload) Match(ev *event.Event) (bool, error) {
	if ev.Payload == nil {
		return false, nil
	}
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return false, &MatchError{Filter: f.String(), Err: err}
	}

	res := gjson.GetBytes(raw, f.Path)
	if !res.Exists() {
		return false, nil
	}
	return f.Equals == "" || res.String() == f.Equals, nil
}

func (f Payload) Validate() error {
	if f.Path == "" {
		return invalid(f, "empty path")
	}
	return nil
}

func (f Payload) String() string {
	if f.Equals == "" {
		return fmt.Sprintf("payload[%s]", f.Path)
	}
	return fmt.Sprintf("payload[%s=%s]", f.Path, f.Equals)
}

func (Payload) sealed() {}

// Check validates f, rejecting nil.
func Check(f Filter) error {
	if f == nil {
		return &InvalidFilterError{Filter: "<nil>", Reason: "filter is required"}
	}
	return f.Validate()
}
