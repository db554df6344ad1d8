package marshaller

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/filter"
	"github.com/webitel/agent-event-bus/internal/store"
)

// ErrBadQuery marks unparsable query parameters.
var ErrBadQuery = errors.New("bad query")

type QueryError struct {
	Param string
	Err   error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query parameter %q: %v", e.Param, e.Err) }

func (e *QueryError) Unwrap() []error { return []error{ErrBadQuery, e.Err} }

// list splits repeated and comma separated values.
func list(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func types(q url.Values) ([]event.Type, error) {
	var out []event.Type
	for _, s := range list(q, "type") {
		t := event.Type(strings.ToLower(s))
		if !t.Valid() {
			return nil, &QueryError{Param: "type", Err: fmt.Errorf("unknown event type %q", s)}
		}
		out = append(out, t)
	}
	return out, nil
}

// ParseFilter builds a tap filter from query parameters. Every given
// parameter must match: type, name, source, target, name_pattern,
// min_priority and payload_path (with optional payload_equals). No
// parameters match everything.
func ParseFilter(q url.Values) (filter.Filter, error) {
	var parts []filter.Filter

	ts, err := types(q)
	if err != nil {
		return nil, err
	}
	if len(ts) > 0 {
		parts = append(parts, filter.Type(ts))
	}
	if v := list(q, "name"); len(v) > 0 {
		parts = append(parts, filter.Name(v))
	}
	if v := list(q, "source"); len(v) > 0 {
		parts = append(parts, filter.Source(v))
	}
	if v := list(q, "target"); len(v) > 0 {
		parts = append(parts, filter.Target(v))
	}
	if v := q["name_pattern"]; len(v) > 0 {
		parts = append(parts, filter.NewNamePattern(v...))
	}
	if v := q.Get("min_priority"); v != "" {
		p, err := event.ParsePriority(v)
		if err != nil {
			return nil, &QueryError{Param: "min_priority", Err: err}
		}
		parts = append(parts, filter.Priority{Min: p})
	}
	if v := q.Get("payload_path"); v != "" {
		parts = append(parts, filter.Payload{Path: v, Equals: q.Get("payload_equals")})
	}

	var f filter.Filter = filter.All()
	if len(parts) == 1 {
		f = parts[0]
	} else if len(parts) > 1 {
		f = filter.And(parts...)
	}
	if err := filter.Check(f); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseCriteria reads store criteria: type, name, source, target,
// correlation_id, status, start and end (RFC 3339) and limit.
func ParseCriteria(q url.Values) (store.Criteria, error) {
	var c store.Criteria

	ts, err := types(q)
	if err != nil {
		return c, err
	}
	c.Types = ts
	c.Name = q.Get("name")
	c.Source = q.Get("source")
	c.Target = q.Get("target")
	c.CorrelationID = q.Get("correlation_id")

	for _, s := range list(q, "status") {
		st := event.Status(strings.ToLower(s))
		if !st.Valid() {
			return c, &QueryError{Param: "status", Err: fmt.Errorf("unknown status %q", s)}
		}
		c.Statuses = append(c.Statuses, st)
	}

	if c.Start, err = parseTime(q, "start"); err != nil {
		return c, err
	}
	if c.End, err = parseTime(q, "end"); err != nil {
		return c, err
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c, &QueryError{Param: "limit", Err: fmt.Errorf("want a non-negative integer, got %q", v)}
		}
		c.Limit = n
	}
	return c, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, &QueryError{Param: key, Err: err}
	}
	return t, nil
}
