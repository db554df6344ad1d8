package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/agent-event-bus/internal/domain/event"
)

func command(name string, opts ...event.Option) event.Event {
	return event.New(event.Command, name, "agent_a", &event.CommandPayload{CommandName: name}, opts...)
}

func notification(name string, opts ...event.Option) event.Event {
	return event.New(event.Notification, name, "agent_b", &event.NotificationPayload{}, opts...)
}

func mustMatch(t *testing.T, f Filter, ev event.Event) bool {
	t.Helper()
	ok, err := f.Match(&ev)
	require.NoError(t, err)
	return ok
}

func TestType(t *testing.T) {
	f := Type{event.Command}
	require.NoError(t, f.Validate())

	assert.True(t, mustMatch(t, f, command("do_x")))
	assert.False(t, mustMatch(t, f, notification("did_x")))

	assert.ErrorIs(t, Type{}.Validate(), ErrInvalidFilter)
	assert.ErrorIs(t, Type{"broadcast"}.Validate(), ErrInvalidFilter)
}

func TestNameSourceTarget(t *testing.T) {
	ev := command("do_x", event.WithTarget("inventory_agent"))

	assert.True(t, mustMatch(t, Name{"do_y", "do_x"}, ev))
	assert.False(t, mustMatch(t, Name{"do_y"}, ev))
	assert.True(t, mustMatch(t, Source{"agent_a"}, ev))
	assert.False(t, mustMatch(t, Source{"agent_b"}, ev))
	assert.True(t, mustMatch(t, Target{"inventory_agent"}, ev))
	assert.False(t, mustMatch(t, Target{"inventory_agent"}, command("do_x")), "broadcast has no target")

	assert.Error(t, Name{}.Validate())
	assert.Error(t, Source{""}.Validate())
	assert.Error(t, Target(nil).Validate())
}

func TestNamePattern(t *testing.T) {
	f := NewNamePattern(`^order\.`, `_failed$`)
	require.NoError(t, f.Validate())

	assert.True(t, mustMatch(t, f, notification("order.created")))
	assert.True(t, mustMatch(t, f, notification("payment_failed")))
	assert.False(t, mustMatch(t, f, notification("payment_done")))

	bad := NewNamePattern(`order(`)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidFilter)
	assert.ErrorIs(t, NewNamePattern().Validate(), ErrInvalidFilter)
}

func TestPriority(t *testing.T) {
	f := Priority{Min: event.PriorityHigh}

	assert.False(t, mustMatch(t, f, command("x", event.WithPriority(event.PriorityLow))))
	assert.False(t, mustMatch(t, f, command("x", event.WithPriority(event.PriorityMedium))))
	assert.True(t, mustMatch(t, f, command("x", event.WithPriority(event.PriorityHigh))))
	assert.True(t, mustMatch(t, f, command("x", event.WithPriority(event.PriorityCritical))))

	assert.Error(t, Priority{}.Validate())
}

func TestComposite(t *testing.T) {
	and := Composite{Filters: []Filter{Type{event.Command}, Name{"do_x"}}, RequireAll: true}
	or := Composite{Filters: []Filter{Type{event.Command}, Name{"do_x"}}, RequireAll: false}

	cases := []struct {
		ev       event.Event
		and, or  bool
		describe string
	}{
		{command("do_x"), true, true, "command named do_x"},
		{command("do_y"), false, true, "command with other name"},
		{notification("do_x"), false, true, "notification named do_x"},
		{notification("do_y"), false, false, "neither"},
	}

	for _, c := range cases {
		assert.Equal(t, c.and, mustMatch(t, and, c.ev), "AND: %s", c.describe)
		assert.Equal(t, c.or, mustMatch(t, or, c.ev), "OR: %s", c.describe)
	}

	assert.True(t, mustMatch(t, Composite{}, notification("anything")))
	assert.True(t, mustMatch(t, Composite{RequireAll: false}, notification("anything")))
	assert.True(t, mustMatch(t, All(), command("anything")))
}

func TestComposite_ShortCircuits(t *testing.T) {
	calls := 0
	counting := Custom{Label: "count", Fn: func(event.Event) (bool, error) {
		calls++
		return true, nil
	}}

	ev := notification("n")
	assert.False(t, mustMatch(t, And(Type{event.Command}, counting), ev))
	assert.Equal(t, 0, calls, "AND stops at first false")

	assert.True(t, mustMatch(t, Or(Type{event.Notification}, counting), ev))
	assert.Equal(t, 0, calls, "OR stops at first true")

	assert.True(t, mustMatch(t, And(Type{event.Notification}, counting), ev))
	assert.Equal(t, 1, calls)
}

func TestComposite_ValidateNested(t *testing.T) {
	assert.NoError(t, And(Type{event.Command}, Or(Name{"a"}, NewNamePattern("b"))).Validate())
	assert.ErrorIs(t, And(Type{event.Command}, Or(Name{})).Validate(), ErrInvalidFilter)
	assert.ErrorIs(t, And(nil).Validate(), ErrInvalidFilter)
}

func TestCustom(t *testing.T) {
	boom := errors.New("boom")

	failing := Custom{Label: "failing", Fn: func(event.Event) (bool, error) { return true, boom }}
	ev := command("x")
	ok, err := failing.Match(&ev)
	assert.False(t, ok, "predicate failure is a non-match")
	var me *MatchError
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, boom)

	panicking := Custom{Fn: func(event.Event) (bool, error) { panic("nil map") }}
	ok, err = panicking.Match(&ev)
	assert.False(t, ok)
	assert.ErrorAs(t, err, &me)

	mutating := Custom{Fn: func(e event.Event) (bool, error) {
		e.Name = "changed"
		return true, nil
	}}
	_, _ = mutating.Match(&ev)
	assert.Equal(t, "x", ev.Name, "evaluation never mutates the event")

	assert.ErrorIs(t, Custom{}.Validate(), ErrInvalidFilter)
}

func TestPayload(t *testing.T) {
	ev := command("reserve_inventory", event.WithTarget("inventory_agent"))
	ev.Payload = &event.CommandPayload{
		CommandName: "reserve_inventory",
		Parameters:  map[string]any{"sku": "A1", "qty": 2},
	}

	assert.True(t, mustMatch(t, Payload{Path: "parameters.sku", Equals: "A1"}, ev))
	assert.True(t, mustMatch(t, Payload{Path: "parameters.qty"}, ev))
	assert.False(t, mustMatch(t, Payload{Path: "parameters.sku", Equals: "B2"}, ev))
	assert.False(t, mustMatch(t, Payload{Path: "parameters.color"}, ev))

	assert.Error(t, Payload{}.Validate())
}

func TestCheck(t *testing.T) {
	assert.ErrorIs(t, Check(nil), ErrInvalidFilter)
	assert.NoError(t, Check(All()))
}
