package core_test

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/kompics/core"
)

func TestConfig_ApplyAndDiff(t *testing.T) {
	base := core.NewConfig(map[string]any{"a": 1, "b": "x"})

	next := base.Apply(core.ConfigUpdate{Values: map[string]any{"a": 2, "b": nil, "c": true}})
	assert.Equal(t, []string{"a", "c"}, next.Keys())
	a, ok := core.ConfigValue[int](next, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, a)
	_, ok = core.ConfigValue[string](next, "a")
	assert.False(t, ok, "wrong type")

	// the original is untouched
	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, base.Values())

	u := core.Diff(base.Values(), next.Values())
	assert.Equal(t, map[string]any{"a": 2, "b": nil, "c": true}, u.Values)
	assert.True(t, core.Diff(base.Values(), base.Values()).Empty())

	var none *core.Config
	_, ok = none.Get("a")
	assert.False(t, ok)
	assert.Zero(t, none.Len())
}

// settings records every update a component sees
type settings struct {
	name   string
	ctx    *core.Context
	rec    *recorder
	action core.UpdateAction
	panics bool
}

func (s *settings) Name() string { return s.name }

func (s *settings) HandleUpdate(core.ConfigUpdate) core.UpdateAction {
	if s.panics {
		panic("bad updater")
	}
	return s.action
}

func (s *settings) PostUpdate() {
	v, _ := s.ctx.Config().Get("k")
	s.rec.add(fmt.Sprintf("%s:k=%v", s.name, v))
}

func settingsNode(s *settings, children ...core.Constructor) core.Constructor {
	return func(ctx *core.Context) core.Definition {
		s.ctx = ctx
		for _, child := range children {
			if _, err := ctx.Create(child); err != nil {
				panic(err)
			}
		}
		return s
	}
}

func sorted(entries []string) []string {
	slices.Sort(entries)
	return entries
}

func TestConfigUpdate_StopsWhereSwallowed(t *testing.T) {
	sys := newTestSystem(t, 2, core.WithComponentConfig(map[string]any{"k": 0, "keep": "yes"}))
	rec := &recorder{}

	leaf := &settings{name: "leaf", rec: rec}
	mid := &settings{name: "mid", rec: rec, action: core.UpdateAction{Down: core.PropagateNone}}
	side := &settings{name: "side", rec: rec}
	top := &settings{name: "top", rec: rec}

	root := startRoot(t, sys, settingsNode(top, settingsNode(mid, settingsNode(leaf)), settingsNode(side)))
	assert.Equal(t, 0, mustGet(t, leaf.ctx.Config(), "k"), "children inherit the root settings")

	sys.UpdateConfig(root, core.ConfigUpdate{Values: map[string]any{"k": 1}})
	rec.await(t, 3)

	assert.Equal(t, []string{"mid:k=1", "side:k=1", "top:k=1"}, sorted(rec.list()))
	assert.Equal(t, 0, mustGet(t, leaf.ctx.Config(), "k"))
	assert.Equal(t, "yes", mustGet(t, side.ctx.Config(), "keep"))
}

func TestConfigUpdate_FromLeafMapped(t *testing.T) {
	sys := newTestSystem(t, 2)
	rec := &recorder{}

	tenfold := func(u core.ConfigUpdate) core.ConfigUpdate {
		out := core.ConfigUpdate{Values: map[string]any{}}
		for k, v := range u.Values {
			out.Values[k] = v.(int) * 10
		}
		return out
	}

	leaf := &settings{name: "leaf", rec: rec}
	mid := &settings{name: "mid", rec: rec, panics: true}
	side := &settings{name: "side", rec: rec}
	top := &settings{name: "top", rec: rec, action: core.UpdateAction{Down: core.PropagateMapped, Mapper: tenfold}}

	startRoot(t, sys, settingsNode(top, settingsNode(mid, settingsNode(leaf)), settingsNode(side)))

	ext := leaf.ctx.External()
	ext.UpdateConfig(core.ConfigUpdate{Values: map[string]any{"k": 2}})
	rec.await(t, 4)

	// the update never returns to where it came from
	assert.Equal(t, []string{"leaf:k=2", "mid:k=2", "side:k=20", "top:k=2"}, sorted(rec.list()))
}

func TestConfigUpdate_Empty(t *testing.T) {
	sys := newTestSystem(t, 1)
	rec := &recorder{}
	top := &settings{name: "top", rec: rec}
	root := startRoot(t, sys, settingsNode(top))

	sys.UpdateConfig(root, core.ConfigUpdate{})
	top.ctx.External().UpdateConfig(core.ConfigUpdate{Values: map[string]any{}})
	sys.UpdateConfig(root, core.ConfigUpdate{Values: map[string]any{"k": 3}})
	rec.await(t, 1)
	assert.Equal(t, []string{"top:k=3"}, rec.list())
}

func mustGet(t *testing.T, c *core.Config, key string) any {
	t.Helper()
	v, ok := c.Get(key)
	require.True(t, ok, key)
	return v
}
