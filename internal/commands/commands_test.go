package commands

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framestep/tasbridge/internal/command"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

type fakeConsole struct {
	executed [][]string
	printed  []string
	fail     error
}

func (c *fakeConsole) ExecuteConsole(name string, args []string) error {
	c.executed = append(c.executed, append([]string{name}, args...))
	return c.fail
}

func (c *fakeConsole) Print(text string) {
	c.printed = append(c.printed, text)
}

type world struct {
	speed   studioproto.Vector2
	dashes  int
	god     bool
	jumps   []float64
	targets *Targets
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{targets: NewTargets()}
	require.NoError(t, w.targets.RegisterField("Player.Speed", Field{
		Kind: KindVector2,
		Get:  func() any { return w.speed },
		Set:  func(v any) error { w.speed = v.(studioproto.Vector2); return nil },
	}))
	require.NoError(t, w.targets.RegisterField("Player.Dashes", Field{
		Kind: KindInt,
		Get:  func() any { return w.dashes },
		Set: func(v any) error {
			if v.(int) < 0 {
				return errors.New("negative")
			}
			w.dashes = v.(int)
			return nil
		},
	}))
	require.NoError(t, w.targets.RegisterField("Settings.God", Field{
		Kind: KindBool,
		Get:  func() any { return w.god },
		Set:  func(v any) error { w.god = v.(bool); return nil },
	}))
	require.NoError(t, w.targets.RegisterMethod("Player.Jump", Method{
		Params: []Kind{KindFloat},
		Call:   func(args []any) error { w.jumps = append(w.jumps, args[0].(float64)); return nil },
	}))
	return w
}

func definition(t *testing.T, v *Vocabulary, name string) command.Definition {
	t.Helper()
	for _, def := range v.Definitions() {
		if def.IsName(name) {
			return def
		}
	}
	t.Fatalf("no definition %s", name)
	return command.Definition{}
}

func run(t *testing.T, v *Vocabulary, name string, args ...string) error {
	t.Helper()
	return definition(t, v, name).Handler(command.Context{Args: args, Phase: command.TimingRuntime})
}

func TestDefinitions_RegisterCleanly(t *testing.T) {
	v := New(Deps{})
	r, err := command.NewRegistry(v.Definitions()...)
	require.NoError(t, err)
	assert.Equal(t, []string{"Console", "EvalLua", "Invoke", "Safe", "Set", "Unsafe"}, r.Names())

	set, _ := r.Lookup("Set")
	assert.True(t, set.IllegalInMainGame)
	console, _ := r.Lookup("Console")
	assert.False(t, console.IllegalInMainGame)
	assert.Equal(t, command.TimingRuntime, console.Timing)
}

func TestConsoleCommand(t *testing.T) {
	c := &fakeConsole{}
	v := New(Deps{Console: c})

	require.NoError(t, run(t, v, "Console", "load", "1"))
	assert.Equal(t, [][]string{{"load", "1"}}, c.executed)

	assert.Error(t, run(t, v, "Console"))

	c.fail = errors.New("unknown level")
	assert.ErrorContains(t, run(t, v, "Console", "load", "9"), "unknown level")
}

func TestSet(t *testing.T) {
	w := newWorld(t)
	v := New(Deps{Targets: w.targets})

	require.NoError(t, run(t, v, "Set", "Player.Speed", "325", "-52.5"))
	assert.Equal(t, studioproto.Vector2{X: 325, Y: -52.5}, w.speed)

	require.NoError(t, run(t, v, "Set", "Settings.God", "true"))
	assert.True(t, w.god)

	require.NoError(t, run(t, v, "Set", "Player.Dashes", "2"))
	assert.Equal(t, 2, w.dashes)
}

func TestSet_ErrorsFromScriptFailTheCommand(t *testing.T) {
	w := newWorld(t)
	c := &fakeConsole{}
	v := New(Deps{Targets: w.targets, Console: c})

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{name: "missing value", args: []string{"Player.Dashes"}, msg: "Target-template and value required"},
		{name: "unknown member", args: []string{"Player.Nope", "1"}, msg: "Failed to find member 'Player.Nope'"},
		{name: "type mismatch", args: []string{"Player.Dashes", "many"}, msg: "failed to resolve 'many' to type int"},
		{name: "missing axis", args: []string{"Player.Speed", "1"}, msg: "missing value for parameter of type Vector2"},
		{name: "setter rejects", args: []string{"Player.Dashes", "-1"}, msg: "Failed to set member 'Player.Dashes' to '-1'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(t, v, "Set", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Set Command Failed: ")
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
	assert.Empty(t, c.printed)
}

func TestConsoleSet_ErrorsArePrinted(t *testing.T) {
	w := newWorld(t)
	c := &fakeConsole{}
	v := New(Deps{Targets: w.targets, Console: c})

	v.ConsoleSet([]string{"Player.Dashes", "many"})
	v.ConsoleInvoke([]string{"Player.Fly"})

	assert.Equal(t, []string{
		"Set Command Failed: failed to resolve 'many' to type int",
		"Invoke Command Failed: Failed to find method 'Player.Fly'",
	}, c.printed)

	v.ConsoleSet([]string{"Player.Dashes", "3"})
	assert.Equal(t, 3, w.dashes)
}

func TestInvoke(t *testing.T) {
	w := newWorld(t)
	v := New(Deps{Targets: w.targets})

	require.NoError(t, run(t, v, "Invoke", "Player.Jump", "1.5"))
	assert.Equal(t, []float64{1.5}, w.jumps)

	err := run(t, v, "Invoke", "Player.Jump", "1", "2")
	assert.ErrorContains(t, err, "Invoke Command Failed: too many values: 2")

	assert.ErrorContains(t, run(t, v, "Invoke"), "Target-template required")
}

func TestSafeUnsafe(t *testing.T) {
	var allowed []bool
	v := New(Deps{SetUnsafe: func(allow bool) { allowed = append(allowed, allow) }})

	require.NoError(t, run(t, v, "Unsafe"))
	require.NoError(t, run(t, v, "Safe"))
	assert.Equal(t, []bool{true, false}, allowed)
}

func TestEvalLua(t *testing.T) {
	w := newWorld(t)
	c := &fakeConsole{}
	v := New(Deps{Targets: w.targets, Console: c})
	lua := definition(t, v, "EvalLua")

	err := lua.Handler(command.Context{Text: `EvalLua set("Player.Dashes", get("Player.Dashes") + 2); invoke("Player.Jump", 4)`})
	require.NoError(t, err)
	assert.Equal(t, 2, w.dashes)
	assert.Equal(t, []float64{4}, w.jumps)

	err = lua.Handler(command.Context{Text: `EvalLua, local x, y = get("Player.Speed"); console("load", x + y)`})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"load", "0"}}, c.executed)

	err = lua.Handler(command.Context{Text: `EvalLua set("Player.Dashes", "lots")`})
	assert.ErrorContains(t, err, "Set Command Failed")

	err = lua.Handler(command.Context{Text: `EvalLua this is not lua`})
	assert.Error(t, err)

	err = lua.Handler(command.Context{Text: `EvalLua`})
	assert.Error(t, err)
}

func TestResolveValues(t *testing.T) {
	values, err := ResolveValues([]string{"true", "3", "0.25", "text", "1", "2"},
		[]Kind{KindBool, KindInt, KindFloat, KindString, KindVector2})
	require.NoError(t, err)
	assert.Equal(t, []any{true, 3, 0.25, "text", studioproto.Vector2{X: 1, Y: 2}}, values)

	_, err = ResolveValues([]string{"maybe"}, []Kind{KindBool})
	assert.ErrorContains(t, err, "failed to resolve 'maybe' to type bool")
}
