package commands

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/framestep/tasbridge/internal/command"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

// evalLua runs the rest of the line as a Lua chunk. The chunk can call
// get(name), set(name, value...), invoke(name, args...) and console(name, args...).
func (v *Vocabulary) evalLua(ctx command.Context) error {
	code := luaSource(ctx.Text)
	if code == "" {
		return fmt.Errorf("lua code required")
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.MathLibName, lua.OpenMath},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("lua: failed to open %s library: %w", lib.name, err)
		}
	}

	L.SetGlobal("get", L.NewFunction(v.luaGet))
	L.SetGlobal("set", L.NewFunction(func(L *lua.LState) int {
		if err := v.runSet(luaArgs(L), false); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))
	L.SetGlobal("invoke", L.NewFunction(func(L *lua.LState) int {
		if err := v.runInvoke(luaArgs(L), false); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))
	L.SetGlobal("console", L.NewFunction(func(L *lua.LState) int {
		args := luaArgs(L)
		if len(args) == 0 {
			L.ArgError(1, "console command required")
		}
		if v.console == nil {
			L.RaiseError("no console attached")
		}
		if err := v.console.ExecuteConsole(args[0], args[1:]); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))

	if err := L.DoString(code); err != nil {
		return fmt.Errorf("lua: %w", err)
	}
	return nil
}

func (v *Vocabulary) luaGet(L *lua.LState) int {
	name := L.CheckString(1)
	field, ok := v.targets.Field(name)
	if !ok || field.Get == nil {
		L.Push(lua.LNil)
		return 1
	}

	switch val := field.Get().(type) {
	case bool:
		L.Push(lua.LBool(val))
	case int:
		L.Push(lua.LNumber(val))
	case float64:
		L.Push(lua.LNumber(val))
	case string:
		L.Push(lua.LString(val))
	case studioproto.Vector2:
		L.Push(lua.LNumber(val.X))
		L.Push(lua.LNumber(val.Y))
		return 2
	default:
		L.Push(lua.LString(fmt.Sprint(val)))
	}
	return 1
}

func luaArgs(L *lua.LState) []string {
	args := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		args = append(args, L.Get(i).String())
	}
	return args
}

// luaSource strips the command name and its separator from the line.
func luaSource(text string) string {
	text = strings.TrimSpace(text)
	i := strings.IndexAny(text, ", \t")
	if i < 0 {
		return ""
	}
	return strings.TrimLeft(text[i:], ", \t")
}
