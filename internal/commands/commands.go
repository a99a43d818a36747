// Package commands is the runtime command vocabulary of a TAS script.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/framestep/tasbridge/internal/command"
)

// Console runs in-game console commands and prints to the console.
type Console interface {
	ExecuteConsole(name string, args []string) error
	Print(text string)
}

// Deps are the collaborators of the vocabulary.
type Deps struct {
	Console Console
	Targets *Targets
	Logger  *slog.Logger

	// SetUnsafe toggles whether unsafe inputs are allowed.
	SetUnsafe func(allow bool)
}

// Vocabulary holds the handlers of Console, Set, Invoke, Safe, Unsafe and EvalLua.
type Vocabulary struct {
	console   Console
	targets   *Targets
	logger    *slog.Logger
	setUnsafe func(bool)

	set    reporter
	invoke reporter
}

// New creates the vocabulary.
func New(d Deps) *Vocabulary {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Targets == nil {
		d.Targets = NewTargets()
	}
	if d.SetUnsafe == nil {
		d.SetUnsafe = func(bool) {}
	}
	return &Vocabulary{
		console:   d.Console,
		targets:   d.Targets,
		logger:    d.Logger,
		setUnsafe: d.SetUnsafe,
		set:       reporter{prefix: "Set Command Failed: ", console: d.Console},
		invoke:    reporter{prefix: "Invoke Command Failed: ", console: d.Console},
	}
}

// Targets returns the target registry.
func (v *Vocabulary) Targets() *Targets {
	return v.targets
}

// Definitions returns the command definitions to register with a loader.
func (v *Vocabulary) Definitions() []command.Definition {
	return []command.Definition{
		{
			Attribute: command.Attribute{Name: "Console"},
			Handler:   v.consoleCommand,
		},
		{
			Attribute: command.Attribute{Name: "Set", IllegalInMainGame: true},
			Handler:   func(ctx command.Context) error { return v.runSet(ctx.Args, false) },
		},
		{
			Attribute: command.Attribute{Name: "Invoke", IllegalInMainGame: true},
			Handler:   func(ctx command.Context) error { return v.runInvoke(ctx.Args, false) },
		},
		{
			Attribute: command.Attribute{Name: "Safe"},
			Handler: func(command.Context) error {
				v.setUnsafe(false)
				return nil
			},
		},
		{
			Attribute: command.Attribute{Name: "Unsafe"},
			Handler: func(command.Context) error {
				v.setUnsafe(true)
				return nil
			},
		},
		{
			Attribute: command.Attribute{Name: "EvalLua", Aliases: []string{"Lua"}, IllegalInMainGame: true},
			Handler:   v.evalLua,
		},
	}
}

// ConsoleSet runs "set" typed into the in-game console. Errors go to the console.
func (v *Vocabulary) ConsoleSet(args []string) {
	_ = v.runSet(args, true)
}

// ConsoleInvoke runs "invoke" typed into the in-game console.
func (v *Vocabulary) ConsoleInvoke(args []string) {
	_ = v.runInvoke(args, true)
}

func (v *Vocabulary) consoleCommand(ctx command.Context) error {
	if len(ctx.Args) == 0 {
		return errors.New("console command required")
	}
	if v.console == nil {
		return errors.New("no console attached")
	}
	return v.console.ExecuteConsole(ctx.Args[0], ctx.Args[1:])
}

func (v *Vocabulary) runSet(args []string, fromConsole bool) error {
	if len(args) < 2 {
		return v.set.report(fromConsole, "Target-template and value required")
	}

	name := args[0]
	field, ok := v.targets.Field(name)
	if !ok {
		return v.set.report(fromConsole, fmt.Sprintf("Failed to find member '%s'", name))
	}

	values, err := ResolveValues(args[1:], []Kind{field.Kind})
	if err != nil {
		return v.set.report(fromConsole, err.Error())
	}

	if err := field.Set(values[0]); err != nil {
		return v.set.report(fromConsole, fmt.Sprintf("Failed to set member '%s' to '%v': %v", name, values[0], err))
	}
	return nil
}

func (v *Vocabulary) runInvoke(args []string, fromConsole bool) error {
	if len(args) < 1 {
		return v.invoke.report(fromConsole, "Target-template required")
	}

	name := args[0]
	method, ok := v.targets.Method(name)
	if !ok {
		return v.invoke.report(fromConsole, fmt.Sprintf("Failed to find method '%s'", name))
	}

	values, err := ResolveValues(args[1:], method.Params)
	if err != nil {
		return v.invoke.report(fromConsole, err.Error())
	}

	if err := method.Call(values); err != nil {
		return v.invoke.report(fromConsole, fmt.Sprintf("Failed to invoke method '%s' with parameters '%s': %v", name, joinValues(values), err))
	}
	return nil
}

func joinValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ";")
}

// reporter routes argument errors. From the console they are printed and
// swallowed; from a script they fail the command, which aborts the run.
type reporter struct {
	prefix  string
	console Console
}

func (r reporter) report(fromConsole bool, msg string) error {
	text := r.prefix + msg
	if fromConsole && r.console != nil {
		r.console.Print(text)
		return nil
	}
	return errors.New(text)
}
