// Package command parses script lines into commands bound to a frame and runs them.
package command

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrSkipped is returned by a handler that refused to act and only warned.
// The command still counts as handled but does not terminate the current file.
var ErrSkipped = errors.New("command skipped")

// Timing selects when a command runs. Both bits may be set.
type Timing uint8

const (
	// TimingParse runs while the script is being loaded, before playback.
	TimingParse Timing = 1 << iota
	// TimingRuntime runs when the playback cursor reaches the command's frame.
	TimingRuntime
)

// Has reports whether every bit of o is set in t.
func (t Timing) Has(o Timing) bool {
	return t&o == o
}

func (t Timing) String() string {
	switch t {
	case TimingParse:
		return "parse"
	case TimingRuntime:
		return "runtime"
	case TimingParse | TimingRuntime:
		return "parse|runtime"
	default:
		return "none"
	}
}

// Attribute is the metadata of a registered command.
type Attribute struct {
	Name    string
	Aliases []string
	Timing  Timing

	// IllegalInMainGame marks commands that are skipped once EnforceLegal is active.
	IllegalInMainGame bool

	// Terminates stops the loader from reading the rest of the current file
	// after the command succeeded, its continuation having been spliced in.
	Terminates bool
}

// IsName reports whether name is the command name or one of its aliases.
func (a Attribute) IsName(name string) bool {
	return a.Name == name || slices.Contains(a.Aliases, name)
}

// Context is what a handler receives on every invocation.
type Context struct {
	Args       []string
	Text       string // trimmed source line
	FilePath   string
	FileLine   int // 1-based line inside FilePath
	StudioLine int // 0-based line inside the main file
	Frame      int
	Phase      Timing
}

// HandlerFunc executes a command.
type HandlerFunc func(ctx Context) error

// Definition binds an attribute to its handler.
type Definition struct {
	Attribute
	Handler HandlerFunc
}

// Command is a parsed directive bound to a frame.
type Command struct {
	Attr       Attribute
	Frame      int
	Args       []string
	Text       string
	FilePath   string
	FileLine   int
	StudioLine int

	handler HandlerFunc
}

// Invoke runs the command with runtime timing. A panicking handler is
// converted into an error.
func (c *Command) Invoke() error {
	return c.call(TimingRuntime)
}

func (c *Command) call(phase Timing) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", c.Attr.Name, r)
		}
	}()

	return c.handler(Context{
		Args:       c.Args,
		Text:       c.Text,
		FilePath:   c.FilePath,
		FileLine:   c.FileLine,
		StudioLine: c.StudioLine,
		Frame:      c.Frame,
		Phase:      phase,
	})
}

// String renders the command the way it would appear in a script.
func (c *Command) String() string {
	if len(c.Args) == 0 {
		return c.Attr.Name
	}
	return c.Attr.Name + ", " + strings.Join(c.Args, ", ")
}

// Location describes where the command was written.
func (c *Command) Location() string {
	return fmt.Sprintf("%s:%d", c.FilePath, c.FileLine)
}
