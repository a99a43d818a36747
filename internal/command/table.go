package command

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	checkSpaceRegex = regexp.MustCompile(`^[^,]+?\s+[^,]`)
	spaceRegex      = regexp.MustCompile(`\s+`)
)

// Split tokenizes a command line. The separator is decided by the line itself:
// whitespace when the first token is followed by whitespace before any comma,
// commas otherwise. Every token is trimmed.
func Split(line string) []string {
	trimmed := strings.TrimSpace(line)

	var args []string
	if checkSpaceRegex.MatchString(trimmed) {
		args = spaceRegex.Split(trimmed, -1)
	} else {
		args = strings.Split(trimmed, ",")
	}

	for i, arg := range args {
		args[i] = strings.TrimSpace(arg)
	}
	return args
}

// IsCommandLine reports whether the line starts with a letter.
func IsCommandLine(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	return r != utf8.RuneError && unicode.IsLetter(r)
}

// Sink receives parsed commands. Its current frame is the insertion cursor.
type Sink interface {
	CurrentFrame() int
	AddCommand(c *Command)
}

// Source identifies the line being parsed.
type Source struct {
	FilePath   string
	FileLine   int
	StudioLine int
}

// Table turns script lines into commands using a registry.
type Table struct {
	registry *Registry
	logger   *slog.Logger
}

// NewTable creates a command table.
func NewTable(registry *Registry, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{registry: registry, logger: logger}
}

// Registry returns the lookup table used by the command table.
func (t *Table) Registry() *Registry {
	return t.registry
}

// TryParse parses text as a command. Lines that do not start with a registered
// command name are not handled and never produce an error. A handled command is
// bound to the sink's current frame, run immediately if it has parse timing,
// and appended to the sink. stop is true when the command delegated the rest of
// the current file elsewhere.
func (t *Table) TryParse(sink Sink, src Source, text string) (handled, stop bool, err error) {
	text = strings.TrimSpace(text)
	if !IsCommandLine(text) {
		return false, false, nil
	}

	args := Split(text)
	def, ok := t.registry.Lookup(args[0])
	if !ok {
		return false, false, nil
	}

	cmd := &Command{
		Attr:       def.Attribute,
		Frame:      sink.CurrentFrame(),
		Args:       args[1:],
		Text:       text,
		FilePath:   src.FilePath,
		FileLine:   src.FileLine,
		StudioLine: src.StudioLine,
		handler:    def.Handler,
	}

	skipped := false
	if def.Timing.Has(TimingParse) {
		if err := cmd.call(TimingParse); err != nil {
			if !errors.Is(err, ErrSkipped) {
				return true, false, fmt.Errorf("%s at %s: %w", cmd.Attr.Name, cmd.Location(), err)
			}
			skipped = true
			t.logger.Debug("Command skipped", "command", cmd.String(), "file", src.FilePath, "line", src.FileLine)
		}
	}

	sink.AddCommand(cmd)

	return true, def.Terminates && !skipped, nil
}
