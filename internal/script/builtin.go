package script

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/framestep/tasbridge/internal/command"
	"github.com/framestep/tasbridge/internal/input"
)

type repeatBlock struct {
	file       string
	fileLine   int
	studioLine int
	count      int
	index      int
}

func (l *Loader) definitions() []command.Definition {
	return []command.Definition{
		{
			Attribute: command.Attribute{Name: "Read", Timing: command.TimingParse},
			Handler:   l.read,
		},
		{
			Attribute: command.Attribute{Name: "Play", Timing: command.TimingParse, Terminates: true},
			Handler:   l.play,
		},
		{
			Attribute: command.Attribute{Name: "Repeat", Timing: command.TimingParse},
			Handler:   l.beginRepeat,
		},
		{
			Attribute: command.Attribute{Name: "EndRepeat", Timing: command.TimingParse},
			Handler:   l.endRepeat,
		},
		{
			Attribute: command.Attribute{Name: "EnforceLegal", Aliases: []string{"EnforceMainGame"}, Timing: command.TimingParse},
			Handler: func(command.Context) error {
				l.tl.EnforceLegal = true
				return nil
			},
		},
	}
}

// read handles "Read, path[, start[, end]]".
func (l *Loader) read(ctx command.Context) error {
	if len(ctx.Args) == 0 {
		return nil
	}
	args := strings.Join(ctx.Args, ", ")

	path, ok := l.resolvePath(ctx.Args[0], ctx.FilePath)
	if !ok {
		return &LoadError{Toast: fmt.Sprintf("\"Read, %s\" failed\nFile not found", args), Err: ErrFileNotFound}
	}
	if samePath(path, ctx.FilePath) {
		return &LoadError{Toast: fmt.Sprintf("\"Read, %s\" failed\nDo not allow reading the file itself", args), Err: ErrSelfRead}
	}

	start, end := 0, math.MaxInt
	var err error
	if len(ctx.Args) > 1 {
		if start, err = ResolveLine(l.fs, ctx.Args[1], path); err != nil {
			return err
		}
	}
	if len(ctx.Args) > 2 {
		if end, err = ResolveLine(l.fs, ctx.Args[2], path); err != nil {
			return err
		}
	}

	desc := fmt.Sprintf("Read, %s: line %d of the file \"%s\"", args, ctx.FileLine, ctx.FilePath)
	if slices.Contains(l.stack, desc) {
		chain := append(slices.Clone(l.stack), desc)
		return &LoadError{
			Toast: "Multiple read commands lead to dead loops\nPlease check the log for more details",
			Log:   "Multiple read commands lead to dead loops:\n" + strings.Join(chain, "\n"),
			Stack: chain,
			Err:   ErrDeadLoop,
		}
	}

	l.stack = append(l.stack, desc)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()

	return l.readFile(path, start, end, ctx.StudioLine)
}

// play handles "Play, startLabelOrLine[, framesToWait]". Only forward jumps in
// the main file are allowed.
func (l *Loader) play(ctx command.Context) error {
	if len(ctx.Args) == 0 {
		return errors.New("missing start line")
	}

	start, err := ResolveLine(l.fs, ctx.Args[0], l.mainPath)
	if err != nil {
		return err
	}
	if start <= ctx.StudioLine+1 {
		l.logger.Warn("Play command does not allow playback from before the current line",
			"command", ctx.Text, "file", ctx.FilePath, "line", ctx.FileLine)
		return command.ErrSkipped
	}

	if len(ctx.Args) > 1 {
		if wait, err := strconv.Atoi(ctx.Args[1]); err == nil && wait > 0 {
			l.tl.AddFrame(&input.Frame{Frames: wait, Line: ctx.StudioLine, Magnitude: 1})
		}
	}

	return l.readFile(l.mainPath, start, math.MaxInt, start-1)
}

func (l *Loader) beginRepeat(ctx command.Context) error {
	if l.repeat != nil {
		return fmt.Errorf("nested Repeat, the open one is at %s:%d", l.repeat.file, l.repeat.fileLine)
	}
	if len(ctx.Args) == 0 {
		return errors.New("missing repeat count")
	}
	count, err := strconv.Atoi(ctx.Args[0])
	if err != nil || count < 1 {
		return fmt.Errorf("invalid repeat count %q", ctx.Args[0])
	}

	l.repeat = &repeatBlock{
		file:       ctx.FilePath,
		fileLine:   ctx.FileLine,
		studioLine: ctx.StudioLine,
		count:      count,
		index:      1,
	}
	return nil
}

func (l *Loader) endRepeat(ctx command.Context) error {
	block := l.repeat
	if block == nil {
		return errors.New("EndRepeat without Repeat")
	}
	if !samePath(block.file, ctx.FilePath) {
		return fmt.Errorf("EndRepeat in %s closes Repeat of %s", ctx.FilePath, block.file)
	}

	defer func() { l.repeat = nil }()
	for i := 2; i <= block.count; i++ {
		block.index = i
		if err := l.readFile(block.file, block.fileLine+1, ctx.FileLine-1, block.studioLine); err != nil {
			return err
		}
	}
	return nil
}
