// Package script loads TAS files into an input timeline.
package script

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/framestep/tasbridge/internal/command"
	"github.com/framestep/tasbridge/internal/input"
	"github.com/framestep/tasbridge/internal/toast"
)

// DefaultBreakpointSpeed is the playback speed towards a "***" breakpoint.
const DefaultBreakpointSpeed = 400

// Config holds the loader dependencies.
type Config struct {
	Fs      afero.Fs
	Logger  *slog.Logger
	Toaster toast.Toaster

	// OnAbort is called after a load failed, usually to disable the run later.
	OnAbort func()

	BreakpointSpeed float64
}

// Loader builds timelines. One load runs at a time.
type Loader struct {
	fs      afero.Fs
	logger  *slog.Logger
	toaster toast.Toaster
	onAbort func()
	ffSpeed float64
	table   *command.Table

	mu       sync.Mutex
	mainPath string
	tl       *input.Timeline
	stack    []string
	repeat   *repeatBlock
}

// New creates a loader. The loader registers Read, Play, Repeat, EndRepeat
// and EnforceLegal itself; defs adds the rest of the vocabulary.
func New(cfg Config, defs ...command.Definition) (*Loader, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Toaster == nil {
		cfg.Toaster = toast.NewLog(cfg.Logger)
	}
	if cfg.OnAbort == nil {
		cfg.OnAbort = func() {}
	}
	if cfg.BreakpointSpeed <= 0 {
		cfg.BreakpointSpeed = DefaultBreakpointSpeed
	}

	l := &Loader{
		fs:      cfg.Fs,
		logger:  cfg.Logger,
		toaster: cfg.Toaster,
		onAbort: cfg.OnAbort,
		ffSpeed: cfg.BreakpointSpeed,
	}

	registry, err := command.NewRegistry(append(l.definitions(), defs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build command registry: %w", err)
	}
	l.table = command.NewTable(registry, cfg.Logger)

	return l, nil
}

// Registry returns the command registry used for parsing.
func (l *Loader) Registry() *command.Registry {
	return l.table.Registry()
}

// StackDepth is the number of Read commands being expanded. Zero outside Load.
func (l *Loader) StackDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stack)
}

// Load reads the script at path and everything it includes. On failure the
// player is notified, OnAbort is called and no timeline is returned.
func (l *Loader) Load(path string) (*input.Timeline, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stack = l.stack[:0]
	l.repeat = nil
	l.mainPath = path
	l.tl = input.NewTimeline(path)
	defer func() {
		l.stack = l.stack[:0]
		l.repeat = nil
		l.tl = nil
	}()

	tl := l.tl
	err := l.readFile(path, 0, math.MaxInt, 0)
	if err == nil && l.repeat != nil {
		l.logger.Warn("Repeat without EndRepeat", "file", l.repeat.file, "line", l.repeat.fileLine)
	}
	if err == nil {
		err = tl.Validate()
	}
	if err != nil {
		l.report(path, err)
		return nil, err
	}

	l.logger.Debug("Script loaded", "file", path, "frames", tl.TotalFrames(), "files", len(tl.Checksums))
	return tl, nil
}

func (l *Loader) report(path string, err error) {
	var le *LoadError
	if errors.As(err, &le) {
		l.toaster.Show(le.Toast)
		if le.Log != "" {
			l.logger.Warn(le.Log)
		} else {
			l.logger.Warn(le.Toast, "error", err)
		}
	} else {
		l.toaster.Show(fmt.Sprintf("Failed to load %s\n%v", path, err))
		l.logger.Error("Failed to load script", "file", path, "error", err)
	}
	l.onAbort()
}

// readFile parses lines [start, end] of path into the timeline. Lines of the
// main file map to their own studio line; lines of included files map to the
// line of the including command.
func (l *Loader) readFile(path string, start, end, studioLine int) error {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	l.tl.Checksums[path] = xxhash.Sum64(data)

	isMain := samePath(path, l.mainPath)
	lines := strings.Split(string(data), "\n")
	for i, raw := range lines {
		fileLine := i + 1
		if fileLine < start {
			continue
		}
		if fileLine > end {
			break
		}

		sl := studioLine
		if isMain {
			sl = i
		}

		stop, err := l.parseLine(path, fileLine, sl, isMain, strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}

func (l *Loader) parseLine(path string, fileLine, studioLine int, isMain bool, text string) (bool, error) {
	switch {
	case text == "":
		return false, nil

	case strings.HasPrefix(text, "#"):
		if isMain {
			l.tl.AddLabel(input.Label{Frame: l.tl.CurrentFrame(), Line: studioLine, Text: text[1:]})
		}
		return false, nil

	case input.IsFastForwardLine(text):
		if !isMain {
			return false, nil
		}
		ff, err := input.ParseFastForward(text, l.tl.CurrentFrame(), studioLine, l.ffSpeed)
		if err != nil {
			return false, fmt.Errorf("%s:%d: %w", path, fileLine, err)
		}
		l.tl.AddFastForward(ff)
		return false, nil

	case command.IsCommandLine(text):
		_, stop, err := l.table.TryParse(l.tl, command.Source{
			FilePath:   path,
			FileLine:   fileLine,
			StudioLine: studioLine,
		}, text)
		return stop, err

	case input.IsInputLine(text):
		f, err := input.ParseFrame(text, studioLine)
		if err != nil {
			return false, fmt.Errorf("%s:%d: %w", path, fileLine, err)
		}
		if l.repeat != nil {
			f.RepeatIndex = l.repeat.index
			f.RepeatCount = l.repeat.count
		}
		l.tl.AddFrame(f)
		return false, nil

	default:
		return false, nil
	}
}
