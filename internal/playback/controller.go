package playback

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/framestep/tasbridge/internal/command"
	"github.com/framestep/tasbridge/internal/input"
)

// Loader builds timelines from a script path.
type Loader interface {
	Load(path string) (*input.Timeline, error)
	Changed(tl *input.Timeline) bool
}

// Controller is the playback cursor over a timeline. All methods except
// SetPath and MarkNeedsReload belong to the playback goroutine.
type Controller struct {
	sim    Simulation
	logger *slog.Logger

	loader       Loader
	path         atomic.Pointer[string]
	tl           atomic.Pointer[input.Timeline]
	reload       atomic.Bool
	onLoaded     func(*input.Timeline)
	onFail       func(*CommandError)
	onLoadFailed func(error)

	cur         int
	initialized bool

	// NextLabelFastForward overrides breakpoints while fast forwarding to a label.
	NextLabelFastForward *input.FastForward

	frames   metric.Int64Counter
	commands metric.Int64Counter
	failures metric.Int64Counter
}

func newController(sim Simulation, logger *slog.Logger, m metric.Meter) *Controller {
	c := &Controller{sim: sim, logger: logger}

	c.frames, _ = m.Int64Counter("playback.frames",
		metric.WithDescription("Frames fed to the simulation"))
	c.commands, _ = m.Int64Counter("playback.commands",
		metric.WithDescription("Runtime commands executed"))
	c.failures, _ = m.Int64Counter("playback.command.failures",
		metric.WithDescription("Runtime commands that failed and stopped the run"))

	return c
}

// SetPath changes the main script. The timeline is rebuilt before the next frame.
func (c *Controller) SetPath(path string) {
	old := c.path.Load()
	c.path.Store(&path)
	if old == nil || *old != path {
		c.reload.Store(true)
	}
}

// Path returns the main script path.
func (c *Controller) Path() string {
	if p := c.path.Load(); p != nil {
		return *p
	}
	return ""
}

// MarkNeedsReload asks for the files to be re-checked before the next frame.
func (c *Controller) MarkNeedsReload() {
	c.reload.Store(true)
}

// NeedsReload reports whether a reload check is pending.
func (c *Controller) NeedsReload() bool {
	return c.reload.Load()
}

// Timeline returns the current timeline, nil when none is loaded.
func (c *Controller) Timeline() *input.Timeline {
	return c.tl.Load()
}

// RefreshInputs loads the timeline. With force the script is always parsed
// again; otherwise only when a file changed since the last load.
func (c *Controller) RefreshInputs(force bool) {
	c.reload.Store(false)
	if c.loader == nil {
		return
	}

	old := c.tl.Load()
	if !force && old != nil && !c.loader.Changed(old) {
		return
	}

	tl, err := c.loader.Load(c.Path())
	if err != nil {
		c.tl.Store(nil)
		if c.onLoadFailed != nil {
			c.onLoadFailed(err)
		}
		return
	}
	c.tl.Store(tl)
	if c.onLoaded != nil {
		c.onLoaded(tl)
	}
}

// Stop rewinds the cursor.
func (c *Controller) Stop() {
	c.cur = 0
	c.initialized = false
	c.NextLabelFastForward = nil
}

// Clear drops the timeline.
func (c *Controller) Clear() {
	c.Stop()
	c.tl.Store(nil)
}

// CurrentFrameInTas is the number of frames played so far.
func (c *Controller) CurrentFrameInTas() int {
	return c.cur
}

// TotalFrames is the length of the timeline.
func (c *Controller) TotalFrames() int {
	if tl := c.tl.Load(); tl != nil {
		return tl.TotalFrames()
	}
	return 0
}

// CanPlayback reports whether there is a frame left to play.
func (c *Controller) CanPlayback() bool {
	return c.cur < c.TotalFrames()
}

// Previous is the input line of the frame played last.
func (c *Controller) Previous() *input.Frame {
	tl := c.tl.Load()
	if tl == nil || c.cur == 0 || c.cur > tl.TotalFrames() {
		return nil
	}
	return tl.Inputs[c.cur-1]
}

// Current is the input line of the next frame to play.
func (c *Controller) Current() *input.Frame {
	tl := c.tl.Load()
	if tl == nil || c.cur >= tl.TotalFrames() {
		return nil
	}
	return tl.Inputs[c.cur]
}

// CurrentFrameInInput is how many frames of the previous input line were played.
func (c *Controller) CurrentFrameInInput() int {
	prev := c.Previous()
	if prev == nil {
		return 0
	}
	inputs := c.tl.Load().Inputs
	n := 0
	for i := c.cur - 1; i >= 0 && inputs[i] == prev; i-- {
		n++
	}
	return n
}

// CurrentFastForward is the breakpoint the cursor is heading to.
func (c *Controller) CurrentFastForward() *input.FastForward {
	if c.NextLabelFastForward != nil {
		return c.NextLabelFastForward
	}
	tl := c.tl.Load()
	if tl == nil {
		return nil
	}
	if ff, ok := tl.NextFastForward(c.cur); ok {
		return &ff
	}
	if ff, ok := tl.LastFastForward(); ok {
		return &ff
	}
	return nil
}

// HasFastForward reports whether a breakpoint lies ahead.
func (c *Controller) HasFastForward() bool {
	ff := c.CurrentFastForward()
	return ff != nil && ff.Frame > c.cur
}

// Break reports whether the cursor sits on a breakpoint that is not the end.
func (c *Controller) Break() bool {
	ff := c.CurrentFastForward()
	return ff != nil && ff.Frame == c.cur && c.cur < c.TotalFrames()
}

// SaveStateLine is the line of the last save-state breakpoint reached, or -1.
func (c *Controller) SaveStateLine() int {
	tl := c.tl.Load()
	if tl == nil {
		return -1
	}
	line := -1
	for _, ff := range tl.FastForwards {
		if ff.Frame > c.cur {
			break
		}
		if ff.SaveState {
			line = ff.Line
		}
	}
	return line
}

// FastForwardToNextLabel targets the next label after the cursor at speed.
// It returns false when there is none.
func (c *Controller) FastForwardToNextLabel(speed float64) bool {
	c.NextLabelFastForward = nil
	tl := c.tl.Load()
	if tl == nil {
		return false
	}
	label, ok := tl.NextLabel(c.cur)
	if !ok {
		return false
	}
	c.NextLabelFastForward = &input.FastForward{Frame: label.Frame, Line: label.Line, Speed: speed}
	return true
}

// AdvanceFrame feeds one frame to the simulation and runs the commands bound
// to the frame the cursor lands on. The commands of frame 0 run before the
// very first frame.
func (c *Controller) AdvanceFrame() {
	if c.reload.Load() {
		c.RefreshInputs(false)
	}

	tl := c.tl.Load()
	if tl == nil || c.cur >= tl.TotalFrames() {
		return
	}

	if !c.initialized {
		c.initialized = true
		if !c.runCommands(tl, 0) {
			return
		}
	}

	c.sim.ApplyFrame(tl.Inputs[c.cur])
	c.cur++
	c.frames.Add(context.Background(), 1)

	if c.cur < tl.TotalFrames() {
		c.runCommands(tl, c.cur)
	}
}

// runCommands runs the runtime commands of frame in order. It stops at the
// first failure, reports it and returns false.
func (c *Controller) runCommands(tl *input.Timeline, frame int) bool {
	for _, cmd := range tl.CommandsAt(frame) {
		if !cmd.Attr.Timing.Has(command.TimingRuntime) {
			continue
		}
		if tl.EnforceLegal && cmd.Attr.IllegalInMainGame {
			c.logger.Warn("Command is not allowed in the main game", "command", cmd.String(), "file", cmd.FilePath, "line", cmd.FileLine)
			continue
		}

		c.commands.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", cmd.Attr.Name)))
		if err := cmd.Invoke(); err != nil {
			c.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", cmd.Attr.Name)))
			c.logger.Error("Command failed",
				"command", cmd.String(),
				"file", cmd.FilePath,
				"line", cmd.FileLine,
				"frame", frame,
				"error", err)
			if c.onFail != nil {
				c.onFail(&CommandError{
					Command: cmd.String(),
					File:    cmd.FilePath,
					Line:    cmd.FileLine,
					Frame:   frame,
					Err:     err,
				})
			}
			return false
		}
	}
	return true
}
