// Package playback drives a timeline frame by frame against a simulation.
package playback

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/framestep/tasbridge/internal/hotkey"
	"github.com/framestep/tasbridge/internal/input"
	"github.com/framestep/tasbridge/internal/queue"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

const meterName = "github.com/framestep/tasbridge/internal/playback"

// State is the playback mode.
type State int32

const (
	// Disabled means no TAS is active.
	Disabled State = iota
	// Running plays back at the current playback speed.
	Running
	// Paused holds the current frame.
	Paused
	// FrameAdvance plays exactly one frame, then pauses again.
	FrameAdvance
	// SlowForward plays while paused at the slow speed.
	SlowForward
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case FrameAdvance:
		return "FrameAdvance"
	case SlowForward:
		return "SlowForward"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Scene is what the simulation exposes about its current scene.
type Scene struct {
	Kind        string
	Level       string
	ChapterTime string
	Info        string
	Saving      bool
	HasPlayer   bool
	Remainder   studioproto.Vector2
}

// Simulation is the game being driven.
type Simulation interface {
	IsLoading() bool
	ApplyFrame(f *input.Frame)
	Scene() Scene
}

// StatePublisher receives the per-tick snapshot. SendState must not block.
type StatePublisher interface {
	SendState(state studioproto.State)
}

// Watcher reports script changes on disk.
type Watcher interface {
	Watch(tl *input.Timeline) error
	Dirty() bool
	Reset()
}

// CommandError is a runtime command failure that stopped the run.
type CommandError struct {
	Command string
	File    string
	Line    int
	Frame   int
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s at %s:%d (frame %d): %v", e.Command, e.File, e.Line, e.Frame, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Options configures a Manager.
type Options struct {
	Logger    *slog.Logger
	Hotkeys   *hotkey.Set
	Publisher StatePublisher
	Watcher   Watcher
	// Meter receives the playback counters. Defaults to the global provider.
	Meter metric.Meter

	FastForwardSpeed float64
	SlowForwardSpeed float64
}

// Manager owns the playback state machine. Update and UpdateMeta run on the
// playback goroutine once per host frame; other goroutines talk to it through
// AddMainThreadAction, EnableRunLater and DisableRunLater.
type Manager struct {
	sim       Simulation
	ctrl      *Controller
	logger    *slog.Logger
	hotkeys   *hotkey.Set
	publisher StatePublisher
	watcher   Watcher
	actions   *queue.Queue[func()]

	curr  State
	next  atomic.Int32
	speed float64

	fastForwardSpeed float64
	slowForwardSpeed float64
	subpixel         bool
	allowUnsafe      bool

	enableHooks  []func()
	disableHooks []func()
	failureHooks []func(*CommandError)
	loadHooks    []func(path string, err error)

	snapshot atomic.Pointer[studioproto.State]
}

// NewManager creates a disabled manager.
func NewManager(sim Simulation, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hotkeys == nil {
		opts.Hotkeys = hotkey.New()
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(meterName)
	}
	if opts.FastForwardSpeed <= 0 {
		opts.FastForwardSpeed = 10
	}
	if opts.SlowForwardSpeed <= 0 {
		opts.SlowForwardSpeed = 0.1
	}

	m := &Manager{
		sim:              sim,
		ctrl:             newController(sim, opts.Logger, opts.Meter),
		logger:           opts.Logger,
		hotkeys:          opts.Hotkeys,
		publisher:        opts.Publisher,
		watcher:          opts.Watcher,
		actions:          queue.New[func()](),
		speed:            1,
		fastForwardSpeed: opts.FastForwardSpeed,
		slowForwardSpeed: opts.SlowForwardSpeed,
	}
	m.ctrl.onFail = func(err *CommandError) {
		for _, fn := range m.failureHooks {
			fn(err)
		}
		m.DisableRun()
	}
	m.ctrl.onLoadFailed = func(err error) {
		for _, fn := range m.loadHooks {
			fn(m.ctrl.Path(), err)
		}
	}
	m.ctrl.onLoaded = func(tl *input.Timeline) {
		if m.watcher == nil {
			return
		}
		if err := m.watcher.Watch(tl); err != nil {
			m.logger.Warn("Failed to watch script files", "error", err)
		}
	}
	return m
}

// SetLoader sets the script loader. Call before the first EnableRun.
func (m *Manager) SetLoader(l Loader) {
	m.ctrl.loader = l
}

// SetPublisher sets where snapshots are pushed.
func (m *Manager) SetPublisher(p StatePublisher) {
	m.publisher = p
}

// Controller returns the playback cursor.
func (m *Manager) Controller() *Controller {
	return m.ctrl
}

// Hotkeys returns the hotkey set fed by the editor.
func (m *Manager) Hotkeys() *hotkey.Set {
	return m.hotkeys
}

// OnEnable registers a hook run every time a run starts.
func (m *Manager) OnEnable(fn func()) {
	m.enableHooks = append(m.enableHooks, fn)
}

// OnDisable registers a hook run every time a run stops.
func (m *Manager) OnDisable(fn func()) {
	m.disableHooks = append(m.disableHooks, fn)
}

// OnFailure registers a hook run when a runtime command stops the run. It
// runs before the disable hooks.
func (m *Manager) OnFailure(fn func(*CommandError)) {
	m.failureHooks = append(m.failureHooks, fn)
}

// OnLoadFailure registers a hook run when the script cannot be loaded.
func (m *Manager) OnLoadFailure(fn func(path string, err error)) {
	m.loadHooks = append(m.loadHooks, fn)
}

// Running reports whether a run is active.
func (m *Manager) Running() bool {
	return m.curr != Disabled
}

// State returns the current state.
func (m *Manager) State() State {
	return m.curr
}

// NextState returns the state requested for the next tick.
func (m *Manager) NextState() State {
	return State(m.next.Load())
}

func (m *Manager) setNext(s State) {
	m.next.Store(int32(s))
}

// PlaybackSpeed is the multiplier of the host frame rate.
func (m *Manager) PlaybackSpeed() float64 {
	return m.speed
}

// FastForwarding reports whether playback is fast enough to skip rendering.
func (m *Manager) FastForwarding() bool {
	return m.Running() && m.speed >= 5
}

// AllowUnsafe reports whether unsafe inputs are currently allowed.
func (m *Manager) AllowUnsafe() bool {
	return m.allowUnsafe
}

// SetAllowUnsafe is used by the Safe and Unsafe commands.
func (m *Manager) SetAllowUnsafe(allow bool) {
	m.allowUnsafe = allow
}

// SetPath changes the main script.
func (m *Manager) SetPath(path string) {
	m.ctrl.SetPath(path)
}

// ApplySettings takes the speeds and display options of the editor.
func (m *Manager) ApplySettings(s studioproto.Settings) {
	if s.FastForwardSpeed > 0 {
		m.fastForwardSpeed = s.FastForwardSpeed
	}
	if s.SlowForwardSpeed > 0 {
		m.slowForwardSpeed = s.SlowForwardSpeed
	}
	m.subpixel = s.InfoSubpixelIndicator
}

// EnableRun starts a run from frame 0. No-op while running.
func (m *Manager) EnableRun() {
	if m.Running() {
		return
	}

	m.logger.Info("Starting TAS", "file", m.ctrl.Path())

	m.curr = Running
	m.setNext(Running)
	m.speed = 1
	m.allowUnsafe = false

	for _, fn := range m.enableHooks {
		fn()
	}
	m.ctrl.Stop()
	m.ctrl.RefreshInputs(true)
}

// DisableRun stops the run. No-op while disabled.
func (m *Manager) DisableRun() {
	if !m.Running() {
		return
	}

	m.logger.Info("Stopping TAS", "frame", m.ctrl.CurrentFrameInTas(), "total", m.ctrl.TotalFrames())

	m.curr = Disabled
	m.setNext(Disabled)
	for _, fn := range m.disableHooks {
		fn()
	}
	m.ctrl.Stop()
}

// EnableRunLater starts the run on the next Update.
func (m *Manager) EnableRunLater() {
	m.setNext(Running)
}

// DisableRunLater stops the run on the next Update.
func (m *Manager) DisableRunLater() {
	m.setNext(Disabled)
}

// AddMainThreadAction queues fn to run at the start of the next Update.
func (m *Manager) AddMainThreadAction(fn func()) {
	m.actions.Push(fn)
}

// IsLoading reports whether the simulation is in a loading screen. Playback
// holds still while it is.
func (m *Manager) IsLoading() bool {
	return m.sim.IsLoading()
}

// Update is the core tick.
func (m *Manager) Update() {
	if !m.Running() && m.NextState() == Running {
		m.EnableRun()
	}
	if m.Running() && m.NextState() == Disabled {
		m.DisableRun()
	}

	m.curr = m.NextState()

	m.actions.Drain(func(fn func()) { fn() })

	if m.watcher != nil && m.watcher.Dirty() {
		m.watcher.Reset()
		m.ctrl.MarkNeedsReload()
	}

	if !m.Running() || m.curr == Paused || m.IsLoading() {
		return
	}

	// Only a running TAS is promoted; frame advance and slow forward keep
	// stepping even with a fast-forward ahead.
	if m.curr == Running && m.ctrl.HasFastForward() {
		m.setNext(Running)
	}

	if !m.ctrl.CanPlayback() {
		m.DisableRun()
		return
	}

	m.ctrl.AdvanceFrame()
	if !m.Running() {
		return
	}

	if m.ctrl.Break() {
		m.ctrl.NextLabelFastForward = nil
		m.setNext(Paused)
	}
}

// UpdateMeta is the meta tick. It runs even while disabled.
func (m *Manager) UpdateMeta() {
	m.hotkeys.Update()
	m.sendState()

	if m.hotkeys.Released(studioproto.HotkeyStartStop) {
		if m.Running() {
			m.DisableRun()
		} else {
			m.EnableRun()
		}
		return
	}

	if m.hotkeys.Released(studioproto.HotkeyRestart) {
		m.DisableRun()
		m.EnableRun()
		return
	}

	if m.Running() && m.hotkeys.Pressed(studioproto.HotkeyFastForwardComment) {
		if m.ctrl.FastForwardToNextLabel(m.fastForwardSpeed) {
			m.setNext(Running)
		}
		return
	}

	switch m.curr {
	case Running:
		if m.hotkeys.Pressed(studioproto.HotkeyPauseResume) {
			m.setNext(Paused)
		}
	case FrameAdvance:
		m.setNext(Paused)
	case Paused:
		if m.hotkeys.Pressed(studioproto.HotkeyPauseResume) {
			m.setNext(Running)
		} else if m.hotkeys.Pressed(studioproto.HotkeyFrameAdvance) || m.hotkeys.Check(studioproto.HotkeyFastForward) {
			m.setNext(FrameAdvance)
		}
	}

	slowHeld := m.hotkeys.Check(studioproto.HotkeySlowForward)
	switch next := m.NextState(); {
	case (next == Paused || next == SlowForward) && slowHeld:
		m.speed = m.slowForwardSpeed
		m.setNext(SlowForward)
	case next == Paused || next == SlowForward:
		m.speed = 1
		m.setNext(Paused)
	case next == Running && m.hotkeys.Check(studioproto.HotkeyFastForward):
		m.speed = m.fastForwardSpeed
	case next == Running && slowHeld:
		m.speed = m.slowForwardSpeed
	case next == FrameAdvance:
		m.speed = 1
	default:
		if ff := m.ctrl.CurrentFastForward(); ff != nil && m.ctrl.HasFastForward() {
			m.speed = ff.Speed
		} else {
			m.speed = 1
		}
	}
}

// Snapshot returns the last state pushed to the editor.
func (m *Manager) Snapshot() studioproto.State {
	if s := m.snapshot.Load(); s != nil {
		return *s
	}
	return studioproto.State{CurrentLine: -1, SaveStateLine: -1, PlaybackState: Disabled.String()}
}

// LogAttrs describes the playback position for log records. Safe from any goroutine.
func (m *Manager) LogAttrs() []slog.Attr {
	s := m.Snapshot()
	if s.PlaybackState == Disabled.String() {
		return nil
	}
	return []slog.Attr{
		slog.Int("frame", s.CurrentFrameInTas),
		slog.String("state", s.PlaybackState),
	}
}

func (m *Manager) sendState() {
	scene := m.sim.Scene()
	prev := m.ctrl.Previous()

	state := studioproto.State{
		CurrentLine:           -1,
		CurrentLineSuffix:     fmt.Sprintf("%d%s", m.ctrl.CurrentFrameInInput(), prev.RepeatString()),
		CurrentFrameInTas:     m.ctrl.CurrentFrameInTas(),
		TotalFrames:           m.ctrl.TotalFrames(),
		SaveStateLine:         m.ctrl.SaveStateLine(),
		PlaybackState:         m.curr.String(),
		GameInfo:              scene.Info,
		LevelName:             scene.Level,
		ChapterTime:           scene.ChapterTime,
		ShowSubpixelIndicator: m.subpixel && scene.HasPlayer,
		SubpixelRemainder:     scene.Remainder,
	}
	if prev != nil {
		state.CurrentLine = prev.Line
	}

	m.snapshot.Store(&state)
	if m.publisher != nil {
		m.publisher.SendState(state)
	}
}
