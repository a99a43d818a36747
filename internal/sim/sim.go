// Package sim is a headless platformer the host can drive without a game.
package sim

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/framestep/tasbridge/internal/commands"
	"github.com/framestep/tasbridge/internal/input"
	"github.com/framestep/tasbridge/internal/playback"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

const (
	// LoadingFrames is how long a level load keeps the simulation busy.
	LoadingFrames = 3

	runSpeed   = 1.5
	jumpSpeed  = -4.0
	gravity    = 0.25
	dashFactor = 2.5
	fps        = 60
)

// ConsoleFunc handles a console command.
type ConsoleFunc func(args []string) error

// Player is the only entity.
type Player struct {
	Position studioproto.Vector2
	Speed    studioproto.Vector2
	OnGround bool
	Dashes   int
}

// Config configures a Simulation.
type Config struct {
	Level  string
	ModURL string
	Logger *slog.Logger
}

// Simulation is driven from the playback goroutine; only Print may be called
// from elsewhere.
type Simulation struct {
	cfg    Config
	logger *slog.Logger

	targets *commands.Targets
	console map[string]ConsoleFunc

	player  Player
	level   string
	frames  int
	loading int
	gravity float64

	template string
	watched  []string

	printMu sync.Mutex
	printed []string
}

var (
	_ playback.Simulation = (*Simulation)(nil)
	_ playback.DataSource = (*Simulation)(nil)
	_ commands.Console    = (*Simulation)(nil)
)

// New creates a simulation standing on the ground of cfg.Level and registers
// its fields and methods with targets.
func New(cfg Config, targets *commands.Targets) (*Simulation, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Level == "" {
		cfg.Level = "1A"
	}
	s := &Simulation{
		cfg:     cfg,
		logger:  cfg.Logger,
		targets: targets,
		console: make(map[string]ConsoleFunc),
		level:   cfg.Level,
		gravity: gravity,
		player:  Player{OnGround: true, Dashes: 1},
	}
	s.console["load"] = s.load
	if err := s.registerTargets(); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterConsole adds a console command. Later registrations win.
func (s *Simulation) RegisterConsole(name string, fn ConsoleFunc) {
	s.console[strings.ToLower(name)] = fn
}

// Tick runs once per host frame whether or not a TAS is playing.
func (s *Simulation) Tick() {
	if s.loading > 0 {
		s.loading--
	}
}

// IsLoading reports whether a level is loading.
func (s *Simulation) IsLoading() bool {
	return s.loading > 0
}

// Player returns a copy of the player.
func (s *Simulation) Player() Player {
	return s.player
}

// Frames is the number of frames simulated since the last load.
func (s *Simulation) Frames() int {
	return s.frames
}

// ApplyFrame advances the simulation by one frame with the given inputs.
func (s *Simulation) ApplyFrame(f *input.Frame) {
	s.frames++
	p := &s.player

	switch {
	case f.Actions.Has(input.ActionFeather):
		rad := f.Angle * math.Pi / 180
		p.Speed.X = math.Sin(rad) * f.Magnitude * runSpeed
	case f.Actions.Has(input.ActionRight):
		p.Speed.X = runSpeed
	case f.Actions.Has(input.ActionLeft):
		p.Speed.X = -runSpeed
	default:
		p.Speed.X = 0
	}

	jump := f.Actions.Has(input.ActionJump) || f.Actions.Has(input.ActionJump2)
	if jump && p.OnGround {
		p.Speed.Y = jumpSpeed
		p.OnGround = false
	}

	dash := f.Actions.Has(input.ActionDash) || f.Actions.Has(input.ActionDash2)
	if dash && p.Dashes > 0 && p.Speed.X != 0 {
		p.Speed.X *= dashFactor
		p.Dashes--
	}
	if !p.OnGround {
		p.Speed.Y += s.gravity
	}

	p.Position.X += p.Speed.X
	p.Position.Y += p.Speed.Y
	if p.Position.Y >= 0 {
		p.Position.Y = 0
		p.Speed.Y = 0
		p.OnGround = true
		p.Dashes = 1
	}
}

// Scene describes the current scene.
func (s *Simulation) Scene() playback.Scene {
	kind := "Level"
	if s.IsLoading() {
		kind = "Loading"
	}
	return playback.Scene{
		Kind:        kind,
		Level:       s.level,
		ChapterTime: formatTime(s.frames),
		Info:        s.info(),
		HasPlayer:   !s.IsLoading(),
		Remainder:   remainder(s.player.Position),
	}
}

func (s *Simulation) info() string {
	var b strings.Builder
	b.WriteString(s.ExactGameInfo())
	if s.template != "" {
		b.WriteString("\n")
		b.WriteString(s.renderTemplate(s.template))
	}
	for _, name := range s.watched {
		fmt.Fprintf(&b, "\n%s: %v", name, s.value(name))
	}
	return b.String()
}

// ExecuteConsole runs a console command.
func (s *Simulation) ExecuteConsole(name string, args []string) error {
	fn, ok := s.console[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown console command: %s", name)
	}
	return fn(args)
}

// Print writes to the in-game console.
func (s *Simulation) Print(text string) {
	s.printMu.Lock()
	s.printed = append(s.printed, text)
	s.printMu.Unlock()
	s.logger.Info(text, "source", "console")
}

// Printed returns everything written to the console.
func (s *Simulation) Printed() []string {
	s.printMu.Lock()
	defer s.printMu.Unlock()
	return append([]string(nil), s.printed...)
}

// load handles "load [level] [x y]".
func (s *Simulation) load(args []string) error {
	level := s.level
	if len(args) > 0 {
		level = args[0]
	}
	var pos studioproto.Vector2
	if len(args) >= 3 {
		x, err := cast.ToFloat64E(args[1])
		if err != nil {
			return fmt.Errorf("load: invalid x %q", args[1])
		}
		y, err := cast.ToFloat64E(args[2])
		if err != nil {
			return fmt.Errorf("load: invalid y %q", args[2])
		}
		pos = studioproto.Vector2{X: x, Y: y}
	}

	s.level = level
	s.frames = 0
	s.loading = LoadingFrames
	s.player = Player{Position: pos, OnGround: pos.Y >= 0, Dashes: 1}
	s.logger.Debug("Loading level", "level", level, "x", pos.X, "y", pos.Y)
	return nil
}

// ConsoleCommandText is the console command that recreates the current position.
func (s *Simulation) ConsoleCommandText(simple bool) string {
	if simple {
		return "load " + s.level
	}
	return fmt.Sprintf("load %s %s %s", s.level,
		cast.ToString(s.player.Position.X), cast.ToString(s.player.Position.Y))
}

func (s *Simulation) ModURL() string {
	return s.cfg.ModURL
}

func (s *Simulation) ModInfo() string {
	return "tasbridge headless simulation"
}

// ExactGameInfo is the full precision position and speed.
func (s *Simulation) ExactGameInfo() string {
	p := s.player
	return fmt.Sprintf("Pos:   %.8f, %.8f\nSpeed: %.8f, %.8f", p.Position.X, p.Position.Y, p.Speed.X, p.Speed.Y)
}

// RawInfo evaluates the space separated target names in template. A single
// value is returned unwrapped unless alwaysList is set.
func (s *Simulation) RawInfo(template string, alwaysList bool) any {
	names := strings.Fields(template)
	values := make([]any, 0, len(names))
	for _, name := range names {
		values = append(values, s.value(name))
	}
	if len(values) == 1 && !alwaysList {
		return values[0]
	}
	return values
}

func (s *Simulation) GameState() *studioproto.GameState {
	p := s.player
	return &studioproto.GameState{
		Frame:     s.frames,
		Level:     s.level,
		Scene:     s.Scene().Kind,
		Position:  p.Position,
		Speed:     p.Speed,
		Remainder: remainder(p.Position),
		Loading:   s.IsLoading(),
	}
}

func (s *Simulation) CustomInfoTemplate() string {
	return s.template
}

func (s *Simulation) SetCustomInfoTemplate(template string) {
	s.template = template
}

// ClearWatch forgets every watched target.
func (s *Simulation) ClearWatch() {
	s.watched = nil
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

func (s *Simulation) renderTemplate(template string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		return fmt.Sprint(s.value(strings.TrimSpace(m[1 : len(m)-1])))
	})
}

func (s *Simulation) value(name string) any {
	f, ok := s.targets.Field(name)
	if !ok || f.Get == nil {
		return "<unknown " + name + ">"
	}
	return f.Get()
}

func formatTime(frames int) string {
	ms := frames * 1000 / fps
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, ms/1000%60, ms%1000)
}

func remainder(pos studioproto.Vector2) studioproto.Vector2 {
	return studioproto.Vector2{X: pos.X - math.Round(pos.X), Y: pos.Y - math.Round(pos.Y)}
}
