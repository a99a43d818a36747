package input

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/framestep/tasbridge/internal/command"
)

// FastForward is a breakpoint written as "***", "***N" or "***!".
type FastForward struct {
	Frame     int
	Line      int
	Speed     float64
	SaveState bool
}

// Label is a "#text" marker.
type Label struct {
	Frame int
	Line  int
	Text  string
}

// IsFastForwardLine reports whether the trimmed line starts with "***".
func IsFastForwardLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "***")
}

// ParseFastForward parses a breakpoint line. defaultSpeed is used when no
// speed is written.
func ParseFastForward(text string, frame, line int, defaultSpeed float64) (FastForward, error) {
	rest := strings.TrimPrefix(strings.TrimSpace(text), "***")
	ff := FastForward{Frame: frame, Line: line, Speed: defaultSpeed}

	if strings.HasPrefix(rest, "!") {
		ff.SaveState = true
		rest = rest[1:]
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return ff, nil
	}

	speed, err := strconv.ParseFloat(rest, 64)
	if err != nil || speed <= 0 {
		return ff, fmt.Errorf("%w: fast forward speed %q", ErrInvalidInput, rest)
	}
	ff.Speed = speed
	return ff, nil
}

// Timeline is the result of loading a script. It is only mutated while
// loading; playback swaps whole timelines.
type Timeline struct {
	FilePath     string
	Inputs       []*Frame
	Commands     map[int][]*command.Command
	FastForwards []FastForward
	Labels       []Label
	Checksums    map[string]uint64

	// EnforceLegal skips commands that are not allowed in the main game.
	EnforceLegal bool
}

// NewTimeline creates an empty timeline for the main script at path.
func NewTimeline(path string) *Timeline {
	return &Timeline{
		FilePath:  path,
		Commands:  make(map[int][]*command.Command),
		Checksums: make(map[string]uint64),
	}
}

// CurrentFrame is the insertion cursor: the frame the next input line starts at.
func (t *Timeline) CurrentFrame() int {
	return len(t.Inputs)
}

// TotalFrames is the number of simulated frames.
func (t *Timeline) TotalFrames() int {
	return len(t.Inputs)
}

// AddCommand appends c to the commands of its frame.
func (t *Timeline) AddCommand(c *command.Command) {
	t.Commands[c.Frame] = append(t.Commands[c.Frame], c)
}

// CommandsAt returns the commands bound to frame in insertion order.
func (t *Timeline) CommandsAt(frame int) []*command.Command {
	return t.Commands[frame]
}

// AddFrame appends f once per frame it lasts.
func (t *Timeline) AddFrame(f *Frame) {
	for range f.Frames {
		t.Inputs = append(t.Inputs, f)
	}
}

// AddFastForward records a breakpoint. A later breakpoint on the same frame
// replaces the earlier one.
func (t *Timeline) AddFastForward(ff FastForward) {
	if n := len(t.FastForwards); n > 0 && t.FastForwards[n-1].Frame == ff.Frame {
		t.FastForwards[n-1] = ff
		return
	}
	t.FastForwards = append(t.FastForwards, ff)
}

// AddLabel records a label at the insertion cursor.
func (t *Timeline) AddLabel(l Label) {
	t.Labels = append(t.Labels, l)
}

// NextFastForward returns the first breakpoint at or after frame.
func (t *Timeline) NextFastForward(frame int) (FastForward, bool) {
	for _, ff := range t.FastForwards {
		if ff.Frame >= frame {
			return ff, true
		}
	}
	return FastForward{}, false
}

// LastFastForward returns the last breakpoint of the timeline.
func (t *Timeline) LastFastForward() (FastForward, bool) {
	if len(t.FastForwards) == 0 {
		return FastForward{}, false
	}
	return t.FastForwards[len(t.FastForwards)-1], true
}

// NextLabel returns the first label strictly after frame.
func (t *Timeline) NextLabel(frame int) (Label, bool) {
	for _, l := range t.Labels {
		if l.Frame > frame {
			return l, true
		}
	}
	return Label{}, false
}

// Validate checks that every runtime command is bound to a playable frame.
func (t *Timeline) Validate() error {
	total := t.TotalFrames()
	for frame, cmds := range t.Commands {
		for _, c := range cmds {
			if !c.Attr.Timing.Has(command.TimingRuntime) {
				continue
			}
			if frame < 0 || frame >= total {
				return fmt.Errorf("%s at %s is bound to frame %d but the script has %d frames",
					c.Attr.Name, c.Location(), frame, total)
			}
		}
	}
	return nil
}
