// Package input holds the frame-indexed timeline built from a script.
package input

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidInput is returned for input lines that cannot be parsed.
var ErrInvalidInput = errors.New("invalid input line")

// MaxFrames caps the repeat count of a single input line.
const MaxFrames = 9999

// Actions is a bitmask of buttons held during a frame.
type Actions uint32

const (
	ActionRight Actions = 1 << iota
	ActionLeft
	ActionUp
	ActionDown
	ActionJump
	ActionJump2
	ActionDash
	ActionDash2
	ActionDemoDash
	ActionGrab
	ActionStart
	ActionRestart
	ActionJournal
	ActionConfirm
	ActionFeather
)

var actionLetters = []struct {
	letter rune
	action Actions
}{
	{'R', ActionRight},
	{'L', ActionLeft},
	{'U', ActionUp},
	{'D', ActionDown},
	{'J', ActionJump},
	{'K', ActionJump2},
	{'X', ActionDash},
	{'C', ActionDash2},
	{'Z', ActionDemoDash},
	{'G', ActionGrab},
	{'S', ActionStart},
	{'Q', ActionRestart},
	{'N', ActionJournal},
	{'O', ActionConfirm},
	{'F', ActionFeather},
}

func actionFor(r rune) (Actions, bool) {
	for _, a := range actionLetters {
		if a.letter == r {
			return a.action, true
		}
	}
	return 0, false
}

// Has reports whether every action in o is set.
func (a Actions) Has(o Actions) bool {
	return a&o == o
}

func (a Actions) String() string {
	var sb strings.Builder
	for _, al := range actionLetters {
		if a.Has(al.action) {
			if sb.Len() > 0 {
				sb.WriteByte(',')
			}
			sb.WriteRune(al.letter)
		}
	}
	return sb.String()
}

// Frame is the control state of one input line. The timeline stores the same
// pointer once for every simulated frame the line lasts.
type Frame struct {
	Actions   Actions
	Angle     float64
	Magnitude float64
	Frames    int

	// Line is the 0-based line in the main script the frame is attributed to.
	Line int

	RepeatIndex int
	RepeatCount int
}

// RepeatString is the " i/N" annotation of lines expanded by Repeat.
func (f *Frame) RepeatString() string {
	if f == nil || f.RepeatCount <= 1 {
		return ""
	}
	return fmt.Sprintf(" %d/%d", f.RepeatIndex, f.RepeatCount)
}

func (f *Frame) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%4d", f.Frames)
	for _, al := range actionLetters {
		if al.action == ActionFeather || !f.Actions.Has(al.action) {
			continue
		}
		sb.WriteByte(',')
		sb.WriteRune(al.letter)
	}
	if f.Actions.Has(ActionFeather) {
		sb.WriteString(",F,")
		sb.WriteString(strconv.FormatFloat(f.Angle, 'f', -1, 64))
		if f.Magnitude != 1 {
			sb.WriteByte(',')
			sb.WriteString(strconv.FormatFloat(f.Magnitude, 'f', -1, 64))
		}
	}
	return sb.String()
}

// IsInputLine reports whether the trimmed line starts with a digit.
func IsInputLine(line string) bool {
	line = strings.TrimSpace(line)
	return line != "" && line[0] >= '0' && line[0] <= '9'
}

// ParseFrame parses "count[,tokens...]". Each token is a run of action
// letters; F takes the analog angle and an optional magnitude as the
// following tokens.
func ParseFrame(text string, line int) (*Frame, error) {
	tokens := strings.Split(strings.TrimSpace(text), ",")

	count, err := strconv.Atoi(strings.TrimSpace(tokens[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: frame count %q", ErrInvalidInput, tokens[0])
	}
	if count < 0 || count > MaxFrames {
		return nil, fmt.Errorf("%w: frame count %d out of range", ErrInvalidInput, count)
	}

	f := &Frame{Frames: count, Line: line, Magnitude: 1}
	for i := 1; i < len(tokens); i++ {
		token := strings.ToUpper(strings.TrimSpace(tokens[i]))
		for _, r := range token {
			if r == ' ' {
				continue
			}
			action, ok := actionFor(r)
			if !ok {
				return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, r)
			}
			f.Actions |= action
		}

		if !strings.ContainsRune(token, 'F') {
			continue
		}
		if i+1 >= len(tokens) {
			return nil, fmt.Errorf("%w: feather without angle", ErrInvalidInput)
		}
		i++
		if f.Angle, err = parseAxis(tokens[i], 0, 360); err != nil {
			return nil, err
		}
		if i+1 < len(tokens) {
			i++
			if f.Magnitude, err = parseAxis(tokens[i], 0, 1); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

func parseAxis(token string, lo, hi float64) (float64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return lo, nil
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: analog value %q", ErrInvalidInput, token)
	}
	return min(max(v, lo), hi), nil
}
