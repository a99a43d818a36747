package studioproto

import (
	"fmt"
	"strings"
)

// HotkeyID identifies an editor-driven playback intent.
type HotkeyID int

const (
	HotkeyStartStop HotkeyID = iota
	HotkeyRestart
	HotkeyFastForward
	HotkeyFastForwardComment
	HotkeySlowForward
	HotkeyFrameAdvance
	HotkeyPauseResume
	HotkeyCount
)

var hotkeyNames = [HotkeyCount]string{
	"StartStop",
	"Restart",
	"FastForward",
	"FastForwardComment",
	"SlowForward",
	"FrameAdvance",
	"PauseResume",
}

func (h HotkeyID) String() string {
	if h < 0 || h >= HotkeyCount {
		return fmt.Sprintf("HotkeyID(%d)", int(h))
	}
	return hotkeyNames[h]
}

// ParseHotkey maps a name to a HotkeyID. Matching ignores case.
func ParseHotkey(name string) (HotkeyID, error) {
	for i, n := range hotkeyNames {
		if strings.EqualFold(n, name) {
			return HotkeyID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hotkey %q", name)
}

// Key is a physical key name such as "F6", "Shift" or "LeftControl".
type Key string

// Modifiers is the set of held modifier families.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModControl
	ModAlt

	ModNone Modifiers = 0
)

// Has reports whether every family in o is held.
func (m Modifiers) Has(o Modifiers) bool {
	return m&o == o
}

// Modifier returns the modifier family k belongs to, or ModNone.
func (k Key) Modifier() Modifiers {
	switch strings.ToLower(string(k)) {
	case "shift", "leftshift", "rightshift", "lshift", "rshift":
		return ModShift
	case "control", "ctrl", "leftcontrol", "rightcontrol", "lcontrol", "rcontrol":
		return ModControl
	case "alt", "menu", "leftalt", "rightalt", "lalt", "ralt":
		return ModAlt
	default:
		return ModNone
	}
}

// Bindings maps each hotkey to the keys that trigger it.
type Bindings map[HotkeyID][]Key
