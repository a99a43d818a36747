package hotkey

import (
	"fmt"
	"strings"

	"github.com/framestep/tasbridge/pkg/studioproto"
)

// DefaultBindings returns the bindings used when none are configured.
func DefaultBindings() studioproto.Bindings {
	return studioproto.Bindings{
		studioproto.HotkeyStartStop:          {"RightControl"},
		studioproto.HotkeyRestart:            {"Equals"},
		studioproto.HotkeyFastForward:        {"RightShift"},
		studioproto.HotkeyFastForwardComment: {"RightAlt", "RightShift"},
		studioproto.HotkeySlowForward:        {"OemPeriod"},
		studioproto.HotkeyFrameAdvance:       {"OemOpenBrackets"},
		studioproto.HotkeyPauseResume:        {"OemCloseBrackets"},
	}
}

// ParseBindings reads a hotkey name to key list mapping. Missing hotkeys keep
// their default binding; an empty list unbinds.
func ParseBindings(raw map[string][]string) (studioproto.Bindings, error) {
	bindings := DefaultBindings()
	for name, keys := range raw {
		id, err := studioproto.ParseHotkey(name)
		if err != nil {
			return nil, err
		}
		bound := make([]studioproto.Key, 0, len(keys))
		for _, k := range keys {
			k = strings.TrimSpace(k)
			if k == "" {
				return nil, fmt.Errorf("empty key in binding of %s", id)
			}
			bound = append(bound, studioproto.Key(k))
		}
		bindings[id] = bound
	}
	return bindings, nil
}

// Match finds the hotkey triggered by key while mods are held. A single-key
// binding matches only without modifiers, or when the only held modifier is
// the key itself. A multi-key binding must contain key and every other key
// must be a held modifier. Hotkeys are tried in ID order.
func Match(bindings studioproto.Bindings, key studioproto.Key, mods studioproto.Modifiers) (studioproto.HotkeyID, bool) {
	for id := studioproto.HotkeyID(0); id < studioproto.HotkeyCount; id++ {
		keys := bindings[id]
		switch len(keys) {
		case 0:
			continue
		case 1:
			if !sameKey(keys[0], key) {
				continue
			}
			if mods == studioproto.ModNone || (key.Modifier() != studioproto.ModNone && mods == key.Modifier()) {
				return id, true
			}
		default:
			if matchCombo(keys, key, mods) {
				return id, true
			}
		}
	}
	return 0, false
}

func matchCombo(keys []studioproto.Key, key studioproto.Key, mods studioproto.Modifiers) bool {
	triggered := false
	for _, k := range keys {
		if sameKey(k, key) {
			triggered = true
			continue
		}
		if m := k.Modifier(); m == studioproto.ModNone || !mods.Has(m) {
			return false
		}
	}
	return triggered
}

func sameKey(a, b studioproto.Key) bool {
	return strings.EqualFold(string(a), string(b))
}
