package killswitch

import (
	"errors"

	"github.com/xkilldash9x/ghosthand/internal/keymap"
)

var errHotkeyUnsupported = errors.New("global key state is not readable on this platform")

// KeyState reports whether a key is physically held down right now.
type KeyState interface {
	Pressed(k keymap.Key) (bool, error)
}

// KeyStateFunc adapts a function to KeyState.
type KeyStateFunc func(k keymap.Key) (bool, error)

func (f KeyStateFunc) Pressed(k keymap.Key) (bool, error) { return f(k) }

// comboHeld is true only when every key of the combination is down.
func comboHeld(ks KeyState, combo []keymap.Key) (bool, error) {
	if len(combo) == 0 {
		return false, nil
	}
	for _, k := range combo {
		down, err := ks.Pressed(k)
		if err != nil || !down {
			return false, err
		}
	}
	return true, nil
}
