//go:build !windows && !(darwin && cgo)

package killswitch

import "github.com/xkilldash9x/ghosthand/internal/keymap"

func nativeKeyState() KeyState {
	return KeyStateFunc(func(keymap.Key) (bool, error) { return false, errHotkeyUnsupported })
}
