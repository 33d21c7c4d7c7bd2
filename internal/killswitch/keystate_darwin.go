//go:build darwin && cgo

package killswitch

/*
#cgo LDFLAGS: -framework ApplicationServices
#include <ApplicationServices/ApplicationServices.h>

static int ghKeyDown(unsigned short code) {
	return CGEventSourceKeyState(kCGEventSourceStateCombinedSessionState, (CGKeyCode)code) ? 1 : 0;
}
*/
import "C"

import "github.com/xkilldash9x/ghosthand/internal/keymap"

type sessionKeyState struct{}

func (sessionKeyState) Pressed(k keymap.Key) (bool, error) {
	return C.ghKeyDown(C.ushort(k.MacCode)) != 0, nil
}

func nativeKeyState() KeyState { return sessionKeyState{} }
