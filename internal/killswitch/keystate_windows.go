//go:build windows

package killswitch

import (
	"golang.org/x/sys/windows"

	"github.com/xkilldash9x/ghosthand/internal/keymap"
)

var procGetAsyncKeyState = windows.NewLazySystemDLL("user32.dll").NewProc("GetAsyncKeyState")

type asyncKeyState struct{}

func (asyncKeyState) Pressed(k keymap.Key) (bool, error) {
	if err := procGetAsyncKeyState.Find(); err != nil {
		return false, err
	}
	r, _, _ := procGetAsyncKeyState.Call(uintptr(k.WinVK))
	return uint16(r)&0x8000 != 0, nil
}

func nativeKeyState() KeyState { return asyncKeyState{} }
