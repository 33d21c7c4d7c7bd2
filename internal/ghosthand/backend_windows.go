//go:build windows

package ghosthand

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/keymap"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procSendInput           = user32.NewProc("SendInput")
	procGetSystemMetrics    = user32.NewProc("GetSystemMetrics")
	procGetCursorPos        = user32.NewProc("GetCursorPos")
	procEnumWindows         = user32.NewProc("EnumWindows")
	procGetWindowTextW      = user32.NewProc("GetWindowTextW")
	procGetWindowRect       = user32.NewProc("GetWindowRect")
	procIsWindowVisible     = user32.NewProc("IsWindowVisible")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
	procWindowFromPoint     = user32.NewProc("WindowFromPoint")
	procScreenToClient      = user32.NewProc("ScreenToClient")
	procPostMessageW        = user32.NewProc("PostMessageW")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseeventfMove       = 0x0001
	mouseeventfLeftDown   = 0x0002
	mouseeventfLeftUp     = 0x0004
	mouseeventfRightDown  = 0x0008
	mouseeventfRightUp    = 0x0010
	mouseeventfMiddleDown = 0x0020
	mouseeventfMiddleUp   = 0x0040
	mouseeventfWheel      = 0x0800
	mouseeventfHWheel     = 0x1000
	mouseeventfAbsolute   = 0x8000

	keyeventfExtendedKey = 0x0001
	keyeventfKeyUp       = 0x0002
	keyeventfUnicode     = 0x0004
	keyeventfScanCode    = 0x0008

	wheelDelta = 120

	smCXScreen = 0
	smCYScreen = 1

	wmKeyDown     = 0x0100
	wmKeyUp       = 0x0101
	wmChar        = 0x0102
	wmMouseMove   = 0x0200
	wmLButtonDown = 0x0201
	wmLButtonUp   = 0x0202
	wmRButtonDown = 0x0204
	wmRButtonUp   = 0x0205
	wmMButtonDown = 0x0207
	wmMButtonUp   = 0x0208
	wmMouseWheel  = 0x020A
	wmMouseHWheel = 0x020E
)

// mouseInput and keybdInput are the MOUSEINPUT and KEYBDINPUT union members. The
// union is pointer-aligned inside INPUT, so it sits at offset 8 on 64-bit Windows
// and 4 on 32-bit. keybdInput is padded to the size of the larger mouse member.
type mouseInput struct {
	dx, dy      int32
	mouseData   uint32
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
	_           [8]byte
}

// mouseINPUT and keybdINPUT are the two INPUT variants SendInput receives. Both are
// 40 bytes on amd64 and arm64 and 28 bytes on 386.
type mouseINPUT struct {
	typ uint32
	mi  mouseInput
}

type keybdINPUT struct {
	typ uint32
	ki  keybdInput
}

type point struct{ X, Y int32 }

type rect struct{ Left, Top, Right, Bottom int32 }

// windowsBackend serializes every native call onto one locked OS thread, which is
// required for SetThreadDesktop to stay in effect.
type windowsBackend struct {
	calls chan func()
	done  chan struct{}
	once  sync.Once

	isolated bool
	desktop  *hiddenDesktop
	bound    uintptr
	hover    uintptr
}

func newNativeBackend(opts Options, obs ProcessObserver) (Backend, error) {
	b := &windowsBackend{
		calls:    make(chan func()),
		done:     make(chan struct{}),
		isolated: opts.Isolate,
	}
	ready := make(chan error, 1)
	go b.loop(opts, obs, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return b, nil
}

func (b *windowsBackend) loop(opts Options, obs ProcessObserver, ready chan<- error) {
	lockThread()
	defer unlockThread()

	if opts.Isolate {
		d, err := openHiddenDesktop(opts.DesktopName)
		if err != nil {
			ready <- err
			return
		}
		b.desktop = d
		if len(opts.LaunchCommand) > 0 {
			pid, err := d.launch(opts.LaunchCommand)
			if err != nil {
				d.close()
				ready <- err
				return
			}
			if obs != nil {
				obs.Track(pid)
			}
		}
	}
	ready <- nil

	for {
		select {
		case fn := <-b.calls:
			fn()
		case <-b.done:
			if b.desktop != nil {
				b.desktop.close()
			}
			return
		}
	}
}

func (b *windowsBackend) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case b.calls <- func() { errc <- fn() }:
	case <-b.done:
		return injectionErr(KindNativeCall, "call", errors.New("backend closed"))
	}
	return <-errc
}

func (b *windowsBackend) Name() string {
	if b.isolated {
		return "windows-hidden-desktop"
	}
	return "windows"
}

func (b *windowsBackend) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func (b *windowsBackend) ResolveWindow(_ context.Context, q WindowQuery) (*WindowHandle, error) {
	var found *WindowHandle
	err := b.do(func() error {
		for _, hwnd := range enumWindows() {
			if r, _, _ := procIsWindowVisible.Call(hwnd); r == 0 {
				continue
			}
			var pid uint32
			if _, err := windows.GetWindowThreadProcessId(windows.HWND(hwnd), &pid); err != nil {
				continue
			}
			if q.PID != 0 && int(pid) != q.PID {
				continue
			}
			title := windowText(hwnd)
			if q.Title != "" && !strings.Contains(strings.ToLower(title), strings.ToLower(q.Title)) {
				continue
			}
			var rc rect
			procGetWindowRect.Call(hwnd, uintptr(unsafe.Pointer(&rc)))
			found = &WindowHandle{
				ID:    hwnd,
				PID:   int(pid),
				Title: title,
				Bounds: Rect{
					X: int(rc.Left), Y: int(rc.Top),
					Width: int(rc.Right - rc.Left), Height: int(rc.Bottom - rc.Top),
				},
			}
			return nil
		}
		return ErrWindowNotFound
	})
	return found, err
}

func (b *windowsBackend) Bind(h *WindowHandle) error {
	return b.do(func() error {
		if h == nil {
			b.bound = 0
			return nil
		}
		b.bound = h.ID
		if !b.isolated {
			// Best effort; Windows may refuse focus stealing.
			procSetForegroundWindow.Call(h.ID)
		}
		return nil
	})
}

func (b *windowsBackend) CursorPosition() (int, int, error) {
	var pt point
	err := b.do(func() error {
		if r, _, e := procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt))); r == 0 {
			return injectionErr(KindNativeCall, "GetCursorPos", e)
		}
		return nil
	})
	return int(pt.X), int(pt.Y), err
}

func (b *windowsBackend) MoveTo(x, y int) error {
	return b.do(func() error {
		if b.isolated {
			target, cx, cy := b.windowAt(x, y)
			b.hover = target
			return postMessage(target, wmMouseMove, 0, makeLParam(cx, cy))
		}
		nx, ny := normalizeAbsolute(x, y)
		return sendMouse(mouseInput{dx: nx, dy: ny, dwFlags: mouseeventfMove | mouseeventfAbsolute})
	})
}

func (b *windowsBackend) Button(button schemas.MouseButton, down bool, x, y int) error {
	return b.do(func() error {
		flags, msg := buttonFlags(button, down)
		if flags == 0 {
			return injectionErr(KindInvalidInput, "button", fmt.Errorf("unknown button %q", button))
		}
		if b.isolated {
			target, cx, cy := b.windowAt(x, y)
			return postMessage(target, msg, 0, makeLParam(cx, cy))
		}
		nx, ny := normalizeAbsolute(x, y)
		return sendMouse(mouseInput{dx: nx, dy: ny, dwFlags: flags | mouseeventfAbsolute})
	})
}

func (b *windowsBackend) Key(key keymap.Key, down bool) error {
	return b.do(func() error {
		if key.WinVK == 0 {
			return injectionErr(KindUnknownKey, "key", fmt.Errorf("no virtual key for %q", key.Name))
		}
		if b.isolated {
			msg := uintptr(wmKeyDown)
			lparam := uintptr(1) | uintptr(key.WinScan)<<16
			if key.WinExtended {
				lparam |= 1 << 24
			}
			if !down {
				msg = wmKeyUp
				lparam |= 0xC0000000
			}
			return postMessage(b.focusTarget(), msg, uintptr(key.WinVK), lparam)
		}
		flags := uint32(0)
		if key.WinExtended {
			flags |= keyeventfExtendedKey
		}
		if !down {
			flags |= keyeventfKeyUp
		}
		return sendKey(keybdInput{wVk: key.WinVK, wScan: key.WinScan, dwFlags: flags})
	})
}

func (b *windowsBackend) Unicode(r rune, down bool) error {
	return b.do(func() error {
		if b.isolated {
			if !down {
				return nil
			}
			return postMessage(b.focusTarget(), wmChar, uintptr(r), 1)
		}
		units := windows.StringToUTF16(string(r))
		units = units[:len(units)-1] // drop terminator
		for _, u := range units {
			flags := uint32(keyeventfUnicode)
			if !down {
				flags |= keyeventfKeyUp
			}
			if err := sendKey(keybdInput{wScan: u, dwFlags: flags}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *windowsBackend) Wheel(dx, dy int) error {
	return b.do(func() error {
		if b.isolated {
			target := b.focusTarget()
			if dy != 0 {
				return postMessage(target, wmMouseWheel, uintptr(uint32(int32(-dy*wheelDelta))<<16), 0)
			}
			return postMessage(target, wmMouseHWheel, uintptr(uint32(int32(dx*wheelDelta))<<16), 0)
		}
		// Positive dy scrolls down, which is a negative wheel delta.
		if dy != 0 {
			if err := sendMouse(mouseInput{mouseData: uint32(int32(-dy * wheelDelta)), dwFlags: mouseeventfWheel}); err != nil {
				return err
			}
		}
		if dx != 0 {
			return sendMouse(mouseInput{mouseData: uint32(int32(dx * wheelDelta)), dwFlags: mouseeventfHWheel})
		}
		return nil
	})
}

// windowAt returns the window under the screen point and the point in its client
// coordinates. Bound windows take precedence.
func (b *windowsBackend) windowAt(x, y int) (uintptr, int, int) {
	target := b.bound
	if target == 0 {
		target, _, _ = procWindowFromPoint.Call(uintptr(uint32(x)) | uintptr(uint32(y))<<32)
	}
	pt := point{X: int32(x), Y: int32(y)}
	procScreenToClient.Call(target, uintptr(unsafe.Pointer(&pt)))
	return target, int(pt.X), int(pt.Y)
}

func (b *windowsBackend) focusTarget() uintptr {
	if b.bound != 0 {
		return b.bound
	}
	return b.hover
}

func sendMouse(mi mouseInput) error {
	in := mouseINPUT{typ: inputMouse, mi: mi}
	r, _, e := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if r != 1 {
		return injectionErr(classifyErrno(e), "SendInput(mouse)", e)
	}
	return nil
}

func sendKey(ki keybdInput) error {
	in := keybdINPUT{typ: inputKeyboard, ki: ki}
	r, _, e := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if r != 1 {
		return injectionErr(classifyErrno(e), "SendInput(keyboard)", e)
	}
	return nil
}

func postMessage(hwnd, msg, wparam, lparam uintptr) error {
	if hwnd == 0 {
		return injectionErr(KindNativeCall, "PostMessage", errors.New("no target window on hidden desktop"))
	}
	if r, _, e := procPostMessageW.Call(hwnd, msg, wparam, lparam); r == 0 {
		return injectionErr(KindNativeCall, "PostMessage", e)
	}
	return nil
}

func classifyErrno(err error) ErrorKind {
	if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
		return KindPermission
	}
	return KindNativeCall
}

// normalizeAbsolute maps a pixel onto the 0..65535 range MOUSEEVENTF_ABSOLUTE expects.
func normalizeAbsolute(x, y int) (int32, int32) {
	w, _, _ := procGetSystemMetrics.Call(smCXScreen)
	h, _, _ := procGetSystemMetrics.Call(smCYScreen)
	if w <= 1 || h <= 1 {
		return int32(x), int32(y)
	}
	return int32(x * 65535 / (int(w) - 1)), int32(y * 65535 / (int(h) - 1))
}

func makeLParam(x, y int) uintptr {
	return uintptr(uint16(int16(x))) | uintptr(uint16(int16(y)))<<16
}

func buttonFlags(button schemas.MouseButton, down bool) (uint32, uintptr) {
	switch button {
	case schemas.ButtonLeft, "":
		if down {
			return mouseeventfLeftDown, wmLButtonDown
		}
		return mouseeventfLeftUp, wmLButtonUp
	case schemas.ButtonRight:
		if down {
			return mouseeventfRightDown, wmRButtonDown
		}
		return mouseeventfRightUp, wmRButtonUp
	case schemas.ButtonMiddle:
		if down {
			return mouseeventfMiddleDown, wmMButtonDown
		}
		return mouseeventfMiddleUp, wmMButtonUp
	}
	return 0, 0
}

var (
	enumMu     sync.Mutex
	enumResult []uintptr
	// One callback for the process lifetime; NewCallback slots are never freed.
	enumCallback = windows.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		enumResult = append(enumResult, hwnd)
		return 1
	})
)

func enumWindows() []uintptr {
	enumMu.Lock()
	defer enumMu.Unlock()
	enumResult = enumResult[:0]
	procEnumWindows.Call(enumCallback, 0)
	out := make([]uintptr, len(enumResult))
	copy(out, enumResult)
	return out
}

func windowText(hwnd uintptr) string {
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:n])
}
