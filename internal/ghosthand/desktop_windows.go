//go:build windows

package ghosthand

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procCreateDesktopW   = user32.NewProc("CreateDesktopW")
	procCloseDesktop     = user32.NewProc("CloseDesktop")
	procGetThreadDesktop = user32.NewProc("GetThreadDesktop")
	procSetThreadDesktop = user32.NewProc("SetThreadDesktop")
)

const (
	desktopReadObjects     = 0x0001
	desktopCreateWindow    = 0x0002
	desktopCreateMenu      = 0x0004
	desktopHookControl     = 0x0008
	desktopJournalRecord   = 0x0010
	desktopJournalPlayback = 0x0020
	desktopEnumerate       = 0x0040
	desktopWriteObjects    = 0x0080

	hiddenDesktopAccess = desktopReadObjects | desktopCreateWindow | desktopCreateMenu |
		desktopHookControl | desktopJournalRecord | desktopJournalPlayback |
		desktopEnumerate | desktopWriteObjects
)

// hiddenDesktop is a desktop object the calling thread is switched onto. It is never
// made the input desktop, so nothing drawn on it reaches the user's screen.
type hiddenDesktop struct {
	name     string
	handle   uintptr
	original uintptr
}

func lockThread()   { runtime.LockOSThread() }
func unlockThread() { runtime.UnlockOSThread() }

// openHiddenDesktop creates the desktop and assigns the current OS thread to it. The
// caller must have locked the thread.
func openHiddenDesktop(name string) (*hiddenDesktop, error) {
	if name == "" {
		name = "ghosthand"
	}
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, injectionErr(KindInvalidInput, "CreateDesktop", err)
	}

	original, _, e := procGetThreadDesktop.Call(uintptr(windows.GetCurrentThreadId()))
	if original == 0 {
		return nil, injectionErr(KindNativeCall, "GetThreadDesktop", e)
	}

	h, _, e := procCreateDesktopW.Call(uintptr(unsafe.Pointer(namePtr)), 0, 0, 0, hiddenDesktopAccess, 0)
	if h == 0 {
		return nil, injectionErr(classifyErrno(e), "CreateDesktop", e)
	}
	if r, _, e := procSetThreadDesktop.Call(h); r == 0 {
		procCloseDesktop.Call(h)
		return nil, injectionErr(classifyErrno(e), "SetThreadDesktop", e)
	}
	return &hiddenDesktop{name: name, handle: h, original: original}, nil
}

// launch starts argv with the hidden desktop as its startup desktop.
func (d *hiddenDesktop) launch(argv []string) (int, error) {
	cmdLine, err := windows.UTF16PtrFromString(windows.ComposeCommandLine(argv))
	if err != nil {
		return 0, injectionErr(KindInvalidInput, "CreateProcess", err)
	}
	desk, err := windows.UTF16PtrFromString(d.name)
	if err != nil {
		return 0, injectionErr(KindInvalidInput, "CreateProcess", err)
	}

	si := new(windows.StartupInfo)
	si.Cb = uint32(unsafe.Sizeof(*si))
	si.Desktop = desk
	pi := new(windows.ProcessInformation)
	if err := windows.CreateProcess(nil, cmdLine, nil, nil, false, 0, nil, nil, si, pi); err != nil {
		return 0, injectionErr(classifyErrno(err), "CreateProcess", fmt.Errorf("%s: %w", argv[0], err))
	}
	windows.CloseHandle(pi.Thread)
	windows.CloseHandle(pi.Process)
	return int(pi.ProcessId), nil
}

// close reverts the thread to its original desktop and destroys the hidden one.
func (d *hiddenDesktop) close() {
	procSetThreadDesktop.Call(d.original)
	procCloseDesktop.Call(d.handle)
}
