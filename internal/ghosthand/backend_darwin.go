//go:build darwin && cgo

package ghosthand

/*
#cgo darwin CFLAGS: -Wno-deprecated-declarations
#cgo darwin LDFLAGS: -framework CoreGraphics -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdbool.h>
#include <stdint.h>
#include <stdlib.h>

typedef struct {
	uint32_t id;
	int32_t  pid;
	double   x, y, w, h;
	char     title[256];
} ghWindow;

static Boolean ghAXTrusted(Boolean prompt) {
	const void *keys[] = { kAXTrustedCheckOptionPrompt };
	const void *values[] = { prompt ? kCFBooleanTrue : kCFBooleanFalse };
	CFDictionaryRef options = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
	                                             &kCFTypeDictionaryKeyCallBacks,
	                                             &kCFTypeDictionaryValueCallBacks);
	Boolean trusted = AXIsProcessTrustedWithOptions(options);
	CFRelease(options);
	return trusted;
}

// ghFindWindow walks the on-screen window list and returns the first normal-layer
// window matching pid (when non-zero) and a case-insensitive title substring
// (when non-empty). Returns 1 on a match.
static int ghFindWindow(int32_t pid, const char *title, ghWindow *out) {
	CFArrayRef list = CGWindowListCopyWindowInfo(
		kCGWindowListOptionOnScreenOnly | kCGWindowListExcludeDesktopElements, kCGNullWindowID);
	if (list == NULL) {
		return 0;
	}
	CFStringRef needle = NULL;
	if (title != NULL && title[0] != '\0') {
		needle = CFStringCreateWithCString(kCFAllocatorDefault, title, kCFStringEncodingUTF8);
	}
	int found = 0;
	CFIndex n = CFArrayGetCount(list);
	for (CFIndex i = 0; i < n && !found; i++) {
		CFDictionaryRef info = CFArrayGetValueAtIndex(list, i);
		int32_t owner = 0, layer = 0;
		uint32_t number = 0;
		CFNumberRef v = CFDictionaryGetValue(info, kCGWindowOwnerPID);
		if (v) CFNumberGetValue(v, kCFNumberSInt32Type, &owner);
		v = CFDictionaryGetValue(info, kCGWindowLayer);
		if (v) CFNumberGetValue(v, kCFNumberSInt32Type, &layer);
		v = CFDictionaryGetValue(info, kCGWindowNumber);
		if (v) CFNumberGetValue(v, kCFNumberSInt32Type, &number);
		if (layer != 0 || (pid != 0 && owner != pid)) {
			continue;
		}
		CFStringRef name = CFDictionaryGetValue(info, kCGWindowName);
		if (needle != NULL) {
			if (name == NULL) continue;
			CFRange r = CFStringFind(name, needle, kCFCompareCaseInsensitive);
			if (r.location == kCFNotFound) continue;
		}
		out->id = number;
		out->pid = owner;
		out->title[0] = '\0';
		if (name != NULL) {
			CFStringGetCString(name, out->title, sizeof(out->title), kCFStringEncodingUTF8);
		}
		CGRect bounds = CGRectZero;
		CFDictionaryRef b = CFDictionaryGetValue(info, kCGWindowBounds);
		if (b) CGRectMakeWithDictionaryRepresentation(b, &bounds);
		out->x = bounds.origin.x;
		out->y = bounds.origin.y;
		out->w = bounds.size.width;
		out->h = bounds.size.height;
		found = 1;
	}
	if (needle) CFRelease(needle);
	CFRelease(list);
	return found;
}

static int ghProcessForPID(int32_t pid, ProcessSerialNumber *psn) {
	return GetProcessForPID(pid, psn) == noErr;
}

static void ghPost(CGEventRef ev, ProcessSerialNumber *psn) {
	if (psn != NULL) {
		CGEventPostToPSN(psn, ev);
	} else {
		CGEventPost(kCGHIDEventTap, ev);
	}
}

static void ghCursor(double *x, double *y) {
	CGEventRef ev = CGEventCreate(NULL);
	CGPoint p = CGEventGetLocation(ev);
	CFRelease(ev);
	*x = p.x;
	*y = p.y;
}

static int ghMouse(CGEventType type, double x, double y, CGMouseButton button, int64_t clicks, ProcessSerialNumber *psn) {
	CGEventRef ev = CGEventCreateMouseEvent(NULL, type, CGPointMake(x, y), button);
	if (ev == NULL) return 0;
	if (clicks > 0) CGEventSetIntegerValueField(ev, kCGMouseEventClickState, clicks);
	ghPost(ev, psn);
	CFRelease(ev);
	return 1;
}

static int ghKey(CGKeyCode code, bool down, CGEventFlags flags, ProcessSerialNumber *psn) {
	CGEventRef ev = CGEventCreateKeyboardEvent(NULL, code, down);
	if (ev == NULL) return 0;
	CGEventSetFlags(ev, flags);
	ghPost(ev, psn);
	CFRelease(ev);
	return 1;
}

static int ghUnicode(uint16_t *units, int n, bool down, ProcessSerialNumber *psn) {
	CGEventRef ev = CGEventCreateKeyboardEvent(NULL, 0, down);
	if (ev == NULL) return 0;
	CGEventKeyboardSetUnicodeString(ev, n, units);
	ghPost(ev, psn);
	CFRelease(ev);
	return 1;
}

static int ghWheel(int32_t dy, int32_t dx, ProcessSerialNumber *psn) {
	CGEventRef ev = CGEventCreateScrollWheelEvent(NULL, kCGScrollEventUnitLine, 2, dy, dx);
	if (ev == NULL) return 0;
	ghPost(ev, psn);
	CFRelease(ev);
	return 1;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf16"
	"unsafe"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/keymap"
)

const (
	macKeyRightArrow = 0x7C
	macKeyLeftArrow  = 0x7B

	doubleClickWindow = 500 * time.Millisecond
)

// darwinBackend posts CoreGraphics events. With a bound window, events go straight to
// the owning process by serial number, so the target need not be frontmost.
type darwinBackend struct {
	mu       sync.Mutex
	isolated bool
	psn      *C.ProcessSerialNumber
	flags    C.CGEventFlags
	pressed  schemas.MouseButton

	lastClickAt  time.Time
	lastClickPos [2]int
	clickCount   int64
}

func newNativeBackend(opts Options, _ ProcessObserver) (Backend, error) {
	if C.ghAXTrusted(C.Boolean(1)) == 0 {
		return nil, injectionErr(KindPermission, "AXIsProcessTrustedWithOptions", ErrPermissionDenied)
	}
	b := &darwinBackend{isolated: opts.Isolate}
	if opts.Isolate {
		// Ctrl+Right moves to the next space; Close moves back.
		if err := b.spaceSwitch(macKeyRightArrow); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *darwinBackend) Name() string {
	if b.isolated {
		return "darwin-space"
	}
	return "darwin"
}

func (b *darwinBackend) spaceSwitch(arrow C.CGKeyCode) error {
	ctrl := C.CGEventFlags(C.kCGEventFlagMaskControl)
	if C.ghKey(arrow, C.bool(true), ctrl, nil) == 0 || C.ghKey(arrow, C.bool(false), ctrl, nil) == 0 {
		return injectionErr(KindNativeCall, "space switch", nil)
	}
	return nil
}

func (b *darwinBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isolated {
		b.isolated = false
		return b.spaceSwitch(macKeyLeftArrow)
	}
	return nil
}

func (b *darwinBackend) ResolveWindow(_ context.Context, q WindowQuery) (*WindowHandle, error) {
	var title *C.char
	if q.Title != "" {
		title = C.CString(q.Title)
		defer C.free(unsafe.Pointer(title))
	}
	var w C.ghWindow
	if C.ghFindWindow(C.int32_t(q.PID), title, &w) == 0 {
		return nil, ErrWindowNotFound
	}
	return &WindowHandle{
		ID:    uintptr(w.id),
		PID:   int(w.pid),
		Title: C.GoString(&w.title[0]),
		Bounds: Rect{
			X: int(w.x), Y: int(w.y), Width: int(w.w), Height: int(w.h),
		},
	}, nil
}

func (b *darwinBackend) Bind(h *WindowHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h == nil {
		b.psn = nil
		return nil
	}
	var psn C.ProcessSerialNumber
	if C.ghProcessForPID(C.int32_t(h.PID), &psn) == 0 {
		return injectionErr(KindNativeCall, "GetProcessForPID", fmt.Errorf("pid %d", h.PID))
	}
	b.psn = &psn
	return nil
}

func (b *darwinBackend) CursorPosition() (int, int, error) {
	var x, y C.double
	C.ghCursor(&x, &y)
	return int(x), int(y), nil
}

func (b *darwinBackend) MoveTo(x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	typ := C.CGEventType(C.kCGEventMouseMoved)
	btn := C.CGMouseButton(C.kCGMouseButtonLeft)
	switch b.pressed {
	case schemas.ButtonLeft:
		typ = C.kCGEventLeftMouseDragged
	case schemas.ButtonRight:
		typ, btn = C.kCGEventRightMouseDragged, C.kCGMouseButtonRight
	case schemas.ButtonMiddle:
		typ, btn = C.kCGEventOtherMouseDragged, C.kCGMouseButtonCenter
	}
	if C.ghMouse(typ, C.double(x), C.double(y), btn, 0, b.psn) == 0 {
		return injectionErr(KindNativeCall, "CGEventCreateMouseEvent", nil)
	}
	return nil
}

func (b *darwinBackend) Button(button schemas.MouseButton, down bool, x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var typ C.CGEventType
	var btn C.CGMouseButton
	switch button {
	case schemas.ButtonLeft, "":
		button, btn, typ = schemas.ButtonLeft, C.kCGMouseButtonLeft, C.kCGEventLeftMouseUp
		if down {
			typ = C.kCGEventLeftMouseDown
		}
	case schemas.ButtonRight:
		btn, typ = C.kCGMouseButtonRight, C.kCGEventRightMouseUp
		if down {
			typ = C.kCGEventRightMouseDown
		}
	case schemas.ButtonMiddle:
		btn, typ = C.kCGMouseButtonCenter, C.kCGEventOtherMouseUp
		if down {
			typ = C.kCGEventOtherMouseDown
		}
	default:
		return injectionErr(KindInvalidInput, "button", fmt.Errorf("unknown button %q", button))
	}

	if down {
		now := time.Now()
		if now.Sub(b.lastClickAt) < doubleClickWindow && b.lastClickPos == [2]int{x, y} {
			b.clickCount++
		} else {
			b.clickCount = 1
		}
		b.lastClickAt, b.lastClickPos = now, [2]int{x, y}
		b.pressed = button
	} else {
		b.pressed = ""
	}

	if C.ghMouse(typ, C.double(x), C.double(y), btn, C.int64_t(b.clickCount), b.psn) == 0 {
		return injectionErr(KindNativeCall, "CGEventCreateMouseEvent", nil)
	}
	return nil
}

func (b *darwinBackend) Key(key keymap.Key, down bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if key.Modifier {
		mask := modifierMask(key.Name)
		if down {
			b.flags |= mask
		} else {
			b.flags &^= mask
		}
	}
	if C.ghKey(C.CGKeyCode(key.MacCode), C.bool(down), b.flags, b.psn) == 0 {
		return injectionErr(KindNativeCall, "CGEventCreateKeyboardEvent", fmt.Errorf("key %q", key.Name))
	}
	return nil
}

func (b *darwinBackend) Unicode(r rune, down bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	units := utf16.Encode([]rune{r})
	if C.ghUnicode((*C.uint16_t)(unsafe.Pointer(&units[0])), C.int(len(units)), C.bool(down), b.psn) == 0 {
		return injectionErr(KindNativeCall, "CGEventKeyboardSetUnicodeString", nil)
	}
	return nil
}

func (b *darwinBackend) Wheel(dx, dy int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// CoreGraphics lines are positive upward; positive dy scrolls down.
	if C.ghWheel(C.int32_t(-dy), C.int32_t(-dx), b.psn) == 0 {
		return injectionErr(KindNativeCall, "CGEventCreateScrollWheelEvent", nil)
	}
	return nil
}

func modifierMask(name string) C.CGEventFlags {
	switch name {
	case "ctrl":
		return C.kCGEventFlagMaskControl
	case "shift":
		return C.kCGEventFlagMaskShift
	case "alt":
		return C.kCGEventFlagMaskAlternate
	case "cmd":
		return C.kCGEventFlagMaskCommand
	}
	return 0
}
