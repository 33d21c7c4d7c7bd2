package ghosthand

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/keymap"
)

// Rect is a window frame in screen pixels.
type Rect struct {
	X, Y, Width, Height int
}

// Center returns the midpoint of the frame.
func (r Rect) Center() schemas.Point {
	return schemas.Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// WindowHandle is an opaque OS window identifier plus its owning process.
type WindowHandle struct {
	ID     uintptr
	PID    int
	Title  string
	Bounds Rect
}

// WindowQuery selects a window by owning pid, title substring, or both.
type WindowQuery struct {
	PID   int
	Title string
}

func (q WindowQuery) String() string {
	switch {
	case q.PID != 0 && q.Title != "":
		return fmt.Sprintf("window(pid=%d, title=%q)", q.PID, q.Title)
	case q.PID != 0:
		return fmt.Sprintf("window(pid=%d)", q.PID)
	default:
		return fmt.Sprintf("window(title=%q)", q.Title)
	}
}

// Backend is the narrow native surface each platform implements. Every method is a
// single OS call (or a short fixed sequence) and reports failure as an error value;
// all pacing, jitter and halt polling live in Hand so behavior is identical across
// platforms.
type Backend interface {
	Name() string
	ResolveWindow(ctx context.Context, q WindowQuery) (*WindowHandle, error)
	// Bind directs subsequent events at the window's process where the platform
	// supports per-process delivery. A nil handle restores global delivery.
	Bind(h *WindowHandle) error
	CursorPosition() (x, y int, err error)
	MoveTo(x, y int) error
	Button(button schemas.MouseButton, down bool, x, y int) error
	Key(key keymap.Key, down bool) error
	// Unicode sends a character that has no key mapping.
	Unicode(r rune, down bool) error
	Wheel(dx, dy int) error
	Close() error
}

// Options configures native backend construction.
type Options struct {
	// Isolate runs actions on a hidden desktop (Windows) or a separate space (macOS).
	Isolate bool
	// DesktopName names the hidden Windows desktop.
	DesktopName string
	// LaunchCommand, when set, is started on the isolated desktop as the target app.
	LaunchCommand []string
}

// NewNativeBackend returns the backend compiled for the current platform.
func NewNativeBackend(opts Options, obs ProcessObserver) (Backend, error) {
	return newNativeBackend(opts, obs)
}

// ProcessObserver is told about processes a backend launches so the emergency
// stop can terminate them.
type ProcessObserver interface {
	Track(pid int)
}
