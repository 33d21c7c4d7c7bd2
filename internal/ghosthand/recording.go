package ghosthand

import (
	"context"
	"strings"
	"sync"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/keymap"
)

// EventType names a recorded native call.
type EventType string

const (
	EventMove    EventType = "move"
	EventButton  EventType = "button"
	EventKey     EventType = "key"
	EventUnicode EventType = "unicode"
	EventWheel   EventType = "wheel"
	EventBind    EventType = "bind"
)

// Event is one native call captured by RecordingBackend.
type Event struct {
	Type   EventType
	X, Y   int
	Button schemas.MouseButton
	Key    string
	Rune   rune
	Down   bool
	Window uintptr
}

// RecordingBackend is an in-memory Backend that records every call instead of
// touching the OS. It backs dry runs and tests.
type RecordingBackend struct {
	mu      sync.Mutex
	events  []Event
	x, y    int
	windows []WindowHandle
	bound   *WindowHandle

	// FailOn makes the named call type fail after AfterN successful calls of that type.
	FailOn   EventType
	AfterN   int
	// FailWhen, when set, fails every call it returns true for.
	FailWhen func(Event) bool
	FailErr  error
	calls    map[EventType]int
	onEvent  func(Event)
}

// NewRecordingBackend returns an empty recorder with the cursor at the origin.
func NewRecordingBackend(windows ...WindowHandle) *RecordingBackend {
	return &RecordingBackend{windows: windows, calls: make(map[EventType]int)}
}

// OnEvent registers a hook called after each recorded event, outside the lock.
func (r *RecordingBackend) OnEvent(fn func(Event)) {
	r.mu.Lock()
	r.onEvent = fn
	r.mu.Unlock()
}

func (r *RecordingBackend) Name() string { return "recording" }

func (r *RecordingBackend) ResolveWindow(_ context.Context, q WindowQuery) (*WindowHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.windows {
		w := r.windows[i]
		if q.PID != 0 && w.PID != q.PID {
			continue
		}
		if q.Title != "" && !strings.Contains(strings.ToLower(w.Title), strings.ToLower(q.Title)) {
			continue
		}
		return &w, nil
	}
	return nil, ErrWindowNotFound
}

func (r *RecordingBackend) Bind(h *WindowHandle) error {
	var id uintptr
	if h != nil {
		id = h.ID
	}
	return r.record(Event{Type: EventBind, Window: id}, func() { r.bound = h })
}

func (r *RecordingBackend) CursorPosition() (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.x, r.y, nil
}

func (r *RecordingBackend) MoveTo(x, y int) error {
	return r.record(Event{Type: EventMove, X: x, Y: y}, func() { r.x, r.y = x, y })
}

func (r *RecordingBackend) Button(button schemas.MouseButton, down bool, x, y int) error {
	return r.record(Event{Type: EventButton, Button: button, Down: down, X: x, Y: y}, nil)
}

func (r *RecordingBackend) Key(key keymap.Key, down bool) error {
	return r.record(Event{Type: EventKey, Key: key.Name, Down: down}, nil)
}

func (r *RecordingBackend) Unicode(ch rune, down bool) error {
	return r.record(Event{Type: EventUnicode, Rune: ch, Down: down}, nil)
}

func (r *RecordingBackend) Wheel(dx, dy int) error {
	return r.record(Event{Type: EventWheel, X: dx, Y: dy}, nil)
}

func (r *RecordingBackend) Close() error { return nil }

func (r *RecordingBackend) record(ev Event, apply func()) error {
	r.mu.Lock()
	if (r.FailOn == ev.Type && r.calls[ev.Type] >= r.AfterN) || (r.FailWhen != nil && r.FailWhen(ev)) {
		err := r.FailErr
		r.mu.Unlock()
		if err == nil {
			err = injectionErr(KindNativeCall, string(ev.Type), nil)
		}
		return err
	}
	r.calls[ev.Type]++
	if apply != nil {
		apply()
	}
	r.events = append(r.events, ev)
	hook := r.onEvent
	r.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *RecordingBackend) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of type t were recorded.
func (r *RecordingBackend) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Bound returns the currently bound window, if any.
func (r *RecordingBackend) Bound() *WindowHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bound
}
