// Package ghosthand injects human-paced mouse and keyboard input through a
// per-platform native Backend.
package ghosthand

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/keymap"
	"github.com/xkilldash9x/ghosthand/internal/motion"
)

// HaltSignal is the read side of the emergency stop.
type HaltSignal interface {
	Halted() bool
	// Done is closed when the stop fires.
	Done() <-chan struct{}
}

type neverHalt struct{}

func (neverHalt) Halted() bool          { return false }
func (neverHalt) Done() <-chan struct{} { return nil }

// Progress counts the native steps of one action: pointer samples, key and button
// transitions, and wheel notches.
type Progress struct {
	Applied int
	Planned int
}

// Hand drives a Backend with plans from a motion.Profile. Only one action runs at a
// time; the halt signal is checked before every sample and every character.
type Hand struct {
	backend Backend
	profile *motion.Profile
	halt    HaltSignal
	logger  *zap.Logger

	mu        sync.Mutex
	pos       motion.Vector2D
	posKnown  bool
	progress  *Progress
	heartbeat func()
}

// New creates a Hand. A nil halt signal never fires.
func New(backend Backend, profile *motion.Profile, halt HaltSignal, logger *zap.Logger) *Hand {
	if halt == nil {
		halt = neverHalt{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hand{
		backend: backend,
		profile: profile,
		halt:    halt,
		logger:  logger.Named("ghosthand").With(zap.String("backend", backend.Name())),
	}
}

// OnHeartbeat registers fn to run before every wait and after every applied step,
// so a long action keeps proving the injector is alive.
func (h *Hand) OnHeartbeat(fn func()) {
	h.mu.Lock()
	h.heartbeat = fn
	h.mu.Unlock()
}

// Backend returns the native backend this hand drives.
func (h *Hand) Backend() Backend { return h.backend }

// Execute runs one executable request to completion, halt, or first native failure.
// It returns how many native steps were applied out of those planned.
func (h *Hand) Execute(ctx context.Context, req schemas.ActionRequest) (Progress, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var p Progress
	h.progress = &p
	defer func() { h.progress = nil }()

	if err := h.checkHalt(ctx); err != nil {
		return p, err
	}

	point := req.Target.Point
	if !req.Target.Window.IsZero() {
		handle, err := h.resolveLocked(ctx, WindowQuery{PID: req.Target.Window.PID, Title: req.Target.Window.Title})
		if err != nil {
			return p, err
		}
		if err := h.backend.Bind(handle); err != nil {
			return p, h.native("bind", err)
		}
		defer func() {
			if err := h.backend.Bind(nil); err != nil {
				h.logger.Warn("Failed to release window binding.", zap.Error(err))
			}
		}()
		if point == nil {
			c := handle.Bounds.Center()
			point = &c
		}
	}

	var err error
	switch req.Kind {
	case schemas.ActionMove:
		err = h.moveLocked(ctx, *point)
	case schemas.ActionClick:
		err = h.clickLocked(ctx, point, req.Parameters.Button, req.Parameters.Clicks)
	case schemas.ActionType:
		err = h.typeLocked(ctx, req.Parameters.Text)
	case schemas.ActionPress, schemas.ActionHotkey:
		err = h.keystrokeLocked(ctx, req.Parameters.Keys)
	case schemas.ActionDrag:
		err = h.dragLocked(ctx, *point, *req.Target.To, req.Parameters.Button)
	case schemas.ActionScroll:
		if point != nil {
			if err = h.moveLocked(ctx, *point); err != nil {
				break
			}
		}
		err = h.scrollLocked(ctx, req.Parameters.ScrollX, req.Parameters.ScrollY)
	default:
		err = injectionErr(KindInvalidInput, "execute", fmt.Errorf("unsupported action kind %q", req.Kind))
	}

	h.logger.Debug("Action finished.",
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.Int("applied", p.Applied),
		zap.Int("planned", p.Planned),
		zap.Error(err))
	return p, err
}

// ResolveWindow finds a window by pid and/or title.
func (h *Hand) ResolveWindow(ctx context.Context, q WindowQuery) (*WindowHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolveLocked(ctx, q)
}

func (h *Hand) resolveLocked(ctx context.Context, q WindowQuery) (*WindowHandle, error) {
	handle, err := h.backend.ResolveWindow(ctx, q)
	if err != nil {
		return nil, &ResolutionError{Query: q, Err: err}
	}
	if handle == nil {
		return nil, &ResolutionError{Query: q, Err: ErrWindowNotFound}
	}
	return handle, nil
}

// Move glides the pointer to target.
func (h *Hand) Move(ctx context.Context, target schemas.Point) error {
	return h.single(ctx, func() error { return h.moveLocked(ctx, target) })
}

// Click moves to target (when given) and clicks the button clicks times.
func (h *Hand) Click(ctx context.Context, target *schemas.Point, button schemas.MouseButton, clicks int) error {
	return h.single(ctx, func() error { return h.clickLocked(ctx, target, button, clicks) })
}

// TypeText types text one character at a time with Gaussian inter-key latency.
func (h *Hand) TypeText(ctx context.Context, text string) error {
	return h.single(ctx, func() error { return h.typeLocked(ctx, text) })
}

// Keystroke presses a key or chord: keys go down in order and come up in reverse.
func (h *Hand) Keystroke(ctx context.Context, keys []string) error {
	return h.single(ctx, func() error { return h.keystrokeLocked(ctx, keys) })
}

// Drag presses button at from, glides to to, and releases.
func (h *Hand) Drag(ctx context.Context, from, to schemas.Point, button schemas.MouseButton) error {
	return h.single(ctx, func() error { return h.dragLocked(ctx, from, to, button) })
}

// Scroll turns the wheel by the given notches.
func (h *Hand) Scroll(ctx context.Context, dx, dy int) error {
	return h.single(ctx, func() error { return h.scrollLocked(ctx, dx, dy) })
}

func (h *Hand) single(ctx context.Context, fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var p Progress
	h.progress = &p
	defer func() { h.progress = nil }()
	if err := h.checkHalt(ctx); err != nil {
		return err
	}
	return fn()
}

func (h *Hand) moveLocked(ctx context.Context, target schemas.Point) error {
	end := motion.Vector2D{X: float64(target.X), Y: float64(target.Y)}
	start := h.cursor()
	plan := h.profile.PlanMove(start, end)
	h.plan(plan.Len())

	for _, s := range plan.Samples {
		if err := h.sleep(ctx, s.Delay); err != nil {
			return err
		}
		x, y := motion.Vector2D{X: s.X, Y: s.Y}.Round()
		if err := h.backend.MoveTo(x, y); err != nil {
			return h.native("move", err)
		}
		h.pos, h.posKnown = motion.Vector2D{X: float64(x), Y: float64(y)}, true
		h.step()
	}
	return nil
}

func (h *Hand) clickLocked(ctx context.Context, target *schemas.Point, button schemas.MouseButton, clicks int) error {
	if button == "" {
		button = schemas.ButtonLeft
	}
	if clicks <= 0 {
		clicks = 1
	}
	if target != nil {
		if err := h.moveLocked(ctx, *target); err != nil {
			return err
		}
	}
	h.plan(clicks * 2)

	x, y := h.pos.Round()
	for i := 0; i < clicks; i++ {
		if i > 0 {
			if err := h.sleep(ctx, h.profile.KeyboardLatency()); err != nil {
				return err
			}
		}
		if err := h.checkHalt(ctx); err != nil {
			return err
		}
		if err := h.backend.Button(button, true, x, y); err != nil {
			return h.native("button down", err)
		}
		h.step()
		if err := h.sleep(ctx, h.profile.ClickHold()); err != nil {
			return err
		}
		if err := h.backend.Button(button, false, x, y); err != nil {
			return h.native("button up", err)
		}
		h.step()
	}
	return nil
}

func (h *Hand) typeLocked(ctx context.Context, text string) error {
	runes := []rune(text)
	h.plan(len(runes))

	for i, r := range runes {
		if i > 0 {
			if err := h.sleep(ctx, h.profile.KeyboardLatency()); err != nil {
				return err
			}
		}
		if err := h.checkHalt(ctx); err != nil {
			return err
		}
		if err := h.typeRune(ctx, r); err != nil {
			return err
		}
		h.step()
	}
	return nil
}

func (h *Hand) typeRune(ctx context.Context, r rune) (err error) {
	key, shift, ok := keymap.ForRune(r)
	if !ok {
		if err := h.backend.Unicode(r, true); err != nil {
			return h.native("unicode down", err)
		}
		if err := h.sleep(ctx, h.profile.KeyHold()); err != nil {
			return err
		}
		if err := h.backend.Unicode(r, false); err != nil {
			return h.native("unicode up", err)
		}
		return nil
	}

	shiftKey, _ := keymap.Lookup("shift")
	if shift {
		if err := h.backend.Key(shiftKey, true); err != nil {
			return h.native("key down", err)
		}
		// Same rule as drag: release on failure, leave held on halt.
		defer func() {
			if err != nil && !errors.Is(err, ErrHalted) {
				if rerr := h.backend.Key(shiftKey, false); rerr != nil {
					h.logger.Warn("Failed to release shift after key failure.", zap.Error(rerr))
				}
			}
		}()
	}
	if err := h.backend.Key(key, true); err != nil {
		return h.native("key down", err)
	}
	if err := h.sleep(ctx, h.profile.KeyHold()); err != nil {
		return err
	}
	if err := h.backend.Key(key, false); err != nil {
		return h.native("key up", err)
	}
	if shift {
		if err := h.backend.Key(shiftKey, false); err != nil {
			return h.native("key up", err)
		}
	}
	return nil
}

func (h *Hand) keystrokeLocked(ctx context.Context, names []string) error {
	keys, err := keymap.Chord(names)
	if err != nil {
		return injectionErr(KindUnknownKey, "keystroke", err)
	}
	if len(keys) == 0 {
		return injectionErr(KindInvalidInput, "keystroke", errors.New("no keys given"))
	}
	h.plan(len(keys) * 2)

	for i, k := range keys {
		if i > 0 {
			if err := h.sleep(ctx, h.profile.KeyboardLatency()/2); err != nil {
				return err
			}
		}
		if err := h.checkHalt(ctx); err != nil {
			return err
		}
		if err := h.backend.Key(k, true); err != nil {
			return h.native("key down", err)
		}
		h.step()
	}
	if err := h.sleep(ctx, h.profile.KeyHold()); err != nil {
		return err
	}
	for i := len(keys) - 1; i >= 0; i-- {
		if err := h.checkHalt(ctx); err != nil {
			return err
		}
		if err := h.backend.Key(keys[i], false); err != nil {
			return h.native("key up", err)
		}
		h.step()
	}
	return nil
}

func (h *Hand) dragLocked(ctx context.Context, from, to schemas.Point, button schemas.MouseButton) (err error) {
	if button == "" {
		button = schemas.ButtonLeft
	}
	if err := h.moveLocked(ctx, from); err != nil {
		return err
	}
	if err := h.checkHalt(ctx); err != nil {
		return err
	}
	h.plan(2)
	if err := h.backend.Button(button, true, from.X, from.Y); err != nil {
		return h.native("drag press", err)
	}
	h.step()

	// A failed native call must not leave the button held. A halt does not release.
	defer func() {
		if err != nil && !errors.Is(err, ErrHalted) {
			x, y := h.pos.Round()
			if rerr := h.backend.Button(button, false, x, y); rerr != nil {
				h.logger.Warn("Failed to release button after drag failure.", zap.Error(rerr))
			}
		}
	}()

	if err := h.sleep(ctx, h.profile.ClickHold()); err != nil {
		return err
	}
	if err := h.moveLocked(ctx, to); err != nil {
		return err
	}
	if err := h.checkHalt(ctx); err != nil {
		return err
	}
	if err := h.backend.Button(button, false, to.X, to.Y); err != nil {
		return h.native("drag release", err)
	}
	h.step()
	return nil
}

func (h *Hand) scrollLocked(ctx context.Context, dx, dy int) error {
	h.plan(abs(dx) + abs(dy))
	for _, axis := range []struct{ x, y, n int }{
		{0, sign(dy), dy},
		{sign(dx), 0, dx},
	} {
		for delay := range h.profile.PlanScroll(axis.n) {
			if err := h.sleep(ctx, delay); err != nil {
				return err
			}
			if err := h.backend.Wheel(axis.x, axis.y); err != nil {
				return h.native("wheel", err)
			}
			h.step()
		}
	}
	return nil
}

// cursor returns the backend's cursor position, falling back to the last injected one.
func (h *Hand) cursor() motion.Vector2D {
	x, y, err := h.backend.CursorPosition()
	if err == nil {
		return motion.Vector2D{X: float64(x), Y: float64(y)}
	}
	if !h.posKnown {
		h.logger.Debug("Cursor position unavailable, starting from origin.", zap.Error(err))
	}
	return h.pos
}

func (h *Hand) checkHalt(ctx context.Context) error {
	if h.halt.Halted() {
		return ErrHalted
	}
	return ctx.Err()
}

// sleep waits d, returning early with ErrHalted when the stop fires.
func (h *Hand) sleep(ctx context.Context, d time.Duration) error {
	if err := h.checkHalt(ctx); err != nil {
		return err
	}
	h.beat()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-h.halt.Done():
		return ErrHalted
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.checkHalt(ctx)
}

func (h *Hand) native(op string, err error) error {
	var ie *InjectionError
	if errors.As(err, &ie) {
		return err
	}
	return injectionErr(KindNativeCall, op, err)
}

func (h *Hand) plan(n int) {
	if h.progress != nil {
		h.progress.Planned += n
	}
}

func (h *Hand) step() {
	if h.progress != nil {
		h.progress.Applied++
	}
	h.beat()
}

func (h *Hand) beat() {
	if h.heartbeat != nil {
		h.heartbeat()
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
