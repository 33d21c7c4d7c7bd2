// Package killswitch implements the emergency stop: a one-shot switch that halts all
// input injection, runs the shutdown callback, and terminates tracked processes.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/audit"
	"github.com/xkilldash9x/ghosthand/internal/keymap"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("killswitch: monitors already started")

// Publisher puts the firing event on the dispatch bus.
type Publisher interface {
	Publish(priority int, payload schemas.Payload) (schemas.TaskMessage, error)
}

// ShutdownFunc is the caller's cleanup hook. It runs once, after the halt flag is set.
type ShutdownFunc func(ctx context.Context, source schemas.TriggerSource, reason string) error

// Options carries the collaborators of a Switch. Every field is optional.
type Options struct {
	Shutdown  ShutdownFunc
	Publisher Publisher
	Sink      audit.Sink
	Processes Processes
	Keys      KeyState
	// ParentPID overrides the parent process the parent monitor watches.
	ParentPID int
}

// Switch is the emergency stop. It satisfies the injector's halt signal and
// process observer contracts.
type Switch struct {
	cfg    Config
	opts   Options
	combo  []keymap.Key
	logger *zap.Logger

	fired  atomic.Bool
	halted atomic.Bool
	done   chan struct{}

	procMu  sync.RWMutex
	tracked map[int]struct{}

	eventMu sync.RWMutex
	events  []schemas.KillSwitchEvent

	lastFeed atomic.Int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group

	now func() time.Time
}

// New builds a switch. The keyboard combination is resolved up front so a typo
// fails at startup rather than silently disabling the hotkey.
func New(cfg Config, opts Options, logger *zap.Logger) (*Switch, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var combo []keymap.Key
	if len(cfg.KeyboardCombo) > 0 {
		keys, err := keymap.Chord(cfg.KeyboardCombo)
		if err != nil {
			return nil, fmt.Errorf("invalid keyboard_combo: %w", err)
		}
		combo = keys
	}
	if cfg.NetworkTriggerPort < 0 || cfg.NetworkTriggerPort > 65535 {
		return nil, fmt.Errorf("invalid network_trigger_port %d", cfg.NetworkTriggerPort)
	}
	if opts.Processes == nil {
		opts.Processes = OSProcesses{}
	}
	if opts.Keys == nil {
		opts.Keys = nativeKeyState()
	}
	s := &Switch{
		cfg:     cfg,
		opts:    opts,
		combo:   combo,
		logger:  logger.Named("killswitch"),
		done:    make(chan struct{}),
		tracked: make(map[int]struct{}),
		now:     time.Now,
	}
	s.Feed()
	return s, nil
}

// Halted reports whether the switch has fired. It never goes back to false.
func (s *Switch) Halted() bool { return s.halted.Load() }

// Done is closed when the switch fires.
func (s *Switch) Done() <-chan struct{} { return s.done }

// Fired reports whether a trigger has been accepted.
func (s *Switch) Fired() bool { return s.fired.Load() }

// Track registers a process to terminate when the switch fires.
func (s *Switch) Track(pid int) {
	if pid <= 0 {
		return
	}
	s.procMu.Lock()
	s.tracked[pid] = struct{}{}
	s.procMu.Unlock()
	s.logger.Debug("Tracking process.", zap.Int("pid", pid))
}

// Untrack forgets a process, typically after it exited on its own.
func (s *Switch) Untrack(pid int) {
	s.procMu.Lock()
	delete(s.tracked, pid)
	s.procMu.Unlock()
}

// Tracked returns the tracked process ids in ascending order.
func (s *Switch) Tracked() []int {
	s.procMu.RLock()
	out := make([]int, 0, len(s.tracked))
	for pid := range s.tracked {
		out = append(out, pid)
	}
	s.procMu.RUnlock()
	sort.Ints(out)
	return out
}

// Feed resets the watchdog.
func (s *Switch) Feed() {
	s.lastFeed.Store(time.Now().UnixNano())
}

// Events returns a copy of the firing log.
func (s *Switch) Events() []schemas.KillSwitchEvent {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()
	return append([]schemas.KillSwitchEvent(nil), s.events...)
}

// Trigger fires the switch. Only the first call from any source does anything; it
// returns true for that call and false for every later one.
func (s *Switch) Trigger(ctx context.Context, source schemas.TriggerSource, reason string) bool {
	if !s.fired.CompareAndSwap(false, true) {
		s.logger.Debug("Emergency stop already fired, ignoring trigger.",
			zap.String("source", string(source)), zap.String("reason", reason))
		return false
	}
	// A firing always runs to completion, even if the triggering monitor is cancelled.
	ctx = context.WithoutCancel(ctx)
	s.halted.Store(true)
	close(s.done)
	firingsTotal.WithLabelValues(string(source)).Inc()
	s.logger.Error("EMERGENCY STOP triggered.", zap.String("source", string(source)), zap.String("reason", reason))

	var errs []error
	if s.opts.Shutdown != nil {
		if err := s.runShutdown(ctx, source, reason); err != nil {
			s.logger.Error("Shutdown callback failed.", zap.Error(err))
			errs = append(errs, fmt.Errorf("shutdown callback: %w", err))
		}
	}

	affected, err := s.affectedProcesses()
	if err != nil {
		s.logger.Warn("Child process discovery incomplete.", zap.Error(err))
	}
	s.waitForExit(ctx, affected)

	var terminated []int
	if s.cfg.ForceKillAfterTimeout {
		for _, pid := range affected {
			if !s.opts.Processes.Alive(pid) {
				continue
			}
			if err := s.opts.Processes.Terminate(pid); err != nil {
				s.logger.Error("Failed to terminate process.", zap.Int("pid", pid), zap.Error(err))
				errs = append(errs, fmt.Errorf("terminate %d: %w", pid, err))
				continue
			}
			terminated = append(terminated, pid)
			terminatedTotal.Inc()
			s.logger.Warn("Force-terminated process.", zap.Int("pid", pid))
		}
	}

	ev := schemas.KillSwitchEvent{
		ID:                  uuid.NewString(),
		Timestamp:           s.now().UTC(),
		TriggerSource:       source,
		Reason:              reason,
		AffectedProcessIDs:  affected,
		TerminatedProcesses: terminated,
		Success:             len(errs) == 0,
	}
	if err := errors.Join(errs...); err != nil {
		ev.Error = err.Error()
	}

	s.eventMu.Lock()
	s.events = append(s.events, ev)
	s.eventMu.Unlock()

	s.record(ctx, ev)

	// Monitors have nothing left to guard.
	s.stopMonitors()
	return true
}

func (s *Switch) runShutdown(ctx context.Context, source schemas.TriggerSource, reason string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.opts.Shutdown(ctx, source, reason)
}

// affectedProcesses is the tracked set plus, when enabled, every descendant of the
// tracked processes and of this process.
func (s *Switch) affectedProcesses() ([]int, error) {
	pids := s.Tracked()
	if !s.cfg.MonitorChildProcesses {
		return pids, nil
	}
	self := os.Getpid()
	kids, err := descendants(s.opts.Processes, append(append([]int(nil), pids...), self))
	set := make(map[int]struct{}, len(pids)+len(kids))
	for _, pid := range append(pids, kids...) {
		if pid != self {
			set[pid] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out, err
}

// waitForExit gives processes the grace period to exit on their own.
func (s *Switch) waitForExit(ctx context.Context, pids []int) {
	grace := s.cfg.grace()
	if grace <= 0 || len(pids) == 0 {
		return
	}
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		alive := false
		for _, pid := range pids {
			if s.opts.Processes.Alive(pid) {
				alive = true
				break
			}
		}
		if !alive {
			return
		}
		select {
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (s *Switch) record(ctx context.Context, ev schemas.KillSwitchEvent) {
	if s.opts.Publisher != nil {
		if _, err := s.opts.Publisher.Publish(schemas.PriorityKillSwitch, ev); err != nil {
			s.logger.Error("Failed to publish kill switch event.", zap.Error(err))
		}
	}
	if s.opts.Sink != nil {
		entry, err := audit.FromPayload(ev)
		if err == nil {
			err = s.opts.Sink.Append(ctx, entry)
		}
		if err != nil {
			s.logger.Error("Failed to audit kill switch event.", zap.Error(err))
		}
	}
}
