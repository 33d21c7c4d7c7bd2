package killswitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/ghosthand/api/schemas"
)

const hotkeyPoll = 50 * time.Millisecond

// Start launches every configured monitor. Monitors stop when ctx is cancelled,
// when Stop is called, or when the switch fires.
func (s *Switch) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.group != nil {
		return ErrAlreadyStarted
	}

	// The UDP socket is bound synchronously so a port conflict fails startup.
	var conn *net.UDPConn
	if s.cfg.NetworkTriggerPort > 0 {
		c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: s.cfg.NetworkTriggerPort})
		if err != nil {
			return fmt.Errorf("bind network trigger: %w", err)
		}
		conn = c
	}

	mctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(mctx)
	s.cancel, s.group = cancel, g
	s.Feed()

	if len(s.combo) > 0 {
		g.Go(func() error { return s.watchHotkey(gctx) })
	}
	if s.cfg.FileTriggerPath != "" {
		g.Go(func() error { return s.watchFile(gctx) })
	}
	if conn != nil {
		g.Go(func() error { return s.watchNetwork(gctx, conn) })
	}
	if s.cfg.WatchdogTimeout > 0 {
		g.Go(func() error { return s.watchWatchdog(gctx) })
	}
	if s.cfg.MonitorParent {
		g.Go(func() error { return s.watchParent(gctx) })
	}
	s.logger.Info("Emergency stop armed.",
		zap.Strings("keyboard_combo", s.cfg.KeyboardCombo),
		zap.String("file_trigger", s.cfg.FileTriggerPath),
		zap.Int("udp_port", s.cfg.NetworkTriggerPort),
		zap.Float64("watchdog_timeout", s.cfg.WatchdogTimeout),
		zap.Bool("parent_monitor", s.cfg.MonitorParent))
	return nil
}

// Stop cancels the monitors and waits for them to exit.
func (s *Switch) Stop() error {
	s.runMu.Lock()
	cancel, g := s.cancel, s.group
	s.runMu.Unlock()
	if g == nil {
		return nil
	}
	cancel()
	return g.Wait()
}

func (s *Switch) stopMonitors() {
	s.runMu.Lock()
	cancel := s.cancel
	s.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Switch) watchHotkey(ctx context.Context) error {
	tick := time.NewTicker(hotkeyPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		held, err := comboHeld(s.opts.Keys, s.combo)
		if errors.Is(err, errHotkeyUnsupported) {
			s.logger.Warn("Hotkey monitor disabled.", zap.Error(err))
			return nil
		}
		if err != nil {
			s.logger.Debug("Key state read failed.", zap.Error(err))
			continue
		}
		if held {
			s.Trigger(ctx, schemas.TriggerHotkey, fmt.Sprintf("keyboard combination %v pressed", s.cfg.KeyboardCombo))
			return nil
		}
	}
}

// watchFile fires when the sentinel file exists. fsnotify gives a fast path; the
// poll covers filesystems without notification support and a missing directory.
func (s *Switch) watchFile(ctx context.Context) error {
	path := s.cfg.FileTriggerPath
	var events <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			s.logger.Warn("File watch unavailable, polling only.", zap.String("path", path), zap.Error(err))
		} else {
			events = watcher.Events
		}
	} else {
		s.logger.Warn("Failed to create file watcher, polling only.", zap.Error(err))
	}

	tick := time.NewTicker(s.cfg.poll())
	defer tick.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("Failed to remove sentinel file.", zap.String("path", path), zap.Error(err))
			}
			s.Trigger(ctx, schemas.TriggerFile, "sentinel file "+path+" detected")
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
		}
	}
}

// isToken accepts the exact token with at most one trailing line ending.
func isToken(payload []byte) bool {
	if bytes.HasSuffix(payload, []byte("\r\n")) {
		payload = payload[:len(payload)-2]
	} else {
		payload = bytes.TrimSuffix(payload, []byte("\n"))
	}
	return string(payload) == Token
}

func (s *Switch) watchNetwork(ctx context.Context, conn *net.UDPConn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	warn := rate.NewLimiter(rate.Every(time.Second), 3)
	buf := make([]byte, 512)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("Network trigger read failed.", zap.Error(err))
			continue
		}
		if isToken(buf[:n]) {
			s.Trigger(ctx, schemas.TriggerNetwork, "network token received from "+addr.String())
			return nil
		}
		if warn.Allow() {
			s.logger.Warn("Ignoring invalid datagram on network trigger.", zap.Stringer("from", addr), zap.Int("bytes", n))
		}
	}
}

func (s *Switch) watchWatchdog(ctx context.Context) error {
	timeout := s.cfg.watchdog()
	interval := timeout / 4
	if interval > s.cfg.poll() {
		interval = s.cfg.poll()
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		age := time.Since(time.Unix(0, s.lastFeed.Load()))
		watchdogAge.Set(age.Seconds())
		if age > timeout {
			s.Trigger(ctx, schemas.TriggerWatchdog, fmt.Sprintf("watchdog not fed for %s", age.Round(time.Millisecond)))
			return nil
		}
	}
}

func (s *Switch) watchParent(ctx context.Context) error {
	ppid := s.opts.ParentPID
	compareGetppid := ppid == 0
	if compareGetppid {
		ppid = os.Getppid()
	}
	if ppid <= 1 {
		s.logger.Info("No parent process to monitor.", zap.Int("ppid", ppid))
		return nil
	}
	tick := time.NewTicker(s.cfg.parentPoll())
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		if (compareGetppid && os.Getppid() != ppid) || !s.opts.Processes.Alive(ppid) {
			s.Trigger(ctx, schemas.TriggerParent, fmt.Sprintf("parent process %d exited", ppid))
			return nil
		}
	}
}
