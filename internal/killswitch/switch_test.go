package killswitch

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/audit"
	"github.com/xkilldash9x/ghosthand/internal/keymap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProcs struct {
	mu         sync.Mutex
	alive      map[int]bool
	children   map[int][]int
	terminated []int
	failOn     int
}

func newFakeProcs(alive ...int) *fakeProcs {
	p := &fakeProcs{alive: map[int]bool{}, children: map[int][]int{}}
	for _, pid := range alive {
		p.alive[pid] = true
	}
	return p
}

func (p *fakeProcs) Alive(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[pid]
}

func (p *fakeProcs) Terminate(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pid == p.failOn {
		return errors.New("access denied")
	}
	p.alive[pid] = false
	p.terminated = append(p.terminated, pid)
	return nil
}

func (p *fakeProcs) Children(pid int) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.children[pid], nil
}

func (p *fakeProcs) exit(pid int) {
	p.mu.Lock()
	p.alive[pid] = false
	p.mu.Unlock()
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []schemas.TaskMessage
}

func (r *recordingPublisher) Publish(priority int, p schemas.Payload) (schemas.TaskMessage, error) {
	msg, err := schemas.NewTaskMessage(priority, p)
	if err != nil {
		return msg, err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return msg, nil
}

func (r *recordingPublisher) all() []schemas.TaskMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.TaskMessage(nil), r.msgs...)
}

// quietConfig disables every monitor so tests enable only what they exercise.
func quietConfig() Config {
	return Config{
		GracefulShutdownTimeout: 0.05,
		ForceKillAfterTimeout:   true,
		PollInterval:            0.01,
		ParentPollInterval:      0.01,
	}
}

func newSwitch(t *testing.T, cfg Config, opts Options) *Switch {
	t.Helper()
	if opts.Processes == nil {
		opts.Processes = newFakeProcs()
	}
	if opts.Keys == nil {
		opts.Keys = KeyStateFunc(func(keymap.Key) (bool, error) { return false, nil })
	}
	s, err := New(cfg, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestTrigger_OneShotUnderConcurrency(t *testing.T) {
	var callbacks atomic.Int32
	pub := &recordingPublisher{}
	mem := audit.NewMemory()
	s := newSwitch(t, quietConfig(), Options{
		Shutdown: func(context.Context, schemas.TriggerSource, string) error {
			callbacks.Add(1)
			return nil
		},
		Publisher: pub,
		Sink:      mem,
	})

	var wins atomic.Int32
	var wg sync.WaitGroup
	sources := []schemas.TriggerSource{schemas.TriggerHotkey, schemas.TriggerFile, schemas.TriggerNetwork, schemas.TriggerManual}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(src schemas.TriggerSource) {
			defer wg.Done()
			if s.Trigger(context.Background(), src, "test") {
				wins.Add(1)
			}
		}(sources[i%len(sources)])
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), callbacks.Load())
	assert.True(t, s.Halted())
	assert.True(t, s.Fired())
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}

	events := s.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Success)
	assert.NotEmpty(t, events[0].ID)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, schemas.PriorityKillSwitch, msgs[0].Priority)
	assert.Len(t, mem.OfKind(audit.KindKillSwitch), 1)
}

func TestTrigger_HaltIsVisibleToShutdownCallback(t *testing.T) {
	var s *Switch
	var sawHalt bool
	s = newSwitch(t, quietConfig(), Options{
		Shutdown: func(context.Context, schemas.TriggerSource, string) error {
			sawHalt = s.Halted()
			return nil
		},
	})
	s.Trigger(context.Background(), schemas.TriggerManual, "operator")
	assert.True(t, sawHalt)
}

func TestTrigger_MonitorsStopAfterEventIsPublished(t *testing.T) {
	var mu sync.Mutex
	var order []string
	note := func(step string) {
		mu.Lock()
		order = append(order, step)
		mu.Unlock()
	}

	cfg := quietConfig()
	cfg.FileTriggerPath = filepath.Join(t.TempDir(), "stop")
	pub := &recordingPublisher{}
	s := newSwitch(t, cfg, Options{
		Shutdown: func(context.Context, schemas.TriggerSource, string) error {
			note("shutdown")
			return nil
		},
		Publisher: pub,
	})
	require.NoError(t, s.Start(context.Background()))

	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = func() {
		if len(pub.all()) == 1 {
			note("event published")
		}
		note("monitors stopped")
		cancel()
	}
	s.runMu.Unlock()

	s.Trigger(context.Background(), schemas.TriggerManual, "operator")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"shutdown", "event published", "monitors stopped"}, order)
}

func TestTrigger_TerminatesSurvivorsAndDescendants(t *testing.T) {
	procs := newFakeProcs(100, 101, 200)
	procs.children[100] = []int{200}
	cfg := quietConfig()
	cfg.MonitorChildProcesses = true

	s := newSwitch(t, cfg, Options{
		Processes: procs,
		Shutdown: func(context.Context, schemas.TriggerSource, string) error {
			procs.exit(101) // exits gracefully
			return nil
		},
	})
	s.Track(100)
	s.Track(101)
	s.Track(-5)
	assert.Equal(t, []int{100, 101}, s.Tracked())

	require.True(t, s.Trigger(context.Background(), schemas.TriggerManual, "test"))
	ev := s.Events()[0]
	assert.Equal(t, []int{100, 101, 200}, ev.AffectedProcessIDs)
	assert.Equal(t, []int{100, 200}, ev.TerminatedProcesses)
	assert.True(t, ev.Success)
}

func TestTrigger_NoForceKill(t *testing.T) {
	procs := newFakeProcs(100)
	cfg := quietConfig()
	cfg.ForceKillAfterTimeout = false
	s := newSwitch(t, cfg, Options{Processes: procs})
	s.Track(100)

	s.Trigger(context.Background(), schemas.TriggerManual, "test")
	ev := s.Events()[0]
	assert.Empty(t, ev.TerminatedProcesses)
	assert.True(t, procs.Alive(100))
}

func TestTrigger_FailuresAreRecorded(t *testing.T) {
	procs := newFakeProcs(100)
	procs.failOn = 100
	s := newSwitch(t, quietConfig(), Options{
		Processes: procs,
		Shutdown: func(context.Context, schemas.TriggerSource, string) error {
			panic("callback exploded")
		},
	})
	s.Track(100)

	require.True(t, s.Trigger(context.Background(), schemas.TriggerManual, "test"))
	ev := s.Events()[0]
	assert.False(t, ev.Success)
	assert.Contains(t, ev.Error, "callback exploded")
	assert.Contains(t, ev.Error, "terminate 100")
	assert.True(t, s.Halted())
}

func awaitEvent(t *testing.T, s *Switch) schemas.KillSwitchEvent {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Events()) == 1 }, 3*time.Second, 5*time.Millisecond)
	return s.Events()[0]
}

func TestFileMonitor_ScenarioC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghosthand.stop")
	cfg := quietConfig()
	cfg.FileTriggerPath = path
	s := newSwitch(t, cfg, Options{})
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.Halted())
	require.NoError(t, TouchSentinel(path))

	ev := awaitEvent(t, s)
	assert.Equal(t, schemas.TriggerFile, ev.TriggerSource)
	assert.True(t, s.Halted())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "sentinel must be removed")
}

func TestFileMonitor_MissingDirectoryPolls(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "later")
	cfg := quietConfig()
	cfg.FileTriggerPath = filepath.Join(dir, "stop")
	s := newSwitch(t, cfg, Options{})
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, TouchSentinel(cfg.FileTriggerPath))
	assert.Equal(t, schemas.TriggerFile, awaitEvent(t, s).TriggerSource)
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestNetworkMonitor(t *testing.T) {
	cfg := quietConfig()
	cfg.NetworkTriggerPort = freeUDPPort(t)
	s := newSwitch(t, cfg, Options{})
	require.NoError(t, s.Start(context.Background()))

	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.NetworkTriggerPort)))
	require.NoError(t, err)
	defer conn.Close()
	for _, junk := range []string{"STOP", "emergency_stop", Token + " please"} {
		_, err = conn.Write([]byte(junk))
		require.NoError(t, err)
	}
	time.Sleep(50 * time.Millisecond)
	assert.False(t, s.Halted(), "invalid datagrams are ignored")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, SendNetworkTrigger(ctx, cfg.NetworkTriggerPort))
	ev := awaitEvent(t, s)
	assert.Equal(t, schemas.TriggerNetwork, ev.TriggerSource)
}

func TestStart_PortConflict(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	cfg := quietConfig()
	cfg.NetworkTriggerPort = conn.LocalAddr().(*net.UDPAddr).Port
	s := newSwitch(t, cfg, Options{})
	assert.Error(t, s.Start(context.Background()))
}

func TestIsToken(t *testing.T) {
	assert.True(t, isToken([]byte(Token)))
	assert.True(t, isToken([]byte(Token+"\n")))
	assert.True(t, isToken([]byte(Token+"\r\n")))
	assert.False(t, isToken([]byte(Token+"\n\n")))
	assert.False(t, isToken([]byte(" "+Token)))
	assert.False(t, isToken(nil))
}

func TestWatchdog(t *testing.T) {
	t.Run("fires when starved", func(t *testing.T) {
		cfg := quietConfig()
		cfg.WatchdogTimeout = 0.05
		s := newSwitch(t, cfg, Options{})
		require.NoError(t, s.Start(context.Background()))
		assert.Equal(t, schemas.TriggerWatchdog, awaitEvent(t, s).TriggerSource)
	})

	t.Run("feeding keeps it quiet", func(t *testing.T) {
		cfg := quietConfig()
		cfg.WatchdogTimeout = 0.1
		s := newSwitch(t, cfg, Options{})
		require.NoError(t, s.Start(context.Background()))
		deadline := time.Now().Add(300 * time.Millisecond)
		for time.Now().Before(deadline) {
			s.Feed()
			time.Sleep(10 * time.Millisecond)
		}
		assert.False(t, s.Halted())
	})
}

func TestHotkeyMonitor(t *testing.T) {
	var pressed atomic.Bool
	keys := KeyStateFunc(func(k keymap.Key) (bool, error) {
		switch k.Name {
		case "ctrl", "alt":
			return true, nil
		case "k":
			return pressed.Load(), nil
		}
		return false, nil
	})
	cfg := quietConfig()
	cfg.KeyboardCombo = []string{"ctrl", "alt", "k"}
	s := newSwitch(t, cfg, Options{Keys: keys})
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(120 * time.Millisecond)
	assert.False(t, s.Halted(), "a partial combination must not fire")
	pressed.Store(true)
	assert.Equal(t, schemas.TriggerHotkey, awaitEvent(t, s).TriggerSource)
}

func TestParentMonitor(t *testing.T) {
	procs := newFakeProcs(4242)
	cfg := quietConfig()
	cfg.MonitorParent = true
	s := newSwitch(t, cfg, Options{Processes: procs, ParentPID: 4242})
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, s.Halted())
	procs.exit(4242)
	assert.Equal(t, schemas.TriggerParent, awaitEvent(t, s).TriggerSource)
}

func TestNew_Validation(t *testing.T) {
	cfg := quietConfig()
	cfg.KeyboardCombo = []string{"ctrl", "hyper"}
	_, err := New(cfg, Options{}, nil)
	assert.ErrorContains(t, err, "keyboard_combo")

	cfg = quietConfig()
	cfg.NetworkTriggerPort = 70000
	_, err = New(cfg, Options{}, nil)
	assert.Error(t, err)
}

func TestStart_Twice(t *testing.T) {
	s := newSwitch(t, quietConfig(), Options{})
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestDescendants(t *testing.T) {
	procs := newFakeProcs()
	procs.children[1] = []int{2, 3}
	procs.children[2] = []int{4}
	procs.children[4] = []int{1} // cycles are ignored
	got, err := descendants(procs, []int{1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"ctrl", "alt", "k"}, cfg.KeyboardCombo)
	assert.Equal(t, 60*time.Second, cfg.watchdog())
	_, err := keymap.Chord(cfg.KeyboardCombo)
	assert.NoError(t, err)
}
