// File: internal/service/factory_test.go
package service

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghosthand/internal/config"
	"github.com/xkilldash9x/ghosthand/internal/policy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testConfig returns a configuration that touches nothing outside the test's temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Bus.PollInterval = 10 * time.Millisecond
	cfg.Injector.Backend = config.BackendRecording
	cfg.Audit.File.Path = filepath.Join(dir, "audit.jsonl")
	cfg.Metrics.ListenAddress = ""

	cfg.KillSwitch.KeyboardCombo = nil
	cfg.KillSwitch.NetworkTriggerPort = 0
	cfg.KillSwitch.FileTriggerPath = filepath.Join(dir, "stop")
	cfg.KillSwitch.WatchdogTimeout = 0
	cfg.KillSwitch.MonitorParent = false
	cfg.KillSwitch.MonitorChildProcesses = false
	cfg.KillSwitch.GracefulShutdownTimeout = 0.05
	cfg.KillSwitch.PollInterval = 0.01

	cfg.Motion.Seed = 11
	cfg.Motion.FittsA, cfg.Motion.FittsB = 1, 1
	cfg.Motion.KeyLatencyMeanMs, cfg.Motion.KeyLatencyStdDevMs = 1, 0
	cfg.Motion.KeyHoldMeanMs, cfg.Motion.KeyHoldStdDevMs = 1, 0
	cfg.Motion.ClickHoldMinMs, cfg.Motion.ClickHoldMaxMs = 1, 2
	cfg.Motion.ScrollNotchMeanMs, cfg.Motion.ScrollNotchStdMs = 1, 0
	return cfg
}

func TestCreate_DryRunWiresEverything(t *testing.T) {
	cfg := testConfig(t)
	cfg.Injector.Backend = config.BackendNative
	cfg.Metrics.ListenAddress = "127.0.0.1:0"

	c, err := NewComponentFactory().Create(context.Background(), cfg, Options{DryRun: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Shutdown()

	assert.NotNil(t, c.Bus)
	assert.NotNil(t, c.Dispatcher)
	assert.NotNil(t, c.Policy)
	assert.NotNil(t, c.KillSwitch)
	assert.NotNil(t, c.Hand)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.Audit)
	require.NotNil(t, c.Metrics)
	assert.Equal(t, "recording", c.Backend.Name(), "dry run overrides the configured backend")

	c.Shutdown()
	c.Shutdown()
}

func TestCreate_FailuresCleanUp(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{"bad keyboard combo", func(c *config.Config) { c.KillSwitch.KeyboardCombo = []string{"ctrl", "nosuchkey"} }, "emergency stop"},
		{"broken policy rule", func(c *config.Config) {
			c.Policy.CustomRules = []policy.Rule{{Name: "broken", Expression: "action =="}}
		}, "policy engine"},
		{"empty audit path", func(c *config.Config) { c.Audit.File.Path = "" }, "requires a path"},
		{"unparseable database url", func(c *config.Config) {
			c.Audit.PostgresURL = "postgres://user:pw@localhost:notaport/db"
		}, "audit database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			c, err := NewComponentFactory().Create(context.Background(), cfg, Options{}, zaptest.NewLogger(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Nil(t, c)
		})
	}
}

func TestRun_PortConflictFailsToArm(t *testing.T) {
	occupied, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig(t)
	cfg.KillSwitch.NetworkTriggerPort = occupied.LocalAddr().(*net.UDPAddr).Port
	c, err := NewComponentFactory().Create(context.Background(), cfg, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Shutdown()

	err = c.Run(context.Background())
	assert.ErrorContains(t, err, "failed to arm emergency stop")
}
