package killswitch

import "time"

// Config holds the kill-switch options. Durations are in seconds to match the
// persisted option names.
type Config struct {
	KeyboardCombo           []string `mapstructure:"keyboard_combo" yaml:"keyboard_combo"`
	FileTriggerPath         string   `mapstructure:"file_trigger_path" yaml:"file_trigger_path"`
	NetworkTriggerPort      int      `mapstructure:"network_trigger_port" yaml:"network_trigger_port"`
	WatchdogTimeout         float64  `mapstructure:"watchdog_timeout" yaml:"watchdog_timeout"`
	GracefulShutdownTimeout float64  `mapstructure:"graceful_shutdown_timeout" yaml:"graceful_shutdown_timeout"`
	ForceKillAfterTimeout   bool     `mapstructure:"force_kill_after_timeout" yaml:"force_kill_after_timeout"`
	MonitorChildProcesses   bool     `mapstructure:"monitor_child_processes" yaml:"monitor_child_processes"`

	// MonitorParent enables the parent-process liveness monitor.
	MonitorParent      bool    `mapstructure:"monitor_parent" yaml:"monitor_parent"`
	PollInterval       float64 `mapstructure:"poll_interval" yaml:"poll_interval"`
	ParentPollInterval float64 `mapstructure:"parent_poll_interval" yaml:"parent_poll_interval"`
}

// Token is the exact UDP payload that fires the network trigger.
const Token = "EMERGENCY_STOP"

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		KeyboardCombo:           []string{"ctrl", "alt", "k"},
		FileTriggerPath:         "/tmp/ghosthand.stop",
		NetworkTriggerPort:      47291,
		WatchdogTimeout:         60,
		GracefulShutdownTimeout: 5,
		ForceKillAfterTimeout:   true,
		MonitorChildProcesses:   true,
		MonitorParent:           true,
		PollInterval:            0.5,
		ParentPollInterval:      1,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c Config) watchdog() time.Duration { return seconds(c.WatchdogTimeout) }
func (c Config) grace() time.Duration    { return seconds(c.GracefulShutdownTimeout) }

func (c Config) poll() time.Duration {
	if c.PollInterval <= 0 {
		return 500 * time.Millisecond
	}
	return seconds(c.PollInterval)
}

func (c Config) parentPoll() time.Duration {
	if c.ParentPollInterval <= 0 {
		return time.Second
	}
	return seconds(c.ParentPollInterval)
}
