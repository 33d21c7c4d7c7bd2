// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/ghosthand/internal/audit"
	"github.com/xkilldash9x/ghosthand/internal/keymap"
	"github.com/xkilldash9x/ghosthand/internal/killswitch"
	"github.com/xkilldash9x/ghosthand/internal/motion"
	"github.com/xkilldash9x/ghosthand/internal/orchestrator"
	"github.com/xkilldash9x/ghosthand/internal/policy"
)

// ErrConfiguration marks a malformed or invalid configuration. It is never fatal:
// the affected values fall back to defaults and the error is recorded in Issues.
var ErrConfiguration = errors.New("configuration error")

// DefaultPath is where the config file lives when --config is not given.
const DefaultPath = "~/.ghosthand/config.yaml"

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig        `mapstructure:"logger" yaml:"logger"`
	Bus          BusConfig           `mapstructure:"bus" yaml:"bus"`
	Policy       policy.Config       `mapstructure:"policy" yaml:"policy"`
	KillSwitch   killswitch.Config   `mapstructure:"killswitch" yaml:"killswitch"`
	Motion       motion.Config       `mapstructure:"motion" yaml:"motion"`
	Injector     InjectorConfig      `mapstructure:"injector" yaml:"injector"`
	Audit        AuditConfig         `mapstructure:"audit" yaml:"audit"`
	Metrics      MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Orchestrator orchestrator.Config `mapstructure:"orchestrator" yaml:"orchestrator"`

	// Issues lists every configuration problem that was replaced by a default.
	Issues []error `mapstructure:"-" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BusConfig configures the dispatch loop.
type BusConfig struct {
	// PollInterval bounds how long the dispatcher blocks on an empty queue, and
	// therefore how often it feeds the watchdog.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// InjectorConfig selects and tunes the input backend.
type InjectorConfig struct {
	// Backend is "native" or "recording".
	Backend       string   `mapstructure:"backend" yaml:"backend"`
	Isolate       bool     `mapstructure:"isolate" yaml:"isolate"`
	DesktopName   string   `mapstructure:"desktop_name" yaml:"desktop_name"`
	LaunchCommand []string `mapstructure:"launch_command" yaml:"launch_command"`
}

// AuditConfig configures the audit sinks. The JSONL file is always written; the
// Postgres sink is added when a URL is set.
type AuditConfig struct {
	File        audit.FileConfig `mapstructure:"file" yaml:"file"`
	PostgresURL string           `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

const (
	BackendNative    = "native"
	BackendRecording = "recording"
)

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.expandPaths()
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "ghosthand")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Bus --
	v.SetDefault("bus.poll_interval", "250ms")

	// -- Policy --
	pd := policy.DefaultConfig()
	v.SetDefault("policy.denylist_content", pd.DenylistContent)
	v.SetDefault("policy.malicious_patterns", pd.MaliciousPatterns)
	v.SetDefault("policy.financial_keywords", pd.FinancialKeywords)
	v.SetDefault("policy.amount_patterns", pd.AmountPatterns)
	v.SetDefault("policy.sensitive_keywords", pd.SensitiveKeywords)
	v.SetDefault("policy.sensitive_patterns", pd.SensitivePatterns)
	v.SetDefault("policy.system_critical_keywords", pd.SystemCriticalKeywords)
	v.SetDefault("policy.write_keywords", pd.WriteKeywords)
	v.SetDefault("policy.custom_rules", []map[string]any{})
	v.SetDefault("policy.override_codes", pd.OverrideCodes)
	v.SetDefault("policy.audit_capacity", pd.AuditCapacity)

	// -- Kill Switch --
	kd := killswitch.DefaultConfig()
	v.SetDefault("killswitch.keyboard_combo", kd.KeyboardCombo)
	v.SetDefault("killswitch.file_trigger_path", kd.FileTriggerPath)
	v.SetDefault("killswitch.network_trigger_port", kd.NetworkTriggerPort)
	v.SetDefault("killswitch.watchdog_timeout", kd.WatchdogTimeout)
	v.SetDefault("killswitch.graceful_shutdown_timeout", kd.GracefulShutdownTimeout)
	v.SetDefault("killswitch.force_kill_after_timeout", kd.ForceKillAfterTimeout)
	v.SetDefault("killswitch.monitor_child_processes", kd.MonitorChildProcesses)
	v.SetDefault("killswitch.monitor_parent", kd.MonitorParent)
	v.SetDefault("killswitch.poll_interval", kd.PollInterval)
	v.SetDefault("killswitch.parent_poll_interval", kd.ParentPollInterval)

	// -- Motion --
	md := motion.DefaultConfig()
	v.SetDefault("motion.key_latency_mean_ms", md.KeyLatencyMeanMs)
	v.SetDefault("motion.key_latency_stddev_ms", md.KeyLatencyStdDevMs)
	v.SetDefault("motion.key_hold_mean_ms", md.KeyHoldMeanMs)
	v.SetDefault("motion.key_hold_stddev_ms", md.KeyHoldStdDevMs)
	v.SetDefault("motion.control_points", md.ControlPoints)
	v.SetDefault("motion.control_jitter_ratio", md.ControlJitterRatio)
	v.SetDefault("motion.control_jitter_min_px", md.ControlJitterMinPx)
	v.SetDefault("motion.fitts_a", md.FittsA)
	v.SetDefault("motion.fitts_b", md.FittsB)
	v.SetDefault("motion.fitts_randomness", md.FittsRandomness)
	v.SetDefault("motion.samples_per_second", md.SamplesPerSecond)
	v.SetDefault("motion.min_steps", md.MinSteps)
	v.SetDefault("motion.max_steps", md.MaxSteps)
	v.SetDefault("motion.tremor_amplitude_px", md.TremorAmplitudePx)
	v.SetDefault("motion.click_hold_min_ms", md.ClickHoldMinMs)
	v.SetDefault("motion.click_hold_max_ms", md.ClickHoldMaxMs)
	v.SetDefault("motion.scroll_notch_mean_ms", md.ScrollNotchMeanMs)
	v.SetDefault("motion.scroll_notch_stddev_ms", md.ScrollNotchStdMs)
	v.SetDefault("motion.seed", md.Seed)

	// -- Injector --
	v.SetDefault("injector.backend", BackendNative)
	v.SetDefault("injector.isolate", false)
	v.SetDefault("injector.desktop_name", "GhostHandDesktop")
	v.SetDefault("injector.launch_command", []string{})

	// -- Audit --
	v.SetDefault("audit.file.path", "~/.ghosthand/audit.jsonl")
	v.SetDefault("audit.file.max_size_mb", 100)
	v.SetDefault("audit.file.max_backups", 10)
	v.SetDefault("audit.file.max_age_days", 90)
	v.SetDefault("audit.file.compress", true)
	v.SetDefault("audit.postgres_url", "")

	// -- Metrics --
	v.SetDefault("metrics.listen_address", "")

	// -- Orchestrator --
	v.SetDefault("orchestrator.state_retention", 1024)
}

// bindEnv wires the GHOSTHAND_ environment prefix. Secrets get short names so
// they never need to live in the config file.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("GHOSTHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("policy.override_codes", "GHOSTHAND_OVERRIDE_CODES")
	_ = v.BindEnv("audit.postgres_url", "GHOSTHAND_AUDIT_DATABASE_URL")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: error unmarshaling config: %v", ErrConfiguration, err)
	}
	cfg.expandPaths()
	cfg.Validate()
	return &cfg, nil
}

// Load reads the config file at path. A missing file is created from the defaults;
// a malformed one is logged and replaced by the defaults for this run. The returned
// error is reserved for failures that leave no usable configuration.
func Load(path string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = DefaultPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand config path: %w", err)
	}

	v := newViper(expanded)
	var issues []error
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist):
			if werr := WriteDefaults(expanded, false); werr != nil {
				logger.Warn("Could not write default configuration.", zap.String("path", expanded), zap.Error(werr))
			} else {
				logger.Info("Wrote default configuration.", zap.String("path", expanded))
			}
		default:
			cerr := fmt.Errorf("%w: %s: %v", ErrConfiguration, expanded, err)
			logger.Error("Malformed configuration file, using defaults.", zap.Error(cerr))
			issues = append(issues, cerr)
			v = newViper("")
		}
	}

	cfg, err := NewConfigFromViper(v)
	if err != nil {
		logger.Error("Configuration could not be decoded, using defaults.", zap.Error(err))
		issues = append(issues, err)
		cfg, err = NewConfigFromViper(newViper(""))
		if err != nil {
			return nil, err
		}
	}
	cfg.Issues = append(issues, cfg.Issues...)
	for _, issue := range cfg.Issues {
		logger.Warn("Configuration value replaced by default.", zap.Error(issue))
	}
	return cfg, nil
}

func newViper(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	bindEnv(v)
	if file != "" {
		v.SetConfigFile(file)
		if filepath.Ext(file) == "" {
			v.SetConfigType("yaml")
		}
	}
	return v
}

// WriteDefaults writes the default configuration to path. Existing files are only
// replaced when force is set. Environment overrides are never written.
func WriteDefaults(path string, force bool) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	v := viper.New()
	SetDefaults(v)
	if filepath.Ext(expanded) == "" {
		v.SetConfigType("yaml")
	}
	if force {
		return v.WriteConfigAs(expanded)
	}
	return v.SafeWriteConfigAs(expanded)
}

func (c *Config) expandPaths() {
	for _, p := range []*string{&c.Logger.LogFile, &c.Audit.File.Path, &c.KillSwitch.FileTriggerPath} {
		if *p == "" {
			continue
		}
		if expanded, err := homedir.Expand(*p); err == nil {
			*p = expanded
		}
	}
}

// Validate replaces invalid values with their defaults, recording each
// replacement in Issues.
func (c *Config) Validate() {
	d := NewDefaultConfig()
	report := func(field string, got any) {
		c.Issues = append(c.Issues, fmt.Errorf("%w: invalid %s %v", ErrConfiguration, field, got))
	}

	if _, err := zapcore.ParseLevel(c.Logger.Level); err != nil {
		report("logger.level", c.Logger.Level)
		c.Logger.Level = d.Logger.Level
	}
	if c.Logger.Format != "console" && c.Logger.Format != "json" {
		report("logger.format", c.Logger.Format)
		c.Logger.Format = d.Logger.Format
	}
	if c.Bus.PollInterval <= 0 {
		report("bus.poll_interval", c.Bus.PollInterval)
		c.Bus.PollInterval = d.Bus.PollInterval
	}

	ks := &c.KillSwitch
	if _, err := keymap.Chord(ks.KeyboardCombo); len(ks.KeyboardCombo) > 0 && err != nil {
		report("killswitch.keyboard_combo", ks.KeyboardCombo)
		ks.KeyboardCombo = d.KillSwitch.KeyboardCombo
	}
	if ks.NetworkTriggerPort < 0 || ks.NetworkTriggerPort > 65535 {
		report("killswitch.network_trigger_port", ks.NetworkTriggerPort)
		ks.NetworkTriggerPort = d.KillSwitch.NetworkTriggerPort
	}
	if ks.WatchdogTimeout < 0 {
		report("killswitch.watchdog_timeout", ks.WatchdogTimeout)
		ks.WatchdogTimeout = d.KillSwitch.WatchdogTimeout
	}
	if ks.GracefulShutdownTimeout < 0 {
		report("killswitch.graceful_shutdown_timeout", ks.GracefulShutdownTimeout)
		ks.GracefulShutdownTimeout = d.KillSwitch.GracefulShutdownTimeout
	}
	// A watchdog that expires before the dispatcher can feed it would fire on an idle system.
	if ks.WatchdogTimeout > 0 && time.Duration(ks.WatchdogTimeout*float64(time.Second)) <= 2*c.Bus.PollInterval {
		report("killswitch.watchdog_timeout", ks.WatchdogTimeout)
		ks.WatchdogTimeout = d.KillSwitch.WatchdogTimeout
	}

	if c.Injector.Backend != BackendNative && c.Injector.Backend != BackendRecording {
		report("injector.backend", c.Injector.Backend)
		c.Injector.Backend = d.Injector.Backend
	}

	if _, err := policy.NewEngine(c.Policy, nil, nil); err != nil {
		c.Issues = append(c.Issues, fmt.Errorf("%w: policy: %v", ErrConfiguration, err))
		codes := c.Policy.OverrideCodes
		c.Policy = d.Policy
		c.Policy.OverrideCodes = codes
	}

	if c.Orchestrator.StateRetention <= 0 {
		report("orchestrator.state_retention", c.Orchestrator.StateRetention)
		c.Orchestrator.StateRetention = d.Orchestrator.StateRetention
	}
}
