// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/audit"
	"github.com/xkilldash9x/ghosthand/internal/bus"
	"github.com/xkilldash9x/ghosthand/internal/config"
	"github.com/xkilldash9x/ghosthand/internal/ghosthand"
	"github.com/xkilldash9x/ghosthand/internal/killswitch"
	"github.com/xkilldash9x/ghosthand/internal/motion"
	"github.com/xkilldash9x/ghosthand/internal/observability"
	"github.com/xkilldash9x/ghosthand/internal/orchestrator"
	"github.com/xkilldash9x/ghosthand/internal/policy"
)

// Options adjusts how components are built for one command.
type Options struct {
	// DryRun forces the recording backend regardless of configuration.
	DryRun bool
	// Shutdown runs when the emergency stop fires.
	Shutdown killswitch.ShutdownFunc
	// Sink replaces the configured audit sinks.
	Sink audit.Sink
}

// ComponentFactory builds the component graph, so commands can be tested with a fake.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires every component from the configuration.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (c *Components, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	built := &Components{Config: cfg, logger: logger}
	c = built

	// Tear down whatever was built if a later step fails.
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			built.Shutdown()
			c = nil
		}
	}()

	// 1. Audit sinks
	if opts.Sink != nil {
		c.Audit = opts.Sink
	} else if c.Audit, err = NewAuditSink(ctx, cfg.Audit, logger); err != nil {
		return nil, err
	}

	// 2. Bus and dispatcher
	c.Bus = bus.New(logger)
	c.Dispatcher = bus.NewDispatcher(c.Bus, cfg.Bus.PollInterval, logger)

	// 3. Policy gate
	if c.Policy, err = policy.NewEngine(cfg.Policy, c.Audit, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// 4. Emergency stop
	shutdown := opts.Shutdown
	if shutdown == nil {
		shutdown = func(_ context.Context, source schemas.TriggerSource, reason string) error {
			logger.Warn("Halting all input.", zap.String("source", string(source)), zap.String("reason", reason))
			return nil
		}
	}
	c.KillSwitch, err = killswitch.New(cfg.KillSwitch, killswitch.Options{
		Shutdown:  shutdown,
		Publisher: c.Bus,
		Sink:      c.Audit,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize emergency stop: %w", err)
	}

	// 5. Input backend and hand
	if opts.DryRun || cfg.Injector.Backend == config.BackendRecording {
		c.Backend = ghosthand.NewRecordingBackend()
	} else {
		c.Backend, err = ghosthand.NewNativeBackend(ghosthand.Options{
			Isolate:       cfg.Injector.Isolate,
			DesktopName:   cfg.Injector.DesktopName,
			LaunchCommand: cfg.Injector.LaunchCommand,
		}, c.KillSwitch)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize input backend: %w", err)
		}
	}
	c.Hand = ghosthand.New(c.Backend, motion.NewProfile(cfg.Motion), c.KillSwitch, logger)
	c.Hand.OnHeartbeat(c.KillSwitch.Feed)
	logger.Debug("Input backend initialized.", zap.String("backend", c.Backend.Name()))

	// 6. Orchestrator
	c.Orchestrator, err = orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		Validator: c.Policy,
		Executor:  c.Hand,
		Publisher: c.Bus,
		Halt:      c.KillSwitch,
		Sink:      c.Audit,
	}, logger)
	if err != nil {
		return nil, err
	}
	c.Orchestrator.Register(c.Dispatcher)
	// Handlers run inline, so the hand feeds the watchdog while an action is in flight.
	c.Dispatcher.OnHeartbeat(c.KillSwitch.Feed)

	// 7. Metrics
	if cfg.Metrics.ListenAddress != "" {
		if c.Metrics, err = observability.NewMetricsServer(cfg.Metrics.ListenAddress, logger); err != nil {
			return nil, fmt.Errorf("failed to bind metrics endpoint: %w", err)
		}
	}
	return c, nil
}

// NewAuditSink opens the JSONL file sink and, when configured, the Postgres sink.
func NewAuditSink(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (audit.Sink, error) {
	file, err := audit.NewJSONLSink(cfg.File)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresURL == "" {
		return file, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to create audit database pool: %w", err)
	}
	pg, err := audit.NewPostgresSink(ctx, pool, pool.Close, logger)
	if err != nil {
		pool.Close()
		_ = file.Close()
		return nil, err
	}
	logger.Debug("Postgres audit sink initialized.")
	return audit.Multi{file, pg}, nil
}
