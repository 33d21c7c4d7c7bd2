// File: internal/service/components.go
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/ghosthand/internal/audit"
	"github.com/xkilldash9x/ghosthand/internal/bus"
	"github.com/xkilldash9x/ghosthand/internal/config"
	"github.com/xkilldash9x/ghosthand/internal/ghosthand"
	"github.com/xkilldash9x/ghosthand/internal/killswitch"
	"github.com/xkilldash9x/ghosthand/internal/observability"
	"github.com/xkilldash9x/ghosthand/internal/orchestrator"
	"github.com/xkilldash9x/ghosthand/internal/policy"
)

// Components is the process-wide context: every long-lived object, created once at
// startup and torn down on halt or normal shutdown.
type Components struct {
	Config       *config.Config
	Bus          *bus.PriorityDispatchBus
	Dispatcher   *bus.Dispatcher
	Policy       *policy.Engine
	KillSwitch   *killswitch.Switch
	Backend      ghosthand.Backend
	Hand         *ghosthand.Hand
	Orchestrator *orchestrator.Orchestrator
	Audit        audit.Sink
	Metrics      *observability.MetricsServer

	logger       *zap.Logger
	shutdownOnce sync.Once
}

// Run arms the emergency stop and runs the dispatcher (and metrics endpoint) until
// ctx is cancelled.
func (c *Components) Run(ctx context.Context) error {
	if err := c.KillSwitch.Start(ctx); err != nil {
		return fmt.Errorf("failed to arm emergency stop: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Dispatcher.Run(gctx) })
	if c.Metrics != nil {
		g.Go(func() error { return c.Metrics.Serve(gctx) })
	}
	return g.Wait()
}

// Shutdown releases everything in reverse construction order. It is safe to call on
// partially built components and more than once.
func (c *Components) Shutdown() {
	c.shutdownOnce.Do(func() {
		logger := c.logger
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Debug("Beginning components shutdown sequence.")

		if c.Metrics != nil {
			_ = c.Metrics.Close()
		}
		if c.KillSwitch != nil {
			if err := c.KillSwitch.Stop(); err != nil {
				logger.Warn("Error stopping emergency stop monitors.", zap.Error(err))
			}
		}
		if c.Bus != nil {
			c.Bus.Close()
		}
		if c.Backend != nil {
			if err := c.Backend.Close(); err != nil {
				logger.Warn("Error closing input backend.", zap.Error(err))
			}
		}
		if c.Audit != nil {
			if err := c.Audit.Close(); err != nil {
				logger.Warn("Error closing audit sink.", zap.Error(err))
			}
		}
		logger.Info("All components shut down.")
	})
}
