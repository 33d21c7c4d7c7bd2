// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/internal/config"
	"github.com/xkilldash9x/ghosthand/internal/observability"
	"github.com/xkilldash9x/ghosthand/internal/service"
)

// Exit codes returned by ExitCode.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitHalted = 3
)

// rootOptions is the state shared by every subcommand of one invocation.
type rootOptions struct {
	cfgFile string
	factory service.ComponentFactory

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(service.NewComponentFactory())
}

func newRootCommand(factory service.ComponentFactory) *cobra.Command {
	opts := &rootOptions{factory: factory}
	root := &cobra.Command{
		Use:           "ghosthand",
		Short:         "Ghost Hand injects policy-checked mouse and keyboard input behind an emergency stop.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is "+config.DefaultPath+")")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newOverrideCmd(opts),
		newKillSwitchCmd(opts),
		newConfigCmd(opts),
		newAuditCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and sets up the global logger. Logs go to the
// command's stderr so stdout carries only command output.
func (o *rootOptions) load(cmd *cobra.Command) error {
	stderr := observability.WriterSyncer(cmd.ErrOrStderr())
	boot := observability.NewLogger(config.LoggerConfig{Level: "warn", Format: "console"}, stderr)

	cfg, err := config.Load(o.cfgFile, boot)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	observability.Initialize(cfg.Logger, stderr)
	o.cfg = cfg
	o.logger = observability.GetLogger()
	o.logger.Debug("Configuration loaded.", zap.String("version", Version), zap.Int("issues", len(cfg.Issues)))
	return nil
}

// skipConfig is used by commands that must not read or create the config file.
func skipConfig(*cobra.Command, []string) error { return nil }

// Execute runs the CLI with ctx, logging any failure.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
	}
	observability.Sync()
	return err
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitOK
	case errors.Is(err, service.ErrHalted):
		return ExitHalted
	default:
		return ExitError
	}
}
