package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/audit"
	"github.com/xkilldash9x/ghosthand/internal/ghosthand"
	"github.com/xkilldash9x/ghosthand/internal/policy"
	"github.com/xkilldash9x/ghosthand/internal/service"
)

const overrideOrigin = "break-glass"

// The override path lives only here: nothing on the bus can reach BreakGlass.
func newOverrideCmd(o *rootOptions) *cobra.Command {
	var (
		code     string
		operator string
		execute  bool
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "override <description>",
		Short: "Authorize an action with a break-glass override code",
		Long: `Bypasses the policy gates for one action when given a configured override code.
Every attempt is audited with the emergency override flag, whether or not the
code is accepted. With --execute an authorized action is injected immediately,
still behind the emergency stop.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			description := strings.Join(args, " ")
			req, err := schemas.NewActionRequest(description, overrideOrigin)
			if err != nil {
				return err
			}
			vc := policy.Context{RequestID: req.ID, Origin: overrideOrigin}

			if !execute {
				sink, err := service.NewAuditSink(ctx, o.cfg.Audit, o.logger)
				if err != nil {
					return err
				}
				defer sink.Close()
				engine, err := policy.NewEngine(o.cfg.Policy, sink, o.logger)
				if err != nil {
					return fmt.Errorf("failed to initialize policy engine: %w", err)
				}
				verdict, err := policy.NewBreakGlass(engine).Authorize(ctx, description, vc, code, operator)
				if perr := printJSON(cmd, verdict); perr != nil {
					return perr
				}
				return err
			}

			components, err := o.factory.Create(ctx, o.cfg, service.Options{DryRun: dryRun}, o.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			verdict, err := policy.NewBreakGlass(components.Policy).Authorize(ctx, description, vc, code, operator)
			if perr := printJSON(cmd, verdict); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			return executeOverride(ctx, cmd, components, req, o.logger)
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "break-glass override code")
	cmd.Flags().StringVar(&operator, "operator", "", "name of the person authorizing the override")
	cmd.Flags().BoolVar(&execute, "execute", false, "inject the action once authorized")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "with --execute, record input instead of injecting it")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

// executeOverride arms the emergency stop and injects one authorized request.
func executeOverride(ctx context.Context, cmd *cobra.Command, c *service.Components, req schemas.ActionRequest, logger *zap.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := c.KillSwitch.Start(runCtx); err != nil {
		return fmt.Errorf("failed to arm emergency stop: %w", err)
	}

	res := schemas.ExecutionResult{RequestID: req.ID, Kind: req.Kind, StartedAt: time.Now().UTC()}
	exec, err := req.Executable()
	if err != nil {
		return fmt.Errorf("override authorized but action is not executable: %w", err)
	}
	progress, err := c.Hand.Execute(runCtx, exec)
	res.FinishedAt = time.Now().UTC()
	res.StepsApplied, res.StepsPlanned = progress.Applied, progress.Planned
	switch {
	case err == nil:
		res.Status, res.Success = schemas.StatusCompleted, true
	case errors.Is(err, ghosthand.ErrHalted):
		res.Status, res.ErrorKind, res.Error = schemas.StatusHalted, "halted", err.Error()
	default:
		res.Status, res.ErrorKind, res.Error = schemas.StatusCompleted, ghosthand.ErrorKindOf(err), err.Error()
	}

	if entry, aerr := audit.FromPayload(res); aerr == nil {
		if aerr := c.Audit.Append(ctx, entry); aerr != nil {
			logger.Error("Failed to audit override execution.", zap.Error(aerr))
		}
	}
	if perr := printJSON(cmd, res); perr != nil {
		return perr
	}
	if res.Status == schemas.StatusHalted {
		return service.ErrHalted
	}
	return err
}
