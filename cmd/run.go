package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/internal/service"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	var (
		requests string
		dryRun   bool
		origin   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pipeline and execute action requests",
		Long: `Reads one request per line from stdin or --requests. A line starting with '{'
is an ActionRequest in JSON; any other line is a plain action description such as
"move to (120,340)". Every verdict, result and emergency stop event is printed to
stdout as a JSON line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := o.logger

			var in io.Reader = cmd.InOrStdin()
			if requests != "" && requests != "-" {
				f, err := os.Open(requests)
				if err != nil {
					return fmt.Errorf("failed to open requests: %w", err)
				}
				defer f.Close()
				in = f
			}

			components, err := o.factory.Create(ctx, o.cfg, service.Options{DryRun: dryRun}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			runErr := make(chan error, 1)
			go func() {
				err := components.Run(runCtx)
				// A failed pipeline must not leave RunRequests waiting for results.
				cancel()
				runErr <- err
			}()

			sum, err := service.RunRequests(runCtx, components, in, cmd.OutOrStdout(), origin)
			cancel()
			if rerr := <-runErr; rerr != nil {
				return rerr
			}

			logger.Info("Run finished.",
				zap.Int("submitted", sum.Submitted),
				zap.Int("completed", sum.Completed),
				zap.Int("failed", sum.Failed),
				zap.Int("denied", sum.Denied),
				zap.Int("halted", sum.Halted),
				zap.Int("rejected", sum.Rejected))
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				logger.Warn("Run interrupted.")
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&requests, "requests", "r", "", "file of requests, one per line (default stdin)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record input instead of injecting it")
	cmd.Flags().StringVar(&origin, "origin", "cli", "origin recorded on plain-text requests")
	return cmd
}
