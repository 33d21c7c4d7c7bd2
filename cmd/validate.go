package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ghosthand/internal/policy"
	"github.com/xkilldash9x/ghosthand/internal/service"
)

func newValidateCmd(o *rootOptions) *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "validate <description>",
		Short: "Print the policy verdict for an action description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sink, err := service.NewAuditSink(ctx, o.cfg.Audit, o.logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			engine, err := policy.NewEngine(o.cfg.Policy, sink, o.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize policy engine: %w", err)
			}
			verdict := engine.Validate(ctx, strings.Join(args, " "), policy.Context{Origin: origin})
			return printJSON(cmd, verdict)
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "cli", "origin passed to the policy rules")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
