package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ghosthand/internal/audit"
)

func newAuditCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}

	var (
		follow bool
		kind   string
	)
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the JSONL audit file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			opts := audit.TailOptions{Follow: follow, Kind: audit.EntryKind(kind)}
			return audit.Tail(cmd.Context(), o.cfg.Audit.File.Path, opts, func(_ audit.Entry, raw string) error {
				_, err := fmt.Fprintln(out, raw)
				return err
			})
		},
	}
	tailCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new entries")
	tailCmd.Flags().StringVar(&kind, "kind", "", "only entries of this kind (validation_verdict, emergency_override, execution_result, kill_switch_event)")

	cmd.AddCommand(tailCmd)
	return cmd
}
