package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ghosthand/internal/killswitch"
)

func newKillSwitchCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "killswitch",
		Short: "Interact with a running emergency stop",
	}

	var (
		viaFile bool
		viaUDP  bool
		path    string
		port    int
	)
	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Fire the emergency stop of a running ghosthand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if viaFile == viaUDP {
				return errors.New("choose exactly one of --file or --udp")
			}
			out := cmd.OutOrStdout()
			if viaFile {
				if path == "" {
					path = o.cfg.KillSwitch.FileTriggerPath
				}
				if path == "" {
					return errors.New("file trigger is disabled in the configuration")
				}
				if err := killswitch.TouchSentinel(path); err != nil {
					return err
				}
				fmt.Fprintf(out, "sentinel written: %s\n", path)
				return nil
			}
			if port == 0 {
				port = o.cfg.KillSwitch.NetworkTriggerPort
			}
			if port == 0 {
				return errors.New("network trigger is disabled in the configuration")
			}
			if err := killswitch.SendNetworkTrigger(cmd.Context(), port); err != nil {
				return err
			}
			fmt.Fprintf(out, "trigger sent to 127.0.0.1:%d\n", port)
			return nil
		},
	}
	trigger.Flags().BoolVar(&viaFile, "file", false, "create the sentinel file")
	trigger.Flags().BoolVar(&viaUDP, "udp", false, "send the stop token over UDP")
	trigger.Flags().StringVar(&path, "path", "", "sentinel path (default from config)")
	trigger.Flags().IntVar(&port, "port", 0, "UDP port (default from config)")

	cmd.AddCommand(trigger)
	return cmd
}
