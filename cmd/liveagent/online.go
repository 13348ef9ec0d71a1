package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newOnlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "Check whether an agent is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			client := newClient(cfg, newLogger(cfg))

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()

			online, err := client.AgentOnline(ctx)
			if err != nil {
				return fmt.Errorf("checking agent availability: %w", err)
			}
			if online {
				fmt.Fprintln(cmd.OutOrStdout(), "An agent is online.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No agent is online right now.")
			}
			return nil
		},
	}
}
