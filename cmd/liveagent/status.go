package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// statusTimeout bounds the status subcommand's backend round trip.
const statusTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the locally recorded chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()

			sessions, err := openSessionStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeQuietly(sessions.Backend())

			out := cmd.OutOrStdout()
			rec, ok := sessions.Load(ctx)
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if !ok {
					return enc.Encode(map[string]any{"session": nil})
				}
				return enc.Encode(map[string]any{"session": rec})
			}

			if !ok {
				fmt.Fprintln(out, "No chat session in progress.")
				return nil
			}
			fmt.Fprintf(out, "Session:      %s\n", rec.SessionID)
			fmt.Fprintf(out, "Status:       %s\n", rec.Status)
			fmt.Fprintf(out, "Last message: %d\n", rec.LastMessageID)
			fmt.Fprintf(out, "Updated:      %s\n", time.UnixMilli(rec.Timestamp).Format(time.RFC1123))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}
