// File: cmd/accelctl/ping.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-accel/engine/knapp"
	"github.com/spf13/cobra"
)

func newPingCmd(root *rootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ping [message]",
		Short: "Round-trip PING requests to the remote coprocessor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			msg := "hello world"
			if len(args) == 1 {
				msg = args[0]
			}
			c, err := knapp.Dial(cfg.Knapp.RemoteAddr, 0, 0, cfg.Knapp)
			if err != nil {
				return err
			}
			defer c.Close()
			for i := 0; i < count; i++ {
				start := time.Now()
				reply, err := c.Ping(msg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %q in %s\n", cfg.Knapp.RemoteAddr, reply, time.Since(start))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of requests")
	return cmd
}
