package main

import (
	"github.com/spf13/cobra"
)

func NewRelockCommand() *cobra.Command {
	cmd := newEnableDisableCommand(
		"relock",
		"automatic relocking",
		`Automatic relocking.

When enabled, the daemon checks the lockbox regularly once it holds in its last
stage, and reruns the lock sequence if the inputs show it fell out of lock.
Relocking stops after too many attempts in a short time.`,
		func() error {
			_, err := apiClient.SetAutoRelock(lockboxName, true)
			return err
		},
		func() error {
			_, err := apiClient.SetAutoRelock(lockboxName, false)
			return err
		},
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Show recent relocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := apiClient.GetRelocks(lockboxName)
			if err != nil {
				return err
			}
			cmd.Printf("Relocks in the last window: %s\n", bold("%d", h.Recent))
			for _, r := range h.Records {
				cmd.Printf("  - %s\n", r)
			}
			return nil
		},
	})

	return cmd
}
