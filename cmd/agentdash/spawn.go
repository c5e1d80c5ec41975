package main

import (
	"github.com/spf13/cobra"

	"agent_dashboard/internal/service"
)

func newSpawnCmd(flags *rootFlags) *cobra.Command {
	var req service.SpawnRequest
	cmd := &cobra.Command{
		Use:   "spawn <profileId> <taskDescription>",
		Short: "Enqueue a task for a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			req.ProfileID = args[0]
			req.TaskDescription = args[1]
			res, err := a.Service.Spawn(cmd.Context(), req, "")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Task)
		},
	}
	cmd.Flags().StringVar(&req.Label, "label", "", "display label (defaults to the profile name)")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "task priority (defaults to the profile priority)")
	return cmd
}
