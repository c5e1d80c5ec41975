package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agent_dashboard/internal/model"
)

func newArchiveCmd(flags *rootFlags) *cobra.Command {
	var (
		olderThan time.Duration
		list      int
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move terminal tasks out of the live queue, or list archived ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if list > 0 {
				items, err := a.Archive.Recent(ctx, list)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			}

			if olderThan <= 0 {
				olderThan = time.Duration(a.Config.Archive.RetentionHours) * time.Hour
			}
			n, err := a.Queue.ArchiveTerminal(ctx, olderThan, func(tasks []model.TaskRecord) error {
				return a.Archive.Archive(ctx, tasks)
			})
			if err != nil {
				return err
			}
			a.Metrics.TasksArchived(n)
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d tasks\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "archive terminal tasks finished before now minus this (default: retention)")
	cmd.Flags().IntVar(&list, "list", 0, "list the N most recently archived tasks instead")
	return cmd
}
