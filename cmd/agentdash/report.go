package main

import (
	"github.com/spf13/cobra"

	"agent_dashboard/internal/model"
)

func newReportCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report task progress on behalf of the execution process",
	}
	cmd.AddCommand(newReportStatusCmd(flags), newReportHeartbeatCmd(flags))
	return cmd
}

func newReportStatusCmd(flags *rootFlags) *cobra.Command {
	var errMsg string
	cmd := &cobra.Command{
		Use:   "status <taskId> <status>",
		Short: "Move a task to RUNNING, COMPLETED or FAILED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := model.ParseTaskStatus(args[1])
			if err != nil {
				return err
			}
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.Service.ReportStatus(cmd.Context(), args[0], status, errMsg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), task)
		},
	}
	cmd.Flags().StringVar(&errMsg, "error", "", "failure message for FAILED")
	return cmd
}

func newReportHeartbeatCmd(flags *rootFlags) *cobra.Command {
	var (
		step     string
		progress int
	)
	cmd := &cobra.Command{
		Use:   "heartbeat <taskId>",
		Short: "Stamp a heartbeat with the current step and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Service.ReportHeartbeat(cmd.Context(), args[0], step, progress)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"profileId":     rec.ProfileID,
				"lastHeartbeat": rec.LastHeartbeat,
				"currentStep":   rec.CurrentStep,
				"progress":      rec.Progress,
			})
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "current step")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percentage, clamped to 0..100")
	return cmd
}
