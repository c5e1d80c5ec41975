package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the dashboard state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Projection.GetDashboardState(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}

			out := cmd.OutOrStdout()
			h := st.QueueHealth
			fmt.Fprintf(out, "profiles %d, active %d, pending %d, running %d, completed %d, failed %d\n",
				st.Summary.TotalProfiles, st.Summary.ActiveCount, h.Pending, h.Running, h.Completed, h.Failed)
			if len(st.ActiveInstances) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROFILE\tSTATUS\tELAPSED\tPROGRESS\tSTALE")
			for _, in := range st.ActiveInstances {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%v\n", in.ID, in.ProfileID, in.Status, in.Elapsed, in.Progress, in.IsStale)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full projection as JSON")
	return cmd
}
