package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List upload jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		skip, _ := cmd.Flags().GetInt("skip")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := apiClient()
		if err != nil {
			return err
		}

		list, err := client.ListJobs(skip, limit)
		if err != nil {
			return err
		}
		if len(list.Jobs) == 0 {
			cmd.Println("No upload jobs found.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tROWS\tCREATED")
		for _, job := range list.Jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				job.ID, job.Filename, job.Status, formatRows(job), relativeTime(job.CreatedAt)+" ago")
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsCmd.Flags().Int("skip", 0, "Number of jobs to skip")
	jobsCmd.Flags().Int("limit", 100, "Maximum number of jobs to list")
}
