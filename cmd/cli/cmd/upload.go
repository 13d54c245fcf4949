package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload a CSV or Excel file for ingestion",
	Long: `Upload a .csv, .xlsx or .xls file and process every row against the given
templates, in order. The first template's column mapping shapes the stored
record. With --wait the command polls until the job reaches a final state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slugs, _ := cmd.Flags().GetStringSlice("template")
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("poll-interval")

		if len(slugs) == 0 {
			return fmt.Errorf("at least one --template is required")
		}

		client, err := apiClient()
		if err != nil {
			return err
		}

		resp, err := client.Upload(args[0], slugs)
		if err != nil {
			return err
		}
		cmd.Printf("Upload accepted. Job ID: %s (%s)\n", resp.JobID, resp.Status)

		if !wait {
			return nil
		}
		for {
			job, err := client.GetJob(resp.JobID)
			if err != nil {
				return err
			}
			if job.Status == "completed" || job.Status == "failed" {
				printStatus(cmd, *job)
				if job.Status == "failed" {
					return fmt.Errorf("job %s failed", job.ID)
				}
				return nil
			}
			time.Sleep(interval)
		}
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringSliceP("template", "T", nil, "Template slug (repeatable, order matters)")
	uploadCmd.Flags().BoolP("wait", "w", false, "Wait for the job to finish")
	uploadCmd.Flags().Duration("poll-interval", 2*time.Second, "Polling interval with --wait")
}
