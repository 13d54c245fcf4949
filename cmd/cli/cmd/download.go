package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download [job_id]",
	Short: "Download the results or failed rows of a job",
	Long:  `Download the results CSV of a completed job, or with --failed the CSV of rows that could not be ingested. The file is written under the server's file name unless --output is given; --output - writes to stdout.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed, _ := cmd.Flags().GetBool("failed")
		output, _ := cmd.Flags().GetString("output")

		client, err := apiClient()
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		filename, err := client.Download(args[0], failed, &buf)
		if err != nil {
			return err
		}

		if output == "-" {
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return err
		}
		if output == "" {
			output = filename
		}
		if output == "" {
			return fmt.Errorf("server sent no file name, use --output")
		}
		if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		cmd.Printf("Saved %s (%d bytes)\n", output, buf.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().Bool("failed", false, "Download the failed rows instead of the results")
	downloadCmd.Flags().StringP("output", "o", "", "Output path, - for stdout")
}
