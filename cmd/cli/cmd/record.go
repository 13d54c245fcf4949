package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [identifier]",
	Short: "Show a stored record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient()
		if err != nil {
			return err
		}

		rec, err := client.GetRecord(args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
}
