package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "templrctl",
	Short: "templrctl uploads tabular data to templr and inspects the results",
	Long: `templrctl is the command-line interface for templr, a bulk data ingestion
service that turns spreadsheet rows into addressable records rendered through
templates.

Common workflows:

  Upload a file against one or more templates and wait for the result:
    templrctl upload people.xlsx --template invoice --template receipt --wait

  Check a job and list recent ones:
    templrctl status <job-id>
    templrctl jobs --limit 20

  Fetch the results or the failed rows:
    templrctl download <job-id> -o processed.csv
    templrctl download <job-id> --failed

  Look up a record:
    templrctl record <identifier>

  Process a file locally without a controller:
    templrctl ingest people.csv --schemas templates.yaml --template invoice --out ./out

Configuration:
  Set the API endpoint and owner via flags, environment variables or a config file:
    TEMPLR_URL      API endpoint (default: http://localhost:6161)
    TEMPLR_OWNER    Owner id sent as X-Owner-ID`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".templrctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".templrctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "TEMPLR_VARNAME"
	viper.SetEnvPrefix("TEMPLR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// apiClient builds a client from the resolved configuration.
func apiClient() (*Client, error) {
	owner := viper.GetString("owner")
	if owner == "" {
		return nil, fmt.Errorf("owner id not found, set it with --owner or TEMPLR_OWNER")
	}
	return NewClient(viper.GetString("url"), owner), nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.templrctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "templr controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().String("owner", "", "Owner id sent with every request")
	viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}
