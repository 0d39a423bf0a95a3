// Package cmd provides the command-line interface of nachosvm.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nachosvm",
	Short: "nachosvm runs user programs on a demand-paged virtual memory kernel.",
	Long: `nachosvm runs user programs on a demand-paged virtual memory ` +
		`kernel. It can inspect NOFF executables, run them while recording ` +
		`or serving the paging activity, and summarize recordings.`,
}

func init() {
	rootCmd.PersistentFlags().StringSlice("env", nil,
		"Env files to read the configuration from.")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
