package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "doppel",
	Short: "A conversational agent with long-term memory",
	Long:  "Doppel is a personal digital twin: a conversational agent that remembers what you tell it and answers in your voice. Single Go binary backed by SQLite.",
}

// Flags shared across memory subcommands.
var (
	flagConfig string
	flagOwner  string
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagOwner, "owner", "default", "owner id scoping memories")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(statsCmd)
}
