package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "opticd",
	Short: "opticd - resource-aware AI assistant daemon for wearables",
	Long: `opticd answers text and vision queries through a local inference
backend while adapting to battery, thermal, and CPU pressure.

Run "opticd start" to launch the daemon, then use "opticd ask" and
"opticd scene" to talk to it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.Version = version

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sceneCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	})
}
