// expkit: AI-assisted experience report editing.
//
// Usage:
//
//	expkit diff a.txt b.txt        # word diff of two texts
//	expkit classify a.txt b.txt    # how big is the edit
//	expkit enrich report.txt       # enrich a report and show its segments
//	expkit watch report.txt        # live-edit a report file
//	expkit serve                   # HTTP + websocket API
//	expkit reports                 # list saved reports
//	expkit version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	configPath string
	verbose    bool
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "expkit",
		Short:         "AI-assisted experience report editing",
		Long:          "expkit enriches experience reports with AI, tracks which words came from the AI, and decides when an edit is big enough to re-run the analysis.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default: .expkit.yaml, .expkit.toml, ~/.expkit.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(classifyCmd(&flags))
	rootCmd.AddCommand(enrichCmd(&flags))
	rootCmd.AddCommand(watchCmd(&flags))
	rootCmd.AddCommand(serveCmd(&flags))
	rootCmd.AddCommand(reportsCmd(&flags))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "expkit %s\n", version)
		},
	}
}
