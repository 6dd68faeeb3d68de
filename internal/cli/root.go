// Package cli defines the cobra commands of the terminal chat widget.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	noColor    bool
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "chatwidget",
	Short: "Terminal chat widget for the travochat service",
	Long: `chatwidget resumes your stored identity, activates a chat session and
joins the shared conversation. Type a line to send it; /help lists commands.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return os.Setenv("TRAVOCHAT_CONFIG", configPath)
		}
		return nil
	},
	RunE: runChat,
}

// Execute runs the root command until it returns or the process is
// interrupted. Called from main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML or TOML config file (overrides TRAVOCHAT_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(forgetCmd)
}
