package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/karmgyan/internal/api"
)

var version = "dev"

var (
	noColor  bool
	userFlag string
)

var rootCmd = &cobra.Command{
	Use:           "karmgyan",
	Short:         "AI astrology service: questions and reports over a birth chart, paid in credits",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "user id sent as X-User-ID (default: anonymous)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(askCmd, reportCmd, creditsCmd, conversationCmd)
	rootCmd.AddCommand(configCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// userID resolves the identity for client commands.
func userID() string {
	if userFlag != "" {
		return userFlag
	}
	if u := os.Getenv("KARMGYAN_USER"); u != "" {
		return u
	}
	return api.AnonymousUser
}
