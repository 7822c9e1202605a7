package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const (
	appName   = "surveybot"
	configDir = ".surveybot"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Employee happiness survey bot",
		Long: `surveybot runs a scripted happiness survey over chat platforms
(Telegram, Discord, Feishu, DingTalk and Workplace) and tracks every
conversation as a survey with its answers.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (JSON)")

	cmd.AddCommand(serveCmd(&configPath))
	cmd.AddCommand(onboardCmd())
	cmd.AddCommand(scriptCmd(&configPath))
	cmd.AddCommand(jobsCmd(&configPath))
	return cmd
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
