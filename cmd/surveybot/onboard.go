package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/HKUDS/surveybot-go/pkg/config"
	"github.com/HKUDS/surveybot-go/pkg/script"
	"github.com/spf13/cobra"
)

func onboardCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Write a default config, question script and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard(cmd.OutOrStdout(), dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", configDir, "Directory to create")
	return cmd
}

// onboard creates dir with config.json, survey.yaml and a workspace.
// Existing files are left alone.
func onboard(out io.Writer, dir string) error {
	workspace := filepath.Join(dir, "workspace")
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Fprintf(out, "Workspace at %s\n", workspace)

	scriptPath := filepath.Join(dir, "survey.yaml")
	if _, err := os.Stat(scriptPath); os.IsNotExist(err) {
		data, err := script.Default().Marshal()
		if err != nil {
			return err
		}
		if err := os.WriteFile(scriptPath, data, 0644); err != nil {
			return fmt.Errorf("write survey script: %w", err)
		}
		fmt.Fprintf(out, "Created survey script at %s\n", scriptPath)
	} else {
		fmt.Fprintf(out, "Survey script already exists at %s\n", scriptPath)
	}

	configFile := filepath.Join(dir, "config.json")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		cfg.Workspace = workspace
		cfg.Survey.ScriptPath = scriptPath
		if err := cfg.Save(configFile); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config file at %s\n", configFile)
	} else {
		fmt.Fprintf(out, "Config file already exists at %s\n", configFile)
	}

	fmt.Fprintf(out, "Onboarding complete! Enable a channel in %s to start surveying.\n", configFile)
	return nil
}
