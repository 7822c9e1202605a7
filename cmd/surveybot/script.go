package main

import (
	"fmt"
	"io"

	"github.com/HKUDS/surveybot-go/pkg/config"
	"github.com/HKUDS/surveybot-go/pkg/script"
	"github.com/spf13/cobra"
)

func scriptCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "script [path]",
		Short: "Validate a question script and print it",
		Long: `Loads the question script at path, or the one named in the config,
validates it and prints the normalized YAML. Without a script file the
built-in survey is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := config.LoadConfig(*configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				path = expandPath(cfg.Survey.ScriptPath)
			}
			return printScript(cmd.OutOrStdout(), path, len(args) == 1)
		},
	}
}

// printScript writes the validated script as YAML. When strict is set a
// missing file is an error instead of falling back to the built-in survey.
func printScript(out io.Writer, path string, strict bool) error {
	var (
		sc  *script.Script
		err error
	)
	if strict {
		sc, err = script.Load(path)
	} else {
		sc, err = script.LoadOrDefault(path)
	}
	if err != nil {
		return err
	}
	data, err := sc.Marshal()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
