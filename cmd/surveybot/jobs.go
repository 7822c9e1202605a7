package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/config"
	"github.com/HKUDS/surveybot-go/pkg/cron"
	"github.com/spf13/cobra"
)

func jobsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List scheduled survey restarts and campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := jobStore(*configPath)
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), svc.ListJobs())
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <job-id>",
		Short: "Cancel a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := jobStore(*configPath)
			if err != nil {
				return err
			}
			return removeJob(cmd.OutOrStdout(), svc, args[0])
		},
	})
	return cmd
}

func jobStore(configPath string) (*cron.Service, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cron.NewService(filepath.Join(expandPath(cfg.Workspace), "cron.json"), nil), nil
}

func removeJob(out io.Writer, svc *cron.Service, id string) error {
	if !svc.RemoveJob(id) {
		return fmt.Errorf("no job with id %q", id)
	}
	fmt.Fprintf(out, "Removed job %s\n", id)
	return nil
}

func printJobs(out io.Writer, jobs []cron.Job) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(out, "No scheduled jobs")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tNEXT RUN\tLAST STATUS")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Name, describeSchedule(job.Schedule), formatMs(job.State.NextRunAtMs), job.State.LastStatus)
	}
	return w.Flush()
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindAt:
		return "at " + formatMs(s.AtMs)
	case cron.KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case cron.KindCron:
		return "cron " + s.Expr
	}
	return s.Kind
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
