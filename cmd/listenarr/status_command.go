package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"listenarr/internal/daemon"
	"listenarr/internal/requests"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and pipeline summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status daemon.Status
			if err := ctx.getJSON(cmd.Context(), "/api/v1/status", &status); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func printStatus(w io.Writer, status daemon.Status) {
	colorize := shouldColorize(w)

	running := "stopped"
	color := ansiRed
	if status.Running {
		running = "running"
		color = ansiGreen
	}
	fmt.Fprintf(w, "Daemon:    %s\n", colored(running, color, colorize))
	fmt.Fprintf(w, "Database:  %s\n", status.DatabasePath)
	fmt.Fprintln(w)

	summary := status.Requests
	fmt.Fprintf(w, "Requests:  %d total, %d active, %d available, %s, %s\n",
		summary.Total, summary.Active, summary.Available,
		colored(fmt.Sprintf("%d failed", summary.Failed), failColor(summary.Failed), colorize),
		colored(fmt.Sprintf("%d warn", summary.Warn), warnColor(summary.Warn), colorize))
	if summary.AwaitingOK > 0 {
		fmt.Fprintf(w, "           %d awaiting approval\n", summary.AwaitingOK)
	}

	if len(status.Jobs) > 0 {
		keys := make([]string, 0, len(status.Jobs))
		for key := range status.Jobs {
			keys = append(keys, string(key))
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%d %s", status.Jobs[jobStatusKey(key)], key))
		}
		fmt.Fprintf(w, "Jobs:      %s\n", strings.Join(parts, ", "))
	}

	if len(status.Schedules) > 0 {
		fmt.Fprintln(w)
		rows := make([][]string, 0, len(status.Schedules))
		for _, schedule := range status.Schedules {
			rows = append(rows, []string{
				schedule.Name,
				schedule.CronExpression,
				yesNo(schedule.Enabled),
				formatTimePtr(schedule.LastRun),
				formatTimePtr(schedule.NextRun),
			})
		}
		fmt.Fprintln(w, renderTable([]string{"SCHEDULE", "CRON", "ENABLED", "LAST RUN", "NEXT RUN"}, rows))
	}
}

func jobStatusKey(value string) requests.JobStatus {
	return requests.JobStatus(value)
}

func formatTimePtr(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return value.Local().Format("2006-01-02 15:04")
}

func colored(value, color string, colorize bool) string {
	if !colorize || color == "" {
		return value
	}
	return color + value + ansiReset
}

func failColor(count int) string {
	if count > 0 {
		return ansiRed
	}
	return ""
}

func warnColor(count int) string {
	if count > 0 {
		return ansiYellow
	}
	return ""
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
