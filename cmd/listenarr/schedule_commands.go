package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"listenarr/internal/api"
)

func newSchedulesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"schedule"},
		Short:   "Manage recurring job schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newScheduleListCommand(ctx))
	cmd.AddCommand(newScheduleToggleCommand(ctx, "enable", true))
	cmd.AddCommand(newScheduleToggleCommand(ctx, "disable", false))
	return cmd
}

func newScheduleListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var response api.ScheduleListResponse
			if err := ctx.getJSON(cmd.Context(), "/api/v1/schedules", &response); err != nil {
				return err
			}
			if len(response.Schedules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no schedules")
				return nil
			}
			rows := make([][]string, 0, len(response.Schedules))
			for _, schedule := range response.Schedules {
				rows = append(rows, []string{
					schedule.Name,
					schedule.JobType,
					schedule.CronExpression,
					yesNo(schedule.Enabled),
					formatTimePtr(schedule.LastRun),
					formatTimePtr(schedule.NextRun),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"NAME", "JOB", "CRON", "ENABLED", "LAST RUN", "NEXT RUN"}, rows))
			return nil
		},
	}
}

func newScheduleToggleCommand(ctx *commandContext, verb string, enabled bool) *cobra.Command {
	short := "Enable a schedule"
	if !enabled {
		short = "Disable a schedule"
	}
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/schedules/%s/%s", args[0], verb)
			if err := ctx.postJSON(cmd.Context(), path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schedule %s: %sd\n", args[0], verb)
			return nil
		},
	}
}
