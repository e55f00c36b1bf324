package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"listenarr/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List background jobs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/jobs"
			if len(statuses) > 0 {
				values := url.Values{}
				for _, status := range statuses {
					values.Add("status", status)
				}
				path += "?" + values.Encode()
			}
			var response api.JobListResponse
			if err := ctx.getJSON(cmd.Context(), path, &response); err != nil {
				return err
			}
			if len(response.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}
			rows := make([][]string, 0, len(response.Jobs))
			for _, job := range response.Jobs {
				rows = append(rows, []string{
					shortJobID(job.ID),
					job.Type,
					job.Status,
					fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
					formatJobAge(job.CreatedAt),
					job.Error,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"ID", "TYPE", "STATUS", "ATTEMPTS", "AGE", "ERROR"}, rows, 4))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by job status (repeatable)")
	return cmd
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatJobAge(created time.Time) string {
	age := time.Since(created)
	switch {
	case age < time.Minute:
		return strconv.Itoa(int(age.Seconds())) + "s"
	case age < time.Hour:
		return strconv.Itoa(int(age.Minutes())) + "m"
	case age < 24*time.Hour:
		return strconv.Itoa(int(age.Hours())) + "h"
	default:
		return strconv.Itoa(int(age.Hours()/24)) + "d"
	}
}
